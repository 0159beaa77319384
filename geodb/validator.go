package geodb

import (
	"github.com/juju/errors"
	"github.com/spf13/afero"

	"github.com/pinpoint-geo/pinpoint/mmdb"
)

const (
	// DefaultMinFileSize protects against empty or truncated
	// downloads. The vendor database is a couple dozen megabytes.
	DefaultMinFileSize = 1024 * 1024

	// DefaultMinSizeRatio guards against a silently truncated file
	// which is still bigger than the absolute floor: a candidate
	// must not shrink below this fraction of the active generation.
	DefaultMinSizeRatio = 0.5
)

// Validator decides whether a freshly downloaded file may become a
// generation. Checks run in order and short-circuit on the first
// failure; a failed candidate is discarded by the caller and the
// active generation keeps serving.
type Validator struct {
	fs           afero.Fs
	minFileSize  int64
	minSizeRatio float64
}

// NewValidator builds a validator over the data directory filesystem.
// Zero minFileSize and minSizeRatio select the defaults.
func NewValidator(fs afero.Fs, minFileSize int64, minSizeRatio float64) Validator {
	if minFileSize <= 0 {
		minFileSize = DefaultMinFileSize
	}

	if minSizeRatio <= 0 {
		minSizeRatio = DefaultMinSizeRatio
	}

	return Validator{
		fs:           fs,
		minFileSize:  minFileSize,
		minSizeRatio: minSizeRatio,
	}
}

// Validate inspects a candidate file and returns an opened reader for
// it. activeSize is a size of the currently active generation, 0 when
// none exists yet.
func (v Validator) Validate(path string, activeSize int64) (*mmdb.Reader, error) {
	stat, err := v.fs.Stat(path)
	if err != nil {
		return nil, errors.Annotate(err, "cannot stat a candidate file")
	}

	if stat.Size() < v.minFileSize {
		return nil, errors.Errorf("file size %d is below the floor of %d bytes",
			stat.Size(),
			v.minFileSize)
	}

	if activeSize > 0 && float64(stat.Size()) < v.minSizeRatio*float64(activeSize) {
		return nil, errors.Errorf(
			"file size %d is suspiciously small against the active generation size %d",
			stat.Size(),
			activeSize)
	}

	buffer, err := afero.ReadFile(v.fs, path)
	if err != nil {
		return nil, errors.Annotate(err, "cannot read a candidate file")
	}

	reader, err := mmdb.FromBytes(buffer)
	if err != nil {
		return nil, errors.Annotate(err, "candidate file is not a valid database")
	}

	return reader, nil
}
