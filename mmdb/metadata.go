package mmdb

import (
	"bytes"
	"fmt"
	"time"
)

var metadataMarker = []byte("\xab\xcd\xefMaxMind.com")

const (
	// metadataMaxSize limits how far from the end of a file the
	// metadata marker is searched for.
	metadataMaxSize = 128 * 1024

	dataSectionSeparatorSize = 16
)

// Metadata describes a single database generation: a shape of its
// search tree and a provenance of its build.
type Metadata struct {
	BinaryFormatMajorVersion uint
	BinaryFormatMinorVersion uint
	NodeCount                uint
	RecordSize               uint
	IPVersion                uint
	BuildEpoch               uint64
	DatabaseType             string
	Languages                []string
	Description              map[string]string
}

// BuildTime returns a build timestamp of the database.
func (m Metadata) BuildTime() time.Time {
	return time.Unix(int64(m.BuildEpoch), 0).UTC()
}

// TreeLength returns a byte length of the search tree. Each node
// stores 2 records of RecordSize bits each.
func (m Metadata) TreeLength() uint {
	return m.NodeCount * m.RecordSize / 4
}

// DataSectionStart returns an offset of the data section within the
// file: the tree plus a 16-byte separator.
func (m Metadata) DataSectionStart() uint {
	return m.TreeLength() + dataSectionSeparatorSize
}

func (m Metadata) validate(fileSize uint, metadataStart uint) error {
	switch m.RecordSize {
	case 24, 28, 32:
	default:
		return fmt.Errorf("unsupported record size %d: %w", m.RecordSize, ErrCorruptDatabase)
	}

	switch m.IPVersion {
	case 4, 6:
	default:
		return fmt.Errorf("unsupported ip version %d: %w", m.IPVersion, ErrCorruptDatabase)
	}

	if m.NodeCount == 0 {
		return fmt.Errorf("node count is zero: %w", ErrCorruptDatabase)
	}

	if m.BuildEpoch == 0 {
		return fmt.Errorf("build epoch is not set: %w", ErrCorruptDatabase)
	}

	if m.DataSectionStart() > metadataStart || metadataStart > fileSize {
		return fmt.Errorf("implied tree length %d does not fit the file: %w",
			m.TreeLength(),
			ErrCorruptDatabase)
	}

	return nil
}

// readMetadata finds the last occurrence of the metadata marker within
// the trailing block of the buffer and decodes the mapping after it.
// It returns parsed metadata and an offset where the marker starts.
func readMetadata(buffer []byte) (*Metadata, uint, error) {
	searchFrom := 0
	if len(buffer) > metadataMaxSize {
		searchFrom = len(buffer) - metadataMaxSize
	}

	markerAt := bytes.LastIndex(buffer[searchFrom:], metadataMarker)
	if markerAt < 0 {
		return nil, 0, ErrNoMetadata
	}

	markerAt += searchFrom
	mappingStart := markerAt + len(metadataMarker)

	value, _, err := decoder{buffer: buffer[mappingStart:]}.decode(0)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot decode a metadata mapping: %w", err)
	}

	mapping, ok := value.(map[string]interface{})
	if !ok {
		return nil, 0, fmt.Errorf("metadata is not a mapping: %w", ErrCorruptDatabase)
	}

	meta := &Metadata{}
	if err := meta.populate(mapping); err != nil {
		return nil, 0, err
	}

	return meta, uint(markerAt), nil
}

func (m *Metadata) populate(mapping map[string]interface{}) error {
	required := []struct {
		key    string
		target *uint
	}{
		{"binary_format_major_version", &m.BinaryFormatMajorVersion},
		{"binary_format_minor_version", &m.BinaryFormatMinorVersion},
		{"node_count", &m.NodeCount},
		{"record_size", &m.RecordSize},
		{"ip_version", &m.IPVersion},
	}

	for _, v := range required {
		number, ok := asUint(mapping[v.key])
		if !ok {
			return fmt.Errorf("metadata field %s is absent or malformed: %w",
				v.key,
				ErrCorruptDatabase)
		}

		*v.target = uint(number)
	}

	epoch, ok := asUint(mapping["build_epoch"])
	if !ok {
		return fmt.Errorf("metadata field build_epoch is absent or malformed: %w",
			ErrCorruptDatabase)
	}

	m.BuildEpoch = epoch

	if databaseType, ok := mapping["database_type"].(string); ok {
		m.DatabaseType = databaseType
	}

	if languages, ok := mapping["languages"].([]interface{}); ok {
		for _, v := range languages {
			if language, ok := v.(string); ok {
				m.Languages = append(m.Languages, language)
			}
		}
	}

	if description, ok := mapping["description"].(map[string]interface{}); ok {
		m.Description = make(map[string]string, len(description))

		for k, v := range description {
			if text, ok := v.(string); ok {
				m.Description[k] = text
			}
		}
	}

	return nil
}

func asUint(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	}

	return 0, false
}
