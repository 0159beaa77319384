package geodb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack"
)

const (
	// DefaultRetentionLimit is how many generations stay on disk.
	// The limit is policy, not protocol: it is exposed as
	// configuration.
	DefaultRetentionLimit = 3

	generationSuffix     = ".mmdb"
	generationTimeLayout = "20060102-150405"

	// activePointerName is a small file whose contents name the
	// active generation. It is replaced via write-then-rename so a
	// crash mid-update leaves it pointing at the last known-good
	// file.
	activePointerName = "active"

	manifestName = "manifest.bin"
)

// RetentionEntry describes one on-disk generation.
type RetentionEntry struct {
	Timestamp time.Time `msgpack:"timestamp"`
	FileName  string    `msgpack:"file_name"`
	SizeBytes int64     `msgpack:"size_bytes"`
	Active    bool      `msgpack:"active"`
}

// Store tracks database generations within the data directory. All
// mutations happen on the single updater task, so Store does no
// locking of its own.
type Store struct {
	fs    afero.Fs
	limit int

	// newest first.
	entries []RetentionEntry
}

// NewStore opens a store over the data directory. Bookkeeping is
// reconstructed from directory contents, the msgpack manifest is
// only a cache of it: a missing or stale manifest is not an error.
func NewStore(fs afero.Fs, limit int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultRetentionLimit
	}

	store := &Store{
		fs:    fs,
		limit: limit,
	}

	if err := store.rescan(); err != nil {
		return nil, fmt.Errorf("cannot scan the data directory: %w", err)
	}

	return store, nil
}

// Active returns a file name of the active generation.
func (s *Store) Active() (string, bool) {
	for _, v := range s.entries {
		if v.Active {
			return v.FileName, true
		}
	}

	return "", false
}

// Has tells if a generation with the given file name is retained.
func (s *Store) Has(fileName string) bool {
	for _, v := range s.entries {
		if v.FileName == fileName {
			return true
		}
	}

	return false
}

// Entries returns a copy of the bookkeeping, newest first.
func (s *Store) Entries() []RetentionEntry {
	rv := make([]RetentionEntry, len(s.entries))
	copy(rv, s.entries)

	return rv
}

// GenerationFileName derives an on-disk name from a build timestamp.
func GenerationFileName(ts time.Time) string {
	return ts.UTC().Format(generationTimeLayout) + generationSuffix
}

// Commit renames a validated candidate into its final
// timestamp-derived name and records it as a not-yet-active entry.
// The candidate never overwrites an existing generation.
func (s *Store) Commit(candidatePath string, ts time.Time, size int64) (string, error) {
	fileName := GenerationFileName(ts)

	if s.Has(fileName) {
		return "", fmt.Errorf("generation %s is already retained", fileName)
	}

	if err := s.fs.Rename(candidatePath, fileName); err != nil {
		return "", fmt.Errorf("cannot move a candidate into place: %w", err)
	}

	s.entries = append(s.entries, RetentionEntry{
		Timestamp: ts.UTC(),
		FileName:  fileName,
		SizeBytes: size,
	})
	s.sortEntries()
	s.saveManifest()

	return fileName, nil
}

// Promote marks a recorded generation active and demotes the previous
// one. The active pointer file is replaced atomically.
func (s *Store) Promote(fileName string) error {
	if !s.Has(fileName) {
		return fmt.Errorf("generation %s is not retained", fileName)
	}

	tmpName := activePointerName + ".tmp"

	if err := afero.WriteFile(s.fs, tmpName, []byte(fileName), 0666); err != nil {
		return fmt.Errorf("cannot write an active pointer: %w", err)
	}

	if err := s.fs.Rename(tmpName, activePointerName); err != nil {
		return fmt.Errorf("cannot replace an active pointer: %w", err)
	}

	for i := range s.entries {
		s.entries[i].Active = s.entries[i].FileName == fileName
	}

	s.saveManifest()

	return nil
}

// Prune deletes generations beyond the retention limit, oldest first.
// The active generation is never deleted even if it is the oldest
// one. Returns names of the deleted files.
func (s *Store) Prune() ([]string, error) {
	if len(s.entries) <= s.limit {
		return nil, nil
	}

	deleted := []string{}
	kept := make([]RetentionEntry, 0, s.limit)
	budget := s.limit

	// entries go newest first, so everything beyond the budget is
	// the oldest tail.
	for _, v := range s.entries {
		if v.Active || budget > 0 {
			kept = append(kept, v)

			if budget > 0 {
				budget--
			}

			continue
		}

		if err := s.fs.Remove(v.FileName); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("cannot delete %s: %w", v.FileName, err)
		}

		deleted = append(deleted, v.FileName)
	}

	s.entries = kept
	s.saveManifest()

	return deleted, nil
}

// CleanCandidates removes leftover temporary files of interrupted
// downloads. Called once at startup.
func (s *Store) CleanCandidates() error {
	infos, err := afero.ReadDir(s.fs, ".")
	if err != nil {
		return fmt.Errorf("cannot read the data directory: %w", err)
	}

	for _, v := range infos {
		if v.IsDir() || !strings.HasPrefix(v.Name(), candidatePrefix) {
			continue
		}

		if err := s.fs.Remove(v.Name()); err != nil {
			return fmt.Errorf("cannot delete a stale candidate %s: %w", v.Name(), err)
		}
	}

	return nil
}

func (s *Store) rescan() error {
	entries := []RetentionEntry{}

	infos, err := afero.ReadDir(s.fs, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, v := range infos {
		if v.IsDir() || filepath.Ext(v.Name()) != generationSuffix {
			continue
		}

		base := strings.TrimSuffix(v.Name(), generationSuffix)

		ts, err := time.Parse(generationTimeLayout, base)
		if err != nil {
			// not a generation file, leave it alone.
			continue
		}

		entries = append(entries, RetentionEntry{
			Timestamp: ts,
			FileName:  v.Name(),
			SizeBytes: v.Size(),
		})
	}

	activeName := ""
	if content, err := afero.ReadFile(s.fs, activePointerName); err == nil {
		activeName = strings.TrimSpace(string(content))
	}

	for i := range entries {
		entries[i].Active = entries[i].FileName == activeName
	}

	s.entries = entries
	s.sortEntries()
	s.saveManifest()

	return nil
}

func (s *Store) sortEntries() {
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].Timestamp.After(s.entries[j].Timestamp)
	})
}

// saveManifest dumps the bookkeeping for external diagnostic tooling
// and faster crash diagnosis. The directory itself stays
// authoritative and nothing in the service reads the manifest back,
// so write failures are swallowed.
func (s *Store) saveManifest() {
	content, err := msgpack.Marshal(s.entries)
	if err != nil {
		return
	}

	tmpName := manifestName + ".tmp"

	if err := afero.WriteFile(s.fs, tmpName, content, 0666); err != nil {
		return
	}

	s.fs.Rename(tmpName, manifestName) // nolint: errcheck
}
