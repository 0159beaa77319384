package mmdb

import "errors"

var (
	// ErrNotFound is returned by Lookup if the search tree has no
	// entry for a given address. This is an expected outcome, not a
	// sign of a broken database.
	ErrNotFound = errors.New("address is not found in the database")

	// ErrNoMetadata is returned if a buffer has no metadata marker
	// within its trailing block. Usually it means that a file is
	// truncated or is not a database at all.
	ErrNoMetadata = errors.New("cannot find a metadata marker")

	// ErrPointerTooDeep is returned if following format-level
	// pointers exceeds a fixed depth. Well-formed databases never
	// come close to the limit, so hitting it means a pointer loop.
	ErrPointerTooDeep = errors.New("pointer chase is too deep")

	// ErrBufferOverrun is returned if a decoded length or offset
	// runs past the end of the buffer.
	ErrBufferOverrun = errors.New("offset runs past the buffer end")

	// ErrCorruptDatabase is returned if metadata fields contradict
	// each other or the actual file size.
	ErrCorruptDatabase = errors.New("database is corrupt")
)
