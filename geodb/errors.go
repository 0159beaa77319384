package geodb

import (
	"errors"

	"github.com/pinpoint-geo/pinpoint/mmdb"
)

var (
	// ErrDatabaseNotReady is returned if no generation was activated
	// yet. For example, the very first download is still in flight.
	ErrDatabaseNotReady = errors.New("database is not initialized yet")

	// ErrInvalidIP is returned for an input which is not a
	// syntactically correct v4 or v6 literal. Distinct from
	// ErrNotFound on purpose.
	ErrInvalidIP = errors.New("incorrect ip address")

	// ErrNotFound is returned for a well-formed address the active
	// generation has no record for.
	ErrNotFound = mmdb.ErrNotFound

	// ErrUpdateIsRunning is returned if an update cycle is requested
	// while another one is still in progress.
	ErrUpdateIsRunning = errors.New("update is already running")

	// ErrBootstrapFailed is returned if no generation is present on
	// disk and the initial download attempts were exhausted. This is
	// the only fatal condition of the service.
	ErrBootstrapFailed = errors.New("cannot bootstrap an initial database")
)
