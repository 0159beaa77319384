package geodb

import (
	"time"

	"go.uber.org/atomic"

	"github.com/pinpoint-geo/pinpoint/mmdb"
)

// Handle is a reference-counted view of a single opened generation.
// It starts with one reference owned by the slot; every reader takes
// a transient one for the duration of a lookup. The close hook runs
// exactly once, when the count reaches zero, which can happen only
// after the handle was swapped out AND the last reader released it.
type Handle struct {
	reader  *mmdb.Reader
	path    string
	refs    atomic.Int64
	onClose func(h *Handle)
}

// NewHandle wraps an opened reader. onClose may be nil.
func NewHandle(reader *mmdb.Reader, path string, onClose func(h *Handle)) *Handle {
	h := &Handle{
		reader:  reader,
		path:    path,
		onClose: onClose,
	}
	h.refs.Store(1)

	return h
}

// Reader returns the underlying database reader.
func (h *Handle) Reader() *mmdb.Reader {
	return h.reader
}

// Path returns a location of the backing file within the data
// directory.
func (h *Handle) Path() string {
	return h.path
}

// BuildTime returns the generation build timestamp.
func (h *Handle) BuildTime() time.Time {
	return h.reader.Metadata.BuildTime()
}

// acquire takes a reference if the handle is still alive. It can fail
// only on a race with a concluding Release, in which case the caller
// reloads the slot.
func (h *Handle) acquire() bool {
	for {
		refs := h.refs.Load()
		if refs <= 0 {
			return false
		}

		if h.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release drops one reference and runs the close hook on the last
// one. Safe for concurrent use.
func (h *Handle) Release() {
	if h.refs.Dec() == 0 && h.onClose != nil {
		h.onClose(h)
	}
}
