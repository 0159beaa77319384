package geodb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultCacheSize bounds the lookup result cache. Purged on
	// every generation swap.
	DefaultCacheSize = 4096

	// DefaultWorkerPoolSize bounds concurrent batch resolution.
	DefaultWorkerPoolSize = 4096

	workerPoolExpireTime = time.Minute
)

// BatchResult is one element of a batch response. Either Location or
// Error is set.
type BatchResult struct {
	IP       string        `json:"ip"`
	Location *LookupResult `json:"location,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type resolveRequest struct {
	ctx     context.Context
	ipText  string
	index   int
	results []BatchResult
	wg      *sync.WaitGroup
}

// cacheEntry tags a cached result with the generation which produced
// it. A hit from another generation is as good as a miss: a lookup
// racing a swap may re-insert its result after the swap purged the
// cache, and such an entry must never be served.
type cacheEntry struct {
	path   string
	result LookupResult
}

// Locator answers lookups by reading the active slot. Safe for any
// number of concurrent callers.
type Locator struct {
	slot       *Slot
	logger     Logger
	cache      *lru.Cache
	workerPool *ants.PoolWithFunc
}

// NewLocator builds a locator. Non-positive sizes select defaults.
func NewLocator(slot *Slot, logger Logger, cacheSize, workerPoolSize int) (*Locator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	if workerPoolSize <= 0 {
		workerPoolSize = DefaultWorkerPoolSize
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("cannot create a cache: %w", err)
	}

	locator := &Locator{
		slot:   slot,
		logger: logger,
		cache:  cache,
	}

	locator.workerPool, err = ants.NewPoolWithFunc(workerPoolSize,
		locator.resolveOne,
		ants.WithExpiryDuration(workerPoolExpireTime))
	if err != nil {
		return nil, fmt.Errorf("cannot create a worker pool: %w", err)
	}

	return locator, nil
}

// Lookup resolves a textual address against the active generation.
// The handle is acquired per call and released on every exit path, so
// a swap mid-flight keeps this lookup on the generation it started
// with.
func (l *Locator) Lookup(ctx context.Context, ipText string) (LookupResult, error) {
	ip := net.ParseIP(ipText)
	if ip == nil {
		return LookupResult{}, ErrInvalidIP
	}

	key := ip.String()

	handle, err := l.slot.Get()
	if err != nil {
		return LookupResult{}, err
	}

	defer handle.Release()

	if cached, ok := l.cache.Get(key); ok {
		if entry := cached.(cacheEntry); entry.path == handle.Path() {
			return entry.result, nil
		}
	}

	record, err := handle.Reader().Lookup(ip)

	switch {
	case errors.Is(err, ErrNotFound):
		return LookupResult{}, ErrNotFound
	case err != nil:
		// malformed structure in an already-active generation:
		// an internal error for this request only.
		l.logger.LookupError(key, err)

		return LookupResult{}, fmt.Errorf("cannot decode a record: %w", err)
	}

	rv := newLookupResult(key, record)
	l.cache.Add(key, cacheEntry{path: handle.Path(), result: rv})

	return rv, nil
}

// ResolveAll answers a batch of addresses concurrently through the
// worker pool. Results keep the order of the request.
func (l *Locator) ResolveAll(ctx context.Context, ipTexts []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(ipTexts))
	wg := &sync.WaitGroup{}

	for i, v := range ipTexts {
		wg.Add(1)

		err := l.workerPool.Invoke(&resolveRequest{
			ctx:     ctx,
			ipText:  v,
			index:   i,
			results: results,
			wg:      wg,
		})
		if err != nil {
			wg.Done()

			return nil, fmt.Errorf("cannot schedule a lookup: %w", err)
		}
	}

	wg.Wait()

	return results, nil
}

func (l *Locator) resolveOne(args interface{}) {
	params := args.(*resolveRequest)
	defer params.wg.Done()

	rv := BatchResult{IP: params.ipText}

	if resolved, err := l.Lookup(params.ctx, params.ipText); err != nil {
		rv.Error = err.Error()
	} else {
		rv.Location = &resolved
	}

	params.results[params.index] = rv
}

// InvalidateCache drops every cached result. The updater calls it
// right after a swap so superseded entries release their memory at
// once. Correctness does not depend on the purge: entries carry the
// generation which produced them and stale hits are ignored.
func (l *Locator) InvalidateCache() {
	l.cache.Purge()
}

// Shutdown releases the worker pool.
func (l *Locator) Shutdown() {
	l.workerPool.Release()
}
