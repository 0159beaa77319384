package geodb

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/atomic"

	"github.com/pinpoint-geo/pinpoint/mmdb"
)

const (
	// DefaultUpdateEvery is the vendor's publishing cadence. Policy,
	// not protocol: exposed as configuration.
	DefaultUpdateEvery = 24 * time.Hour

	// DefaultDatabaseURLTemplate names the monthly city database of
	// the vendor. The verb placeholders receive a year and a month.
	DefaultDatabaseURLTemplate = "https://download.db-ip.com/free/dbip-city-lite-%d-%02d.mmdb.gz"

	// bootstrapAttempts bounds startup retries when no generation is
	// available yet. Regular cycles never retry early, they wait for
	// the next tick instead.
	bootstrapAttempts = 5

	candidatePrefix = "candidate_"
)

var gzipMagic = []byte{0x1f, 0x8b}

// UpdaterOpts wires an Updater together.
type UpdaterOpts struct {
	Fs        afero.Fs
	Store     *Store
	Validator Validator
	Slot      *Slot
	Client    HTTPClient
	Logger    Logger

	// URL overrides the derived monthly vendor URL when set.
	URL string

	UpdateEvery time.Duration

	// BootstrapDelay is the initial backoff between startup
	// attempts. It doubles per attempt.
	BootstrapDelay time.Duration

	// OnSwap fires after a new generation becomes visible to
	// readers. The locator purges its result cache here.
	OnSwap func()
}

// Updater drives the download → validate → activate → prune pipeline.
// One cycle runs at a time, enforced with a single-flight flag; a
// failed cycle logs and leaves everything as it was.
type Updater struct {
	fs             afero.Fs
	store          *Store
	validator      Validator
	slot           *Slot
	client         HTTPClient
	logger         Logger
	url            string
	updateEvery    time.Duration
	bootstrapDelay time.Duration
	onSwap         func()
	running        atomic.Bool
}

// NewUpdater prepares an updater. Call Start to bring the slot up and
// launch the periodic loop.
func NewUpdater(opts UpdaterOpts) *Updater {
	updateEvery := opts.UpdateEvery
	if updateEvery <= 0 {
		updateEvery = DefaultUpdateEvery
	}

	bootstrapDelay := opts.BootstrapDelay
	if bootstrapDelay <= 0 {
		bootstrapDelay = 10 * time.Second
	}

	return &Updater{
		fs:             opts.Fs,
		store:          opts.Store,
		validator:      opts.Validator,
		slot:           opts.Slot,
		client:         opts.Client,
		logger:         opts.Logger,
		url:            opts.URL,
		updateEvery:    updateEvery,
		bootstrapDelay: bootstrapDelay,
		onSwap:         opts.OnSwap,
	}
}

// Start activates the last known-good generation if one is on disk,
// otherwise downloads the very first one with bounded backoff. This
// blocks readiness on purpose: there is nothing to serve yet. On
// success a background loop keeps the database fresh until the
// context closes.
func (u *Updater) Start(ctx context.Context) error {
	if err := u.store.CleanCandidates(); err != nil {
		u.logger.UpdateError(err)
	}

	opened := false

	if fileName, ok := u.store.Active(); ok {
		if err := u.activateExisting(fileName); err != nil {
			u.logger.UpdateError(fmt.Errorf("cannot open the stored generation: %w", err))
		} else {
			opened = true
		}
	}

	if !opened {
		if err := u.bootstrap(ctx); err != nil {
			return err
		}
	}

	go u.loop(ctx)

	return nil
}

// Run executes one update cycle. ErrUpdateIsRunning is returned if a
// cycle is already in flight.
func (u *Updater) Run(ctx context.Context) error {
	if !u.running.CompareAndSwap(false, true) {
		return ErrUpdateIsRunning
	}

	defer u.running.Store(false)

	return u.update(ctx)
}

func (u *Updater) loop(ctx context.Context) {
	timer := time.NewTicker(u.updateEvery)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := u.Run(ctx); err != nil {
				u.logger.UpdateError(err)
			}
		}
	}
}

func (u *Updater) bootstrap(ctx context.Context) error {
	var lastErr error

	delay := u.bootstrapDelay

	for attempt := 1; attempt <= bootstrapAttempts; attempt++ {
		lastErr = u.Run(ctx)
		if lastErr == nil {
			return nil
		}

		u.logger.UpdateError(fmt.Errorf("bootstrap attempt %d: %w", attempt, lastErr))

		if attempt == bootstrapAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
	}

	return fmt.Errorf("%w: %s", ErrBootstrapFailed, lastErr)
}

func (u *Updater) update(ctx context.Context) error {
	candidatePath, size, err := u.download(ctx)
	if err != nil {
		return fmt.Errorf("cannot download a database: %w", err)
	}

	defer u.fs.Remove(candidatePath) // nolint: errcheck

	reader, err := u.validator.Validate(candidatePath, u.activeSize())
	if err != nil {
		return fmt.Errorf("cannot validate a downloaded database: %w", err)
	}

	buildTime := reader.Metadata.BuildTime()
	fileName := GenerationFileName(buildTime)

	if !u.store.Has(fileName) {
		if _, err := u.store.Commit(candidatePath, buildTime, size); err != nil {
			return fmt.Errorf("cannot retain a database: %w", err)
		}
	} else if u.isServing(buildTime) {
		u.logger.UpdateInfo("database is already up to date")

		return nil
	}

	if err := u.store.Promote(fileName); err != nil {
		return fmt.Errorf("cannot promote a database: %w", err)
	}

	u.swapIn(NewHandle(reader, fileName, u.closeHandle))
	u.logger.UpdateInfo("database has been updated to " + fileName)

	if _, err := u.store.Prune(); err != nil {
		return fmt.Errorf("cannot prune old databases: %w", err)
	}

	return nil
}

func (u *Updater) download(ctx context.Context) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.buildURL(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("cannot compose a request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("cannot request the vendor: %w", err)
	}

	defer flushResponse(resp.Body)

	payload := bufio.NewReader(resp.Body)

	var source io.Reader = payload

	// the vendor serves gzipped files, but a plain one works too.
	if magic, err := payload.Peek(len(gzipMagic)); err == nil &&
		magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		gzipReader, err := gzip.NewReader(payload)
		if err != nil {
			return "", 0, fmt.Errorf("cannot create a gzip reader: %w", err)
		}

		source = gzipReader
	}

	candidate, err := afero.TempFile(u.fs, "", candidatePrefix)
	if err != nil {
		return "", 0, fmt.Errorf("cannot create a candidate file: %w", err)
	}

	size, err := io.Copy(candidate, source)

	candidate.Close()

	if err != nil {
		u.fs.Remove(candidate.Name()) // nolint: errcheck

		return "", 0, fmt.Errorf("cannot save a candidate file: %w", err)
	}

	return candidate.Name(), size, nil
}

func (u *Updater) activateExisting(fileName string) error {
	buffer, err := afero.ReadFile(u.fs, fileName)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", fileName, err)
	}

	reader, err := mmdb.FromBytes(buffer)
	if err != nil {
		return fmt.Errorf("cannot parse %s: %w", fileName, err)
	}

	u.swapIn(NewHandle(reader, fileName, u.closeHandle))
	u.logger.UpdateInfo("resumed serving from " + fileName)

	return nil
}

// isServing tells whether the generation of the given build is both
// promoted on disk and answering lookups. Mere retention is not
// enough: a failed Promote leaves the build on disk but inactive, and
// the next cycle must finish the activation instead of skipping it.
func (u *Updater) isServing(buildTime time.Time) bool {
	if active, ok := u.store.Active(); !ok || active != GenerationFileName(buildTime) {
		return false
	}

	handle, err := u.slot.Get()
	if err != nil {
		return false
	}

	defer handle.Release()

	return handle.BuildTime().Equal(buildTime)
}

func (u *Updater) swapIn(handle *Handle) {
	if previous := u.slot.Swap(handle); previous != nil {
		previous.Release()
	}

	if u.onSwap != nil {
		u.onSwap()
	}
}

func (u *Updater) closeHandle(h *Handle) {
	u.logger.UpdateInfo("generation " + h.Path() + " has been reclaimed")
}

func (u *Updater) activeSize() int64 {
	active, ok := u.store.Active()
	if !ok {
		return 0
	}

	for _, v := range u.store.Entries() {
		if v.FileName == active {
			return v.SizeBytes
		}
	}

	return 0
}

func (u *Updater) buildURL() string {
	if u.url != "" {
		return u.url
	}

	now := time.Now().UTC()

	return fmt.Sprintf(DefaultDatabaseURLTemplate, now.Year(), int(now.Month()))
}
