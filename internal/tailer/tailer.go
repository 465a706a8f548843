// Package tailer follows a fixed set of already-detected log files and
// surfaces newly appended entries over a progress queue.
//
// Each file's read offset seeds at end-of-file, so history is never
// replayed. A single goroutine polls every file on an interval: one
// stat per file per tick, new bytes read in pooled chunks under a
// shared rate limit, complete lines routed through the parser with the
// file's profile. A shrinking file means rotation or truncation and
// resets the offset to the new start. The TailStopped message is
// always the last message before the queue closes.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/Swatto86/LogSleuth/internal/logging"
	"github.com/Swatto86/LogSleuth/internal/metrics"
	"github.com/Swatto86/LogSleuth/internal/parser"
	"github.com/Swatto86/LogSleuth/internal/pool"
	"github.com/Swatto86/LogSleuth/internal/profile"
	"github.com/Swatto86/LogSleuth/internal/progress"
	"github.com/Swatto86/LogSleuth/internal/reliability"
	"github.com/Swatto86/LogSleuth/internal/tracing"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	MinPollInterval     = 100 * time.Millisecond
	MaxPollInterval     = 10 * time.Second

	// DefaultChunkSize is the pooled read buffer size.
	DefaultChunkSize = 64 * 1024
	// DefaultMaxReadPerTick bounds how far one file can advance in a
	// single tick. A file growing faster than this falls behind rather
	// than starving the others.
	DefaultMaxReadPerTick = 512 * 1024
	// DefaultMaxLineBuffer bounds the partial line carried between
	// ticks. A line that outgrows it is discarded.
	DefaultMaxLineBuffer = 64 * 1024

	// entryFrameSize bounds one TailEntries message. A tick that reads
	// a large backlog splits it across frames so consumers render
	// incrementally instead of receiving one giant batch.
	entryFrameSize = progress.TailFrameSize
)

// Config bounds one tail session.
type Config struct {
	PollInterval   time.Duration
	ChunkSize      int
	MaxReadPerTick int64
	MaxLineBuffer  int
	// RateLimit bounds read bandwidth across all tailed files in bytes
	// per second. Zero disables the limiter.
	RateLimit int64

	Parse   parser.Config
	Breaker reliability.BreakerConfig
}

// DefaultConfig returns the standard tail limits.
func DefaultConfig() Config {
	return Config{Parse: parser.DefaultConfig()}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.PollInterval > MaxPollInterval {
		c.PollInterval = MaxPollInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxReadPerTick <= 0 {
		c.MaxReadPerTick = DefaultMaxReadPerTick
	}
	if c.MaxLineBuffer <= 0 {
		c.MaxLineBuffer = DefaultMaxLineBuffer
	}
	return c
}

func logComponent() *logging.Logger {
	return logging.Global().WithComponent("tailer")
}

// Tailer builds tail sessions against a profile registry. Each session
// captures the registry's snapshot at start, so a profile reload lands
// on the next session, never mid-run.
type Tailer struct {
	cfg    Config
	reg    *profile.Registry
	tracer *tracing.Provider
}

// New creates a Tailer. tracer may be nil, which disables spans.
func New(cfg Config, reg *profile.Registry, tracer *tracing.Provider) *Tailer {
	if tracer == nil {
		tracer, _ = tracing.NewProvider(context.Background(), tracing.Config{})
	}
	return &Tailer{cfg: cfg.withDefaults(), reg: reg, tracer: tracer}
}

// Session is one running tail. The driver goroutine owns all session
// state; callers interact only through the progress queue and Stop.
type Session struct {
	queue  *progress.Queue[types.TailProgress]
	cancel context.CancelFunc
	done   chan struct{}
}

// Progress returns the session's message queue.
func (s *Session) Progress() *progress.Queue[types.TailProgress] {
	return s.queue
}

// Stop requests cooperative shutdown. The driver finishes its in-flight
// tick, pushes TailStopped, and closes the queue.
func (s *Session) Stop() {
	s.cancel()
}

// Done is closed once the driver goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins tailing the given files, assigning entry IDs from
// idStart. Callers following up a scan pass one past the highest ID the
// scan used, so IDs stay unique across the combined set. Files whose
// ProfileID is unknown fall back to plain text.
//
// Offsets are seeded before Start returns, so content appended
// afterwards is always surfaced.
func (t *Tailer) Start(ctx context.Context, files []types.DiscoveredFile, idStart uint64) *Session {
	if idStart == 0 {
		idStart = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		queue:  progress.New[types.TailProgress](),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r := &run{
		cfg:     t.cfg,
		snap:    t.reg.Snapshot(),
		tracer:  t.tracer,
		m:       metrics.Global(),
		queue:   sess.queue,
		log:     logComponent(),
		bufPool: pool.NewBytePool(t.cfg.ChunkSize),
		sources: append([]types.DiscoveredFile(nil), files...),
		nextID:  idStart,
	}
	if t.cfg.RateLimit > 0 {
		burst := int(t.cfg.RateLimit)
		if burst < t.cfg.ChunkSize {
			burst = t.cfg.ChunkSize
		}
		r.limiter = rate.NewLimiter(rate.Limit(t.cfg.RateLimit), burst)
	}

	dropped := r.resolve()
	sess.queue.Push(types.TailStarted{FileCount: len(r.files)})
	for _, d := range dropped {
		r.fileError(d.Path, d.Message)
	}
	r.seed(runCtx)
	r.log.Info().
		Int("files", len(r.files)).
		Dur("poll_interval", t.cfg.PollInterval).
		Msg("tail started")

	go func() {
		defer close(sess.done)
		defer sess.queue.Close()
		defer sess.queue.Push(types.TailStopped{})
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Interface("panic", rec).Msg("tail driver panicked")
			}
		}()
		r.main(runCtx)
	}()

	return sess
}

// run holds the state of one driver goroutine. Nothing here is shared:
// the queue is the only outward channel.
type run struct {
	cfg     Config
	snap    *profile.Snapshot
	tracer  *tracing.Provider
	m       *metrics.Collector
	queue   *progress.Queue[types.TailProgress]
	log     *logging.Logger
	limiter *rate.Limiter
	bufPool *pool.BytePool

	sources []types.DiscoveredFile
	files   []*tailedFile
	nextID  uint64
}

func (r *run) main(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("tail stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// resolve maps each source to its parse profile and breaker. Files
// without a usable profile are dropped; their errors are returned so
// the caller can report them after TailStarted.
func (r *run) resolve() []types.TailFileError {
	var dropped []types.TailFileError
	for _, src := range r.sources {
		prof, err := r.snap.Get(src.ProfileID)
		if err != nil {
			if prof, err = r.snap.PlainText(); err != nil {
				dropped = append(dropped, types.TailFileError{
					Path:    src.Path,
					Message: fmt.Sprintf("no usable profile: %v", err),
				})
				continue
			}
		}

		path := src.Path
		bcfg := r.cfg.Breaker
		bcfg.OnStateChange = func(from, to reliability.State) {
			r.log.Warn().
				Str("path", path).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("tail breaker state changed")
			if to == reliability.StateOpen {
				r.m.TailBreakerTrips.Inc()
			}
		}

		r.files = append(r.files, &tailedFile{
			path:     path,
			prof:     prof,
			seedSize: src.Size,
			modified: src.Modified,
			breaker:  reliability.NewCircuitBreaker(bcfg),
		})
	}
	return dropped
}

// seed sets each file's offset to its current end so only content
// appended after activation is surfaced. When the initial stat fails
// the size recorded at discovery stands in; a file that does not exist
// yet tails from its beginning once it appears.
func (r *run) seed(ctx context.Context) {
	for _, f := range r.files {
		if ctx.Err() != nil {
			return
		}
		err := f.breaker.Execute(func() error {
			st, err := os.Stat(f.path)
			if err != nil {
				return err
			}
			f.offset = st.Size()
			mod := st.ModTime()
			f.modified = &mod
			return nil
		})
		if err != nil {
			f.offset = f.seedSize
			r.fileError(f.path, err.Error())
			continue
		}
		r.log.Debug().Str("path", f.path).Int64("offset", f.offset).Msg("seeded at end of file")
	}
}

func (r *run) tick(ctx context.Context) {
	tickCtx, span := r.tracer.TailTick(ctx, len(r.files))
	defer span.End()
	r.m.TailTicks.Inc()

	now := time.Now()
	var batch []types.LogEntry
	for _, f := range r.files {
		if ctx.Err() != nil {
			return
		}
		err := f.breaker.Execute(func() error {
			entries, err := r.pollFile(tickCtx, f, now)
			batch = append(batch, entries...)
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, reliability.ErrCircuitOpen),
			errors.Is(err, reliability.ErrTooManyCalls):
			// Backing off; the trip was already reported.
		case errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return
		default:
			r.fileError(f.path, err.Error())
		}
	}

	if len(batch) > 0 {
		sortBatch(batch)
		for start := 0; start < len(batch); start += entryFrameSize {
			end := min(start+entryFrameSize, len(batch))
			r.queue.Push(types.TailEntries{Entries: batch[start:end]})
		}
		r.m.TailEntries.Add(float64(len(batch)))
	}
	r.m.QueueDepth.WithLabelValues("tail").Set(float64(r.queue.Len()))
}

// pollFile stats one file and parses whatever appended bytes fit in
// this tick's budget. Entries produced before a mid-read failure are
// still returned alongside the error.
func (r *run) pollFile(ctx context.Context, f *tailedFile, now time.Time) ([]types.LogEntry, error) {
	st, err := os.Stat(f.path)
	if err != nil {
		return nil, err
	}
	mod := st.ModTime()
	f.modified = &mod

	size := st.Size()
	if size < f.offset {
		r.log.Info().
			Str("path", f.path).
			Int64("size", size).
			Int64("offset", f.offset).
			Msg("file shrank, restarting from the top")
		tracing.AddEvent(ctx, "tail.rotation", attribute.String("file.path", f.path))
		r.m.TailRotations.Inc()
		f.reset()
	}
	if size == f.offset {
		return nil, nil
	}

	data, readErr := r.readNew(ctx, f, size-f.offset)
	entries := r.parseNew(f, data, now)
	return entries, readErr
}

// readNew reads up to budget bytes from f.offset, capped at the
// per-tick limit, advancing the offset by what was actually read.
func (r *run) readNew(ctx context.Context, f *tailedFile, budget int64) ([]byte, error) {
	if budget > r.cfg.MaxReadPerTick {
		budget = r.cfg.MaxReadPerTick
	}

	fh, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return nil, err
	}

	buf := r.bufPool.Get()
	defer r.bufPool.Put(buf)

	var out []byte
	for int64(len(out)) < budget {
		want := budget - int64(len(out))
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		if r.limiter != nil {
			if err := r.limiter.WaitN(ctx, int(want)); err != nil {
				return out, err
			}
		}
		n, err := fh.Read(buf[:want])
		if n > 0 {
			out = append(out, buf[:n]...)
			f.offset += int64(n)
			r.m.TailBytesRead.Add(float64(n))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// parseNew splits data into complete lines, parses them with the
// file's profile, and stamps the results. Entries the parser could not
// date get the observation instant, which is accurate since the line
// was just appended.
func (r *run) parseNew(f *tailedFile, data []byte, now time.Time) []types.LogEntry {
	complete, overflowed := f.consume(data, r.cfg.MaxLineBuffer)
	if overflowed {
		r.fileError(f.path, fmt.Sprintf(
			"partial line exceeded %d bytes and was discarded", r.cfg.MaxLineBuffer))
	}
	if len(complete) == 0 {
		return nil
	}

	content, altered := parser.DecodeBytes(complete)
	if altered {
		r.log.Debug().Str("path", f.path).Msg("non-UTF-8 content re-encoded during read")
	}

	res := parser.Parse(content, f.path, f.prof, r.cfg.Parse, r.nextID)
	if n := len(res.Entries); n > 0 {
		r.nextID = res.Entries[n-1].ID + 1
	}

	for i := range res.Entries {
		e := &res.Entries[i]
		e.LineNumber += f.lineBase
		if e.Timestamp == nil {
			ts := now
			e.Timestamp = &ts
		}
		e.FileModified = f.modified
	}
	f.lineBase += res.LinesProcessed

	for _, pe := range res.Errors {
		r.m.ParseErrors.WithLabelValues(string(pe.Kind)).Inc()
	}
	if len(res.Errors) > 0 {
		r.log.Debug().
			Str("path", f.path).
			Int("errors", len(res.Errors)).
			Msg("parse errors in tailed lines")
	}
	return res.Entries
}

func (r *run) fileError(path, msg string) {
	r.queue.Push(types.TailFileError{Path: path, Message: msg})
	r.m.TailFileErrors.Inc()
	r.log.Warn().Str("path", path).Str("error", msg).Msg("tail file error")
}

// sortBatch orders one tick's entries chronologically. Stamping has
// already filled every timestamp, so there are no nils to order; ID
// breaks ties.
func sortBatch(entries []types.LogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if a.Timestamp.Equal(*b.Timestamp) {
			return a.ID < b.ID
		}
		return a.Timestamp.Before(*b.Timestamp)
	})
}

// tailedFile is the per-file state the driver carries between ticks.
type tailedFile struct {
	path     string
	prof     *profile.FormatProfile
	seedSize int64
	offset   int64
	partial  []byte
	overflow bool
	lineBase uint64
	modified *time.Time
	breaker  *reliability.CircuitBreaker
}

// reset rewinds to the start of a rotated or truncated file.
func (f *tailedFile) reset() {
	f.offset = 0
	f.partial = nil
	f.overflow = false
	f.lineBase = 0
}

// consume appends data to the carried partial line and returns the
// region of complete lines, newline included. The carried remainder is
// bounded by maxBuf; a partial line that outgrows it is discarded, and
// the rest of that line is dropped as it arrives. The second return
// reports whether an overflow happened on this call.
func (f *tailedFile) consume(data []byte, maxBuf int) ([]byte, bool) {
	if f.overflow {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return nil, false
		}
		data = data[i+1:]
		f.overflow = false
	}

	combined := data
	if len(f.partial) > 0 {
		combined = append(f.partial, data...)
		f.partial = nil
	}

	idx := bytes.LastIndexByte(combined, '\n')
	if idx < 0 {
		if len(combined) > maxBuf {
			f.overflow = true
			return nil, true
		}
		if len(combined) > 0 {
			f.partial = append([]byte(nil), combined...)
		}
		return nil, false
	}

	complete := combined[:idx+1]
	rest := combined[idx+1:]
	var overflowed bool
	switch {
	case len(rest) > maxBuf:
		f.overflow = true
		overflowed = true
	case len(rest) > 0:
		f.partial = append([]byte(nil), rest...)
	}
	return complete, overflowed
}
