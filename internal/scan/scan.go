// Package scan drives a full scan session: discover log files under a
// root, detect each file's format profile, parse everything into
// normalized entries, and stream the sorted result in batches over a
// progress queue.
//
// A Session runs on its own goroutine and communicates only through
// its queue; the caller polls at its own cadence and never blocks the
// driver. The ScanStateChanged message carrying a terminal state is
// always the last message before the queue closes.
package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Swatto86/LogSleuth/internal/discovery"
	"github.com/Swatto86/LogSleuth/internal/logging"
	"github.com/Swatto86/LogSleuth/internal/metrics"
	"github.com/Swatto86/LogSleuth/internal/parser"
	"github.com/Swatto86/LogSleuth/internal/profile"
	"github.com/Swatto86/LogSleuth/internal/progress"
	"github.com/Swatto86/LogSleuth/internal/reliability"
	"github.com/Swatto86/LogSleuth/internal/tracing"
	"github.com/Swatto86/LogSleuth/internal/worker"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

const (
	// DefaultMaxTotalEntries caps the entries one session can hold.
	DefaultMaxTotalEntries = 1000000
	// DefaultMaxTotalParseErrors caps the session's counted errors.
	DefaultMaxTotalParseErrors = 10000
	// DefaultEntryBatchSize is the entry count per streamed batch.
	DefaultEntryBatchSize = progress.ScanFrameSize

	DefaultSampleLines   = 20
	DefaultMinConfidence = 0.30
	DefaultFilenameBonus = 0.30
	DefaultDetectWorkers = 4
)

// DetectionConfig controls the per-file profile detection pass.
type DetectionConfig struct {
	SampleLines   int
	MinConfidence float64
	FilenameBonus float64
	// Workers bounds the detection fan-out.
	Workers int
}

func (c DetectionConfig) withDefaults() DetectionConfig {
	if c.SampleLines <= 0 {
		c.SampleLines = DefaultSampleLines
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.FilenameBonus <= 0 {
		c.FilenameBonus = DefaultFilenameBonus
	}
	if c.Workers <= 0 {
		c.Workers = DefaultDetectWorkers
	}
	return c
}

// Config bounds one scan session. The discovery, parse, and retry
// sections pass through to their packages, which apply their own
// defaults.
type Config struct {
	Discovery discovery.Config
	Detection DetectionConfig
	Parse     parser.Config
	Retry     reliability.RetryConfig

	MaxTotalEntries     int
	MaxTotalParseErrors int
	EntryBatchSize      int
}

// DefaultConfig returns the standard session limits.
func DefaultConfig() Config {
	return Config{
		Discovery: discovery.DefaultConfig(),
		Parse:     parser.DefaultConfig(),
		Retry:     reliability.DefaultRetryConfig(),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	c.Detection = c.Detection.withDefaults()
	if c.MaxTotalEntries <= 0 {
		c.MaxTotalEntries = DefaultMaxTotalEntries
	}
	if c.MaxTotalParseErrors <= 0 {
		c.MaxTotalParseErrors = DefaultMaxTotalParseErrors
	}
	if c.EntryBatchSize <= 0 {
		c.EntryBatchSize = DefaultEntryBatchSize
	}
	return c
}

func logComponent() *logging.Logger {
	return logging.Global().WithComponent("scan")
}

// Scanner builds scan sessions against a profile registry. Each
// session captures the registry's snapshot at start, so a profile
// reload lands on the next scan, never mid-run.
type Scanner struct {
	cfg    Config
	reg    *profile.Registry
	tracer *tracing.Provider
}

// New creates a Scanner. tracer may be nil, which disables spans.
func New(cfg Config, reg *profile.Registry, tracer *tracing.Provider) *Scanner {
	if tracer == nil {
		tracer, _ = tracing.NewProvider(context.Background(), tracing.Config{})
	}
	return &Scanner{cfg: cfg.withDefaults(), reg: reg, tracer: tracer}
}

// Session is one running scan. The driver goroutine owns all session
// state; callers interact only through the progress queue and Cancel.
type Session struct {
	queue  *progress.Queue[types.ScanProgress]
	cancel context.CancelFunc
	done   chan struct{}
}

// Progress returns the session's message queue.
func (s *Session) Progress() *progress.Queue[types.ScanProgress] {
	return s.queue
}

// Cancel requests cooperative cancellation. The scan finishes its
// in-flight file, then reports a Cancelled terminal state carrying the
// partial summary.
func (s *Session) Cancel() {
	s.cancel()
}

// Done is closed once the driver goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins a scan rooted at root. Entry IDs are assigned
// contiguously from 1.
func (s *Scanner) Start(ctx context.Context, root string) *Session {
	return s.launch(ctx, &run{root: root, nextID: 1})
}

// StartFiles scans a caller-supplied file list without re-running
// discovery, assigning entry IDs from idStart. Callers appending to an
// earlier session pass one past the highest ID that session used, so
// IDs stay unique across the combined set. Files that already carry a
// ProfileID skip detection.
func (s *Scanner) StartFiles(ctx context.Context, files []types.DiscoveredFile, idStart uint64) *Session {
	if idStart == 0 {
		idStart = 1
	}
	// The driver stamps detection results into the file list; work on a
	// copy so the caller's slice stays untouched.
	list := make([]types.DiscoveredFile, len(files))
	copy(list, files)
	return s.launch(ctx, &run{files: list, nextID: idStart, appendMode: true})
}

func (s *Scanner) launch(ctx context.Context, r *run) *Session {
	runCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		queue:  progress.New[types.ScanProgress](),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.cfg = s.cfg
	r.snap = s.reg.Snapshot()
	r.tracer = s.tracer
	r.m = metrics.Global()
	r.queue = sess.queue
	r.log = logComponent()
	r.state = types.ScanStateIdle

	go func() {
		defer close(sess.done)
		defer sess.queue.Close()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Interface("panic", rec).Msg("scan driver panicked")
				sess.queue.Push(types.ScanFailed{Reason: fmt.Sprintf("internal error: %v", rec)})
				r.terminal(types.ScanStateFailed)
			}
		}()
		r.main(runCtx)
	}()

	return sess
}

// run holds the state of one driver goroutine. Nothing here is shared:
// the queue is the only outward channel.
type run struct {
	cfg    Config
	snap   *profile.Snapshot
	tracer *tracing.Provider
	m      *metrics.Collector
	queue  *progress.Queue[types.ScanProgress]
	log    *logging.Logger

	root       string
	files      []types.DiscoveredFile
	appendMode bool

	state      types.ScanState
	phaseStart time.Time
	started    time.Time

	nextID       uint64
	entries      []types.LogEntry
	summary      types.ScanSummary
	errCapWarned bool
}

func (r *run) main(ctx context.Context) {
	r.started = time.Now()

	if !r.appendMode {
		if !r.discover(ctx) {
			return
		}
		if ctx.Err() != nil {
			r.finish(types.ScanStateCancelled)
			return
		}
	}

	if !r.detect(ctx) {
		r.finish(types.ScanStateCancelled)
		return
	}

	if cancelled := r.parseFiles(ctx); cancelled {
		r.finish(types.ScanStateCancelled)
		return
	}

	r.setState(types.ScanStateSorting)
	_, sortSpan := r.tracer.ScanPhase(ctx, "sorting")
	sortEntries(r.entries)
	sortSpan.End()

	r.setState(types.ScanStateStreaming)
	_, streamSpan := r.tracer.ScanPhase(ctx, "streaming")
	r.stream()
	streamSpan.End()

	r.finish(types.ScanStateCompleted)
}

// setState records the previous phase's duration, then announces the
// new one.
func (r *run) setState(state types.ScanState) {
	now := time.Now()
	if !r.phaseStart.IsZero() && !r.state.Terminal() && r.state != types.ScanStateIdle {
		r.m.ScanPhaseSeconds.WithLabelValues(string(r.state)).Observe(now.Sub(r.phaseStart).Seconds())
	}
	r.state = state
	r.phaseStart = now
	r.queue.Push(types.ScanStateChanged{State: state})
	r.log.Debug().Str("state", string(state)).Msg("scan state changed")
}

func (r *run) terminal(state types.ScanState) {
	r.m.ScansTotal.WithLabelValues(string(state)).Inc()
	r.setState(state)
	r.log.Info().
		Str("state", string(state)).
		Int("entries", len(r.entries)).
		Dur("duration", time.Since(r.started)).
		Msg("scan finished")
}

func (r *run) fail(reason string) {
	r.queue.Push(types.ScanFailed{Reason: reason})
	r.terminal(types.ScanStateFailed)
}

// finish emits the summary and the terminal state, for completed and
// cancelled runs alike. Cancelled runs carry partial totals.
func (r *run) finish(state types.ScanState) {
	r.summary.TotalEntries = len(r.entries)
	r.summary.Duration = time.Since(r.started)
	r.m.ObserveSummary(r.summary)
	r.queue.Push(types.ScanCompleted{Summary: r.summary})
	r.terminal(state)
}

func (r *run) discover(ctx context.Context) bool {
	r.setState(types.ScanStateDiscovering)
	phaseCtx, span := r.tracer.ScanPhase(ctx, "discovering")
	defer span.End()

	res, err := discovery.Discover(r.root, r.cfg.Discovery, func(f types.DiscoveredFile, matched int) {
		r.queue.Push(types.ScanFileFound{Path: f.Path, FilesFound: matched})
	})
	if err != nil {
		tracing.RecordError(phaseCtx, err)
		r.fail(err.Error())
		return false
	}

	for _, w := range res.Warnings {
		r.queue.Push(types.ScanWarning{Message: w})
	}

	r.files = res.Files
	r.summary.TotalMatched = res.TotalMatched
	r.summary.FilesDiscovered = len(res.Files)
	r.queue.Push(types.ScanDiscoveryDone{
		TotalMatched: res.TotalMatched,
		Kept:         len(res.Files),
		Truncated:    res.TotalMatched > len(res.Files),
	})
	r.m.FilesDiscovered.Add(float64(len(res.Files)))
	return true
}

// detect resolves a profile for every file that does not already carry
// one, fanning the sample-and-score work out over a bounded pool. Each
// task owns one result slot, so no locking is needed. Returns false on
// cancellation.
func (r *run) detect(ctx context.Context) bool {
	r.setState(types.ScanStateDetecting)
	phaseCtx, span := r.tracer.ScanPhase(ctx, "detecting")
	defer span.End()

	detections := make([]profile.Detection, len(r.files))
	pool := worker.New(worker.Config{
		Workers:   r.cfg.Detection.Workers,
		QueueSize: len(r.files),
	})
	pool.Start()

	for i := range r.files {
		if r.files[i].ProfileID != "" {
			continue
		}
		idx := i
		path := r.files[i].Path
		err := pool.Submit(ctx, func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			detections[idx] = r.detectOne(path)
			return nil
		})
		if err != nil {
			break
		}
	}
	pool.Stop()

	if ctx.Err() != nil {
		return false
	}

	for i := range r.files {
		if r.files[i].ProfileID == "" {
			r.files[i].ProfileID = detections[i].ProfileID
			r.files[i].Confidence = detections[i].Confidence
		}
	}

	st := pool.Stats()
	tracing.SetAttributes(phaseCtx,
		attribute.Int("files.total", len(r.files)),
		attribute.Int("detections.run", int(st.Processed)),
	)
	r.log.Debug().
		Int("files", len(r.files)).
		Uint64("detections", st.Processed).
		Msg("detection complete")

	r.queue.Push(types.ScanFilesDetected{Files: r.files, Append: r.appendMode})
	return true
}

func (r *run) detectOne(path string) profile.Detection {
	start := time.Now()
	det := profile.Detection{ProfileID: profile.PlainTextID}

	sample, err := parser.ReadSample(path, r.cfg.Detection.SampleLines)
	if err != nil {
		r.m.DetectionFallbacks.Inc()
		r.log.Debug().Err(err).Str("file", path).Msg("sample read failed, falling back to plain text")
		return det
	}

	if d, ok := r.snap.Detect(filepath.Base(path), sample, r.cfg.Detection.MinConfidence, r.cfg.Detection.FilenameBonus); ok {
		det = d
		r.m.DetectionConfidence.WithLabelValues(d.ProfileID).Observe(d.Confidence)
	} else {
		r.m.DetectionFallbacks.Inc()
	}
	r.m.DetectionSeconds.Observe(time.Since(start).Seconds())
	return det
}

// parseFiles runs the sequential parse loop. Parsing stays
// single-threaded so entry IDs come out contiguous in file order.
// Cancellation is honored between files, never mid-file.
func (r *run) parseFiles(ctx context.Context) (cancelled bool) {
	r.setState(types.ScanStateParsing)
	phaseCtx, span := r.tracer.ScanPhase(ctx, "parsing")
	defer span.End()

	total := len(r.files)
	if total > 0 && r.summary.BySeverity == nil {
		r.summary.BySeverity = make(map[types.Severity]int)
	}

	for i := range r.files {
		if ctx.Err() != nil {
			return true
		}
		f := r.files[i]

		remaining := r.cfg.MaxTotalEntries - len(r.entries)
		if remaining <= 0 {
			r.summary.EntriesCapped = true
			r.queue.Push(types.ScanWarning{Message: fmt.Sprintf(
				"entry cap of %d reached; %d of %d files were not parsed",
				r.cfg.MaxTotalEntries, total-i, total)})
			r.log.Warn().Int("skipped_files", total-i).Msg("entry cap reached")
			return false
		}

		r.queue.Push(types.ScanFileStarted{Path: f.Path, Index: i, TotalFiles: total})

		fileCtx, fileSpan := r.tracer.ParseFile(phaseCtx, f.Path, f.ProfileID)
		res, profID, perr := r.parseOne(fileCtx, f, remaining)
		fileSpan.End()

		if perr != nil {
			if ctx.Err() != nil {
				return true
			}
			r.queue.Push(types.ScanFileFailed{Path: f.Path, Err: *perr})
			r.summary.FilesFailed++
			if r.summary.ParseErrors < r.cfg.MaxTotalParseErrors {
				r.summary.ParseErrors++
			}
			r.summary.FileSummaries = append(r.summary.FileSummaries, types.FileSummary{
				Path:       f.Path,
				ProfileID:  profID,
				ErrorCount: 1,
			})
			r.m.ParseErrors.WithLabelValues(string(perr.Kind)).Inc()
			r.log.Warn().Str("file", f.Path).Str("detail", perr.Detail).Msg("file abandoned")
			continue
		}

		r.accumulate(f, profID, res, i, total)
	}
	return false
}

// parseOne reads and parses a single file. Transient read failures are
// retried; the returned ParseError means the file was abandoned.
func (r *run) parseOne(ctx context.Context, f types.DiscoveredFile, remaining int) (parser.Result, string, *types.ParseError) {
	prof, err := r.snap.Get(f.ProfileID)
	if err != nil {
		// Unknown IDs can arrive on caller-supplied file lists.
		if prof, err = r.snap.PlainText(); err != nil {
			perr := types.ParseError{
				Kind:   types.ParseErrorRead,
				File:   f.Path,
				Detail: fmt.Sprintf("no usable profile: %v", err),
			}
			return parser.Result{}, f.ProfileID, &perr
		}
	}

	var content string
	var altered bool
	err = reliability.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var rerr error
		content, altered, rerr = parser.ReadFileLossy(f.Path)
		return rerr
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		perr := types.NewReadError(f.Path, err)
		return parser.Result{}, prof.ID, &perr
	}
	if altered {
		w := types.NewEncodingError(f.Path, "non-UTF-8 content re-encoded during read")
		r.queue.Push(types.ScanWarning{Message: w.Error()})
	}

	res := parser.Parse(content, f.Path, prof, r.cfg.Parse, r.nextID)

	// A profile that matched the sample can still fail the whole file:
	// filename-bonus detections on rotated files, or format drift past
	// the sampled head. A non-empty file that produced nothing reparses
	// as plain text so its content stays visible.
	if len(res.Entries) == 0 && strings.TrimSpace(content) != "" && prof.ID != profile.PlainTextID {
		if pt, ptErr := r.snap.PlainText(); ptErr == nil {
			r.log.Debug().
				Str("file", f.Path).
				Str("profile_id", prof.ID).
				Msg("no entries under detected profile, reparsing as plain text")
			r.m.DetectionFallbacks.Inc()
			prof = pt
			res = parser.Parse(content, f.Path, pt, r.cfg.Parse, r.nextID)
		}
	}

	if len(res.Entries) > remaining {
		res.Entries = res.Entries[:remaining]
		r.summary.EntriesCapped = true
	}

	if f.Modified != nil {
		for j := range res.Entries {
			res.Entries[j].FileModified = f.Modified
		}
	}

	return res, prof.ID, nil
}

func (r *run) accumulate(f types.DiscoveredFile, profID string, res parser.Result, index, total int) {
	sum := types.FileSummary{
		Path:       f.Path,
		ProfileID:  profID,
		EntryCount: len(res.Entries),
		ErrorCount: len(res.Errors),
	}
	for j := range res.Entries {
		e := &res.Entries[j]
		r.summary.BySeverity[e.Severity]++
		if e.Timestamp == nil {
			continue
		}
		if sum.Earliest == nil || e.Timestamp.Before(*sum.Earliest) {
			sum.Earliest = e.Timestamp
		}
		if sum.Latest == nil || e.Timestamp.After(*sum.Latest) {
			sum.Latest = e.Timestamp
		}
	}
	r.summary.FileSummaries = append(r.summary.FileSummaries, sum)
	r.summary.FilesParsed++

	if !r.errCapWarned && r.summary.ParseErrors+len(res.Errors) > r.cfg.MaxTotalParseErrors {
		r.errCapWarned = true
		r.queue.Push(types.ScanWarning{Message: fmt.Sprintf(
			"parse error cap of %d reached; the summary error count is truncated",
			r.cfg.MaxTotalParseErrors)})
	}
	r.summary.ParseErrors = min(r.summary.ParseErrors+len(res.Errors), r.cfg.MaxTotalParseErrors)

	for _, pe := range res.Errors {
		r.m.ParseErrors.WithLabelValues(string(pe.Kind)).Inc()
	}

	r.entries = append(r.entries, res.Entries...)
	if n := len(res.Entries); n > 0 {
		r.nextID = res.Entries[n-1].ID + 1
	}

	r.queue.Push(types.ScanFileParsed{
		Path:           f.Path,
		Entries:        len(res.Entries),
		Errors:         len(res.Errors),
		FilesCompleted: index + 1,
		TotalFiles:     total,
	})
}

func (r *run) stream() {
	size := r.cfg.EntryBatchSize
	for start := 0; start < len(r.entries); start += size {
		end := min(start+size, len(r.entries))
		r.queue.Push(types.ScanEntries{Entries: r.entries[start:end]})
	}
	r.m.QueueDepth.WithLabelValues("scan").Set(float64(r.queue.Len()))
}

// sortEntries orders entries by timestamp ascending with nil
// timestamps last; ID breaks ties, so the order is total and
// reproducible.
func sortEntries(entries []types.LogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entryLess(&entries[i], &entries[j])
	})
}

func entryLess(a, b *types.LogEntry) bool {
	switch {
	case a.Timestamp == nil && b.Timestamp == nil:
		return a.ID < b.ID
	case a.Timestamp == nil:
		return false
	case b.Timestamp == nil:
		return true
	case a.Timestamp.Equal(*b.Timestamp):
		return a.ID < b.ID
	default:
		return a.Timestamp.Before(*b.Timestamp)
	}
}
