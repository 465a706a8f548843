// Package watcher polls a directory tree for log files that appear or
// change after an initial scan.
//
// Each poll walks the tree with the same pruning and glob rules as
// discovery. Files not in the known set are reported as new, in small
// batches emitted while the walk is still running; known files whose
// modification time moved are reported as changed with their metadata
// refreshed. The known set is updated before messages are sent, so a
// file is never reported twice. The WatchStopped message is always the
// last message before the queue closes.
package watcher

import (
	"context"
	"time"

	"github.com/Swatto86/LogSleuth/internal/discovery"
	"github.com/Swatto86/LogSleuth/internal/logging"
	"github.com/Swatto86/LogSleuth/internal/metrics"
	"github.com/Swatto86/LogSleuth/internal/progress"
	"github.com/Swatto86/LogSleuth/internal/tracing"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

const (
	DefaultPollInterval = 2 * time.Second
	MinPollInterval     = time.Second
	MaxPollInterval     = 60 * time.Second

	// DefaultBatchSize is how many files one message carries. Small
	// batches keep the consumer responsive while a large walk is still
	// in progress.
	DefaultBatchSize = progress.WatchFrameSize
)

// Config bounds one watch session. Discovery carries the walk rules
// and should match the configuration of the scan being followed up.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Discovery    discovery.Config
}

// DefaultConfig returns the standard watch limits.
func DefaultConfig() Config {
	return Config{Discovery: discovery.DefaultConfig()}.withDefaults()
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
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

func logComponent() *logging.Logger {
	return logging.Global().WithComponent("watcher")
}

// Watcher builds watch sessions.
type Watcher struct {
	cfg    Config
	tracer *tracing.Provider
}

// New creates a Watcher. tracer may be nil, which disables spans.
func New(cfg Config, tracer *tracing.Provider) *Watcher {
	if tracer == nil {
		tracer, _ = tracing.NewProvider(context.Background(), tracing.Config{})
	}
	return &Watcher{cfg: cfg.withDefaults(), tracer: tracer}
}

// Session is one running watch. The driver goroutine owns all session
// state; callers interact only through the progress queue and Stop.
type Session struct {
	queue  *progress.Queue[types.WatchProgress]
	cancel context.CancelFunc
	done   chan struct{}
}

// Progress returns the session's message queue.
func (s *Session) Progress() *progress.Queue[types.WatchProgress] {
	return s.queue
}

// Stop requests cooperative shutdown. The driver finishes its in-flight
// poll, pushes WatchStopped, and closes the queue.
func (s *Session) Stop() {
	s.cancel()
}

// Done is closed once the driver goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins watching root. known is the file set already handled by
// the caller, typically a scan's discovery result; those files are only
// reported again if their modification time moves. The first poll runs
// immediately, then every PollInterval.
func (w *Watcher) Start(ctx context.Context, root string, known []types.DiscoveredFile) *Session {
	runCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		queue:  progress.New[types.WatchProgress](),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r := &run{
		cfg:    w.cfg,
		tracer: w.tracer,
		m:      metrics.Global(),
		queue:  sess.queue,
		log:    logComponent(),
		root:   root,
		known:  make(map[string]types.DiscoveredFile, len(known)),
	}
	for _, f := range known {
		r.known[f.Path] = f
	}

	go func() {
		defer close(sess.done)
		defer sess.queue.Close()
		defer sess.queue.Push(types.WatchStopped{})
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Interface("panic", rec).Msg("watch driver panicked")
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
	tracer *tracing.Provider
	m      *metrics.Collector
	queue  *progress.Queue[types.WatchProgress]
	log    *logging.Logger

	root  string
	known map[string]types.DiscoveredFile
}

func (r *run) main(ctx context.Context) {
	r.log.Info().
		Str("root", r.root).
		Int("known", len(r.known)).
		Dur("poll_interval", r.cfg.PollInterval).
		Msg("watch started")

	r.poll(ctx)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("watch stopped")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll walks the tree once. The known set is updated as files are
// classified, before their batch is pushed.
func (r *run) poll(ctx context.Context) {
	pollCtx, span := r.tracer.WatchPoll(ctx, r.root)
	defer span.End()
	r.m.WatchPolls.Inc()

	var fresh, changed []types.DiscoveredFile
	res, err := discovery.Discover(r.root, r.cfg.Discovery, func(f types.DiscoveredFile, _ int) {
		if ctx.Err() != nil {
			return
		}
		existing, ok := r.known[f.Path]
		if !ok {
			r.known[f.Path] = f
			fresh = append(fresh, f)
			if len(fresh) >= r.cfg.BatchSize {
				r.pushNew(fresh)
				fresh = nil
			}
			return
		}
		if !mtimeMoved(existing.Modified, f.Modified) {
			return
		}
		// Refresh the stat fields but keep the detection results the
		// caller attached.
		existing.Modified = f.Modified
		existing.Size = f.Size
		existing.IsLarge = f.IsLarge
		r.known[f.Path] = existing
		changed = append(changed, existing)
		if len(changed) >= r.cfg.BatchSize {
			r.pushChanged(changed)
			changed = nil
		}
	})
	if err != nil {
		// The root may be temporarily unreachable; keep polling.
		tracing.RecordError(pollCtx, err)
		r.log.Warn().Str("root", r.root).Str("error", err.Error()).Msg("watch poll failed")
		return
	}
	if len(res.Warnings) > 0 {
		r.log.Debug().Int("warnings", len(res.Warnings)).Msg("watch poll warnings")
	}

	if len(fresh) > 0 {
		r.pushNew(fresh)
	}
	if len(changed) > 0 {
		r.pushChanged(changed)
	}
	r.m.QueueDepth.WithLabelValues("watch").Set(float64(r.queue.Len()))
}

func (r *run) pushNew(batch []types.DiscoveredFile) {
	r.queue.Push(types.WatchNewFiles{Files: batch})
	r.m.WatchNewFiles.Add(float64(len(batch)))
	r.log.Debug().Int("files", len(batch)).Msg("new files reported")
}

func (r *run) pushChanged(batch []types.DiscoveredFile) {
	r.queue.Push(types.WatchFilesChanged{Files: batch})
	r.m.WatchChangedFiles.Add(float64(len(batch)))
	r.log.Debug().Int("files", len(batch)).Msg("changed files reported")
}

// mtimeMoved reports whether a file's modification time differs from
// the recorded one. A time becoming known, or unknown, counts as moved.
func mtimeMoved(recorded, current *time.Time) bool {
	switch {
	case recorded == nil && current == nil:
		return false
	case recorded == nil || current == nil:
		return true
	default:
		return !recorded.Equal(*current)
	}
}
