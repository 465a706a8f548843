// Command logsleuth scans, tails, and watches log trees, streaming
// progress and parsed entries as JSON lines on stdout. Logs go to
// stderr so output stays pipeable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Swatto86/LogSleuth/internal/config"
	"github.com/Swatto86/LogSleuth/internal/discovery"
	"github.com/Swatto86/LogSleuth/internal/health"
	"github.com/Swatto86/LogSleuth/internal/logging"
	"github.com/Swatto86/LogSleuth/internal/metrics"
	"github.com/Swatto86/LogSleuth/internal/parser"
	"github.com/Swatto86/LogSleuth/internal/profile"
	"github.com/Swatto86/LogSleuth/internal/profiling"
	"github.com/Swatto86/LogSleuth/internal/reliability"
	"github.com/Swatto86/LogSleuth/internal/scan"
	"github.com/Swatto86/LogSleuth/internal/server"
	"github.com/Swatto86/LogSleuth/internal/shutdown"
	"github.com/Swatto86/LogSleuth/internal/tailer"
	"github.com/Swatto86/LogSleuth/internal/tracing"
	"github.com/Swatto86/LogSleuth/internal/watcher"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

var version = "1.0.0"

const (
	shutdownTimeout = 30 * time.Second
	shutdownGrace   = 35 * time.Second

	queueWarnDepth = 10000
	queueFailDepth = 100000
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(os.Args[2:])
	case "tail":
		err = runTail(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "profiles":
		err = runProfiles(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println(version)
	case "help", "-h", "-help", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `logsleuth %s

Usage: logsleuth <command> [flags] [args]

Commands:
  scan DIR        scan a directory tree and stream parsed entries
  tail FILE...    follow files and stream entries as they are written
  watch DIR       report log files that appear or change under a tree
  profiles        list the loaded format profiles
  version         print the version

Run 'logsleuth <command> -h' for command flags.
`, version)
}

// commonOpts are the flags every command accepts.
type commonOpts struct {
	configPath string
	logLevel   string
	logFormat  string
	profileDir string
}

func commonFlags(fs *flag.FlagSet) *commonOpts {
	o := &commonOpts{}
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.StringVar(&o.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	fs.StringVar(&o.logFormat, "log-format", "", "log format override (json, console)")
	fs.StringVar(&o.profileDir, "profile-dir", "", "directory of custom format profiles")
	return o
}

// app is the state every command shares once bootstrapped.
type app struct {
	cfg    *config.Config
	reg    *profile.Registry
	tracer *tracing.Provider
}

func (o *commonOpts) bootstrap(ctx context.Context) (*app, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if o.profileDir != "" {
		cfg.Profiles.Dir = o.profileDir
	}

	logging.SetGlobal(logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}))
	log := logging.Global().WithComponent("cli")
	log.Info().Str("version", version).Msg("logsleuth starting")

	reg, err := profile.NewRegistry(profile.Config{
		Dir:              cfg.Profiles.Dir,
		MaxProfiles:      cfg.Profiles.MaxProfiles,
		MaxFileSize:      cfg.Profiles.MaxFileSize,
		MaxPatternLength: cfg.Profiles.MaxPatternLength,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	for _, e := range reg.LoadErrors() {
		log.Warn().Err(e).Msg("profile skipped")
	}
	if cfg.Profiles.HotReload && cfg.Profiles.Dir != "" {
		if err := reg.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("profile hot reload unavailable")
		}
	}

	var tcfg tracing.Config
	if cfg.Tracing != nil {
		tcfg = tracing.Config{
			Enabled:    cfg.Tracing.Enabled,
			Endpoint:   cfg.Tracing.Endpoint,
			SampleRate: cfg.Tracing.SampleRate,
		}
	}
	tracer, err := tracing.NewProvider(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	return &app{cfg: cfg, reg: reg, tracer: tracer}, nil
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	o := commonFlags(fs)
	maxFiles := fs.Int("max-files", 0, "cap on files scanned, most recently modified kept")
	maxDepth := fs.Int("max-depth", 0, "directory descent limit")
	since := fs.Duration("modified-since", 0, "only scan files modified within this window")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("scan: exactly one root directory required")
	}
	root := fs.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := o.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.tracer.Shutdown(context.Background())

	cfg := scanConfig(a.cfg)
	if *maxFiles > 0 {
		cfg.Discovery.MaxFiles = *maxFiles
	}
	if *maxDepth > 0 {
		cfg.Discovery.MaxDepth = *maxDepth
	}
	if *since > 0 {
		cfg.Discovery.ModifiedSince = time.Now().Add(-*since)
	}

	sess := scan.New(cfg, a.reg, a.tracer).Start(ctx, root)
	defer func() {
		sess.Cancel()
		<-sess.Done()
	}()

	enc := json.NewEncoder(os.Stdout)
	for {
		msg, err := sess.Progress().Next(context.Background())
		if err != nil {
			return nil
		}
		emitScan(enc, msg)
	}
}

func runTail(args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	o := commonFlags(fs)
	pollInterval := fs.Duration("poll-interval", 0, "file poll interval")
	rateLimit := fs.Int64("rate-limit", 0, "total read bandwidth in bytes per second, 0 unlimited")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("tail: at least one file required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := o.bootstrap(ctx)
	if err != nil {
		return err
	}

	files, err := resolveFiles(a, fs.Args())
	if err != nil {
		return err
	}

	cfg := tailConfig(a.cfg)
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}
	if *rateLimit > 0 {
		cfg.RateLimit = *rateLimit
	}

	sess := tailer.New(cfg, a.reg, a.tracer).Start(ctx, files, 1)

	checker := newChecker(a.cfg)
	checker.Register("profiles", health.ProfilesLoaded(func() int {
		return len(a.reg.Snapshot().All())
	}))
	checker.Register("queue", health.QueueBacklog(sess.Progress().Len, queueWarnDepth, queueFailDepth))

	mgr, err := startOps(a, checker)
	if err != nil {
		sess.Stop()
		<-sess.Done()
		return err
	}
	mgr.Register("tail session", func(ctx context.Context) error {
		sess.Stop()
		select {
		case <-sess.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	defer mgr.HandlePanic()
	go mgr.WaitForSignal()

	enc := json.NewEncoder(os.Stdout)
	for {
		msg, err := sess.Progress().Next(context.Background())
		if err != nil {
			break
		}
		emitTail(enc, msg)
	}

	mgr.Shutdown()
	return mgr.Wait(shutdownGrace)
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	o := commonFlags(fs)
	pollInterval := fs.Duration("poll-interval", 0, "tree poll interval")
	batchSize := fs.Int("batch-size", 0, "files per notification batch")
	reportExisting := fs.Bool("report-existing", false, "report files already present at startup")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("watch: exactly one root directory required")
	}
	root := fs.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := o.bootstrap(ctx)
	if err != nil {
		return err
	}

	cfg := watchConfig(a.cfg)
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}

	// Seed the known set with everything currently in the tree so only
	// later arrivals are reported. The callback sees every match, so
	// the discovery file cap does not shrink the known set.
	var known []types.DiscoveredFile
	if !*reportExisting {
		_, err := discovery.Discover(root, cfg.Discovery, func(f types.DiscoveredFile, _ int) {
			known = append(known, f)
		})
		if err != nil {
			return fmt.Errorf("initial discovery: %w", err)
		}
	}

	sess := watcher.New(cfg, a.tracer).Start(ctx, root, known)

	checker := newChecker(a.cfg)
	checker.Register("watch_root", health.DirReadable(root))
	checker.Register("queue", health.QueueBacklog(sess.Progress().Len, queueWarnDepth, queueFailDepth))

	mgr, err := startOps(a, checker)
	if err != nil {
		sess.Stop()
		<-sess.Done()
		return err
	}
	mgr.Register("watch session", func(ctx context.Context) error {
		sess.Stop()
		select {
		case <-sess.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	defer mgr.HandlePanic()
	go mgr.WaitForSignal()

	enc := json.NewEncoder(os.Stdout)
	for {
		msg, err := sess.Progress().Next(context.Background())
		if err != nil {
			break
		}
		emitWatch(enc, msg)
	}

	mgr.Shutdown()
	return mgr.Wait(shutdownGrace)
}

func runProfiles(args []string) error {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	o := commonFlags(fs)
	fs.Parse(args)

	ctx := context.Background()
	a, err := o.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.tracer.Shutdown(ctx)

	type profileInfo struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description,omitempty"`
		Builtin     bool   `json:"builtin"`
	}

	enc := json.NewEncoder(os.Stdout)
	for _, p := range a.reg.Snapshot().All() {
		emit(enc, "profile", profileInfo{
			ID:          p.ID,
			Name:        p.Name,
			Version:     p.Version,
			Description: p.Description,
			Builtin:     p.Builtin,
		})
	}
	return nil
}

// resolveFiles stats and profiles the files named on the command line.
func resolveFiles(a *app, paths []string) ([]types.DiscoveredFile, error) {
	snap := a.reg.Snapshot()
	det := a.cfg.Detection
	log := logging.Global().WithComponent("cli")

	files := make([]types.DiscoveredFile, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		st, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%s is a directory; use 'logsleuth watch'", p)
		}

		f := types.DiscoveredFile{Path: abs, Size: st.Size()}
		if mt := st.ModTime(); !mt.IsZero() {
			utc := mt.UTC()
			f.Modified = &utc
		}

		f.ProfileID = profile.PlainTextID
		if sample, err := parser.ReadSample(abs, det.SampleLines); err == nil {
			if d, ok := snap.Detect(filepath.Base(abs), sample, det.MinConfidence, det.FilenameBonus); ok {
				f.ProfileID = d.ProfileID
				f.Confidence = d.Confidence
			}
		}
		log.Info().Str("file", abs).Str("profile", f.ProfileID).Msg("tailing")
		files = append(files, f)
	}
	return files, nil
}

func newChecker(cfg *config.Config) *health.Checker {
	timeout := health.DefaultCheckTimeout
	if cfg.Health != nil && cfg.Health.Timeout > 0 {
		timeout = cfg.Health.Timeout
	}
	return health.NewChecker(timeout)
}

// startOps brings up the operational surface for long-running modes:
// metrics sampling, the metrics/health listeners, pprof, and a
// shutdown manager with all of them registered.
func startOps(a *app, checker *health.Checker) (*shutdown.Manager, error) {
	m := metrics.Global()
	m.Start()

	var srvCfg server.Config
	if a.cfg.Metrics != nil && a.cfg.Metrics.Enabled {
		srvCfg.MetricsAddress = a.cfg.Metrics.Address
		srvCfg.MetricsPath = a.cfg.Metrics.Path
		srvCfg.MetricsRegistry = m.Registry()
	}
	if a.cfg.Health != nil && a.cfg.Health.Enabled {
		srvCfg.HealthAddress = a.cfg.Health.Address
		srvCfg.LivenessPath = a.cfg.Health.LivenessPath
		srvCfg.ReadinessPath = a.cfg.Health.ReadinessPath
		srvCfg.HealthChecker = checker
	}
	srv := server.New(srvCfg)
	if err := srv.Start(); err != nil {
		m.Stop()
		return nil, err
	}

	var profCfg profiling.Config
	if a.cfg.Profiling != nil {
		profCfg = profiling.Config{
			Enabled:            a.cfg.Profiling.Enabled,
			Address:            a.cfg.Profiling.Address,
			CPUProfilePath:     a.cfg.Profiling.CPUProfilePath,
			MemProfilePath:     a.cfg.Profiling.MemProfilePath,
			BlockProfile:       a.cfg.Profiling.BlockProfile,
			MutexProfile:       a.cfg.Profiling.MutexProfile,
			GoroutineThreshold: a.cfg.Profiling.GoroutineThreshold,
		}
	}
	prof := profiling.New(profCfg)
	if err := prof.Start(); err != nil {
		logging.Global().Warn().Err(err).Msg("profiling unavailable")
	}

	mgr := shutdown.New(shutdownTimeout)
	mgr.Register("servers", srv.Stop)
	mgr.Register("profiling", func(context.Context) error { return prof.Stop() })
	mgr.Register("metrics", func(context.Context) error { m.Stop(); return nil })
	mgr.Register("tracing", a.tracer.Shutdown)
	return mgr, nil
}

// Config mapping. The config package stays free of driver imports, so
// each mode translates its sections here.

func scanConfig(cfg *config.Config) scan.Config {
	c := scan.Config{
		Discovery: discoveryConfig(cfg),
		Detection: scan.DetectionConfig{
			SampleLines:   cfg.Detection.SampleLines,
			MinConfidence: cfg.Detection.MinConfidence,
			FilenameBonus: cfg.Detection.FilenameBonus,
			Workers:       cfg.Detection.Workers,
		},
		Parse:               parseConfig(cfg),
		Retry:               reliability.DefaultRetryConfig(),
		MaxTotalEntries:     cfg.Scan.MaxTotalEntries,
		MaxTotalParseErrors: cfg.Scan.MaxTotalParseErrors,
		EntryBatchSize:      cfg.Scan.EntryBatchSize,
	}
	if cfg.Retry != nil {
		c.Retry = reliability.RetryConfig{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
			Jitter:         cfg.Retry.Jitter,
		}
	}
	return c
}

func tailConfig(cfg *config.Config) tailer.Config {
	c := tailer.Config{
		PollInterval:   cfg.Tail.PollInterval,
		ChunkSize:      cfg.Parse.ChunkSize,
		MaxReadPerTick: cfg.Tail.MaxReadPerTick,
		MaxLineBuffer:  cfg.Tail.MaxLineBuffer,
		RateLimit:      cfg.Tail.RateLimit,
		Parse:          parseConfig(cfg),
	}
	if cfg.Breaker != nil {
		c.Breaker = reliability.BreakerConfig{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		}
	}
	return c
}

func watchConfig(cfg *config.Config) watcher.Config {
	return watcher.Config{
		PollInterval: cfg.Watch.PollInterval,
		BatchSize:    cfg.Watch.BatchSize,
		Discovery:    discoveryConfig(cfg),
	}
}

func discoveryConfig(cfg *config.Config) discovery.Config {
	return discovery.Config{
		MaxDepth:           cfg.Discovery.MaxDepth,
		MaxFiles:           cfg.Discovery.MaxFiles,
		IncludePatterns:    cfg.Discovery.IncludePatterns,
		ExcludePatterns:    cfg.Discovery.ExcludePatterns,
		LargeFileThreshold: cfg.Discovery.LargeFileThreshold,
	}
}

func parseConfig(cfg *config.Config) parser.Config {
	return parser.Config{
		MaxEntrySize:          cfg.Parse.MaxEntrySize,
		MaxParseErrorsPerFile: cfg.Parse.MaxParseErrorsPerFile,
	}
}

// JSON-lines output. Every message goes out as {"type": ..., "data": ...}.

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func emit(enc *json.Encoder, typ string, data any) {
	if err := enc.Encode(envelope{Type: typ, Data: data}); err != nil {
		logging.Global().Error().Err(err).Msg("stdout write failed")
	}
}

func emitScan(enc *json.Encoder, msg types.ScanProgress) {
	switch m := msg.(type) {
	case types.ScanStateChanged:
		emit(enc, "scan_state_changed", m)
	case types.ScanFileFound:
		emit(enc, "scan_file_found", m)
	case types.ScanDiscoveryDone:
		emit(enc, "scan_discovery_done", m)
	case types.ScanFilesDetected:
		emit(enc, "scan_files_detected", m)
	case types.ScanFileStarted:
		emit(enc, "scan_file_started", m)
	case types.ScanFileParsed:
		emit(enc, "scan_file_parsed", m)
	case types.ScanFileFailed:
		emit(enc, "scan_file_failed", m)
	case types.ScanEntries:
		emit(enc, "scan_entries", m)
	case types.ScanWarning:
		emit(enc, "scan_warning", m)
	case types.ScanCompleted:
		emit(enc, "scan_completed", m)
	case types.ScanFailed:
		emit(enc, "scan_failed", m)
	}
}

func emitTail(enc *json.Encoder, msg types.TailProgress) {
	switch m := msg.(type) {
	case types.TailStarted:
		emit(enc, "tail_started", m)
	case types.TailEntries:
		emit(enc, "tail_entries", m)
	case types.TailFileError:
		emit(enc, "tail_file_error", m)
	case types.TailStopped:
		emit(enc, "tail_stopped", nil)
	}
}

func emitWatch(enc *json.Encoder, msg types.WatchProgress) {
	switch m := msg.(type) {
	case types.WatchNewFiles:
		emit(enc, "watch_new_files", m)
	case types.WatchFilesChanged:
		emit(enc, "watch_files_changed", m)
	case types.WatchStopped:
		emit(enc, "watch_stopped", nil)
	}
}
