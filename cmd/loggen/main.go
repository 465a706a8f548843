// Command loggen writes synthetic log lines in the formats the
// built-in profiles recognize. It exists to feed tail and watch
// sessions during development and to size parser throughput against
// a known line mix.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Swatto86/LogSleuth/internal/logging"
)

var (
	formatName   = flag.String("format", "veeam-vbr", "line format (veeam-vbr, syslog, log4j, json-lines, generic)")
	outPath      = flag.String("out", "", "output file, empty for stdout")
	rate         = flag.Int("rate", 1000, "entries per second")
	count        = flag.Uint64("count", 0, "stop after this many entries, 0 for unlimited")
	duration     = flag.Int("duration", 0, "stop after this many seconds, 0 for unlimited")
	contFraction = flag.Float64("continuations", 0.1, "fraction of entries followed by continuation lines")
	interval     = flag.Int("interval", 5, "stats report interval in seconds")
	seed         = flag.Int64("seed", 0, "random seed, 0 derives one from the clock")
)

const tickInterval = 50 * time.Millisecond

// Stats tracks generator throughput.
type Stats struct {
	entries   atomic.Uint64
	lines     atomic.Uint64
	bytes     atomic.Uint64
	startTime time.Time
}

func (s *Stats) Report() {
	elapsed := time.Since(s.startTime).Seconds()
	entries := s.entries.Load()
	lines := s.lines.Load()
	bytes := s.bytes.Load()

	fmt.Fprintf(os.Stderr, "\n=== Generator Statistics ===\n")
	fmt.Fprintf(os.Stderr, "Duration: %.2f seconds\n", elapsed)
	fmt.Fprintf(os.Stderr, "Entries: %d (%.0f/sec)\n", entries, float64(entries)/elapsed)
	fmt.Fprintf(os.Stderr, "Lines: %d (%.0f/sec)\n", lines, float64(lines)/elapsed)
	fmt.Fprintf(os.Stderr, "Bytes: %d (%.0f/sec)\n", bytes, float64(bytes)/elapsed)
	fmt.Fprintf(os.Stderr, "============================\n\n")
}

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  "info",
		Format: "console",
	})

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	f, ok := formats[*formatName]
	if !ok {
		return fmt.Errorf("unknown format %q", *formatName)
	}
	if *rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}

	out := os.Stdout
	if *outPath != "" {
		file, err := os.OpenFile(*outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer file.Close()
		out = file
	}
	w := bufio.NewWriterSize(out, 256*1024)
	defer w.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*duration)*time.Second)
		defer cancel()
	}

	src := *seed
	if src == 0 {
		src = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(src))

	logger.Info().
		Str("format", f.name).
		Int("rate", *rate).
		Str("out", orStdout(*outPath)).
		Msg("generator starting")

	stats := &Stats{startTime: time.Now()}
	go func() {
		ticker := time.NewTicker(time.Duration(*interval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.Report()
			}
		}
	}()

	// Pacing works in small ticks so high rates do not need a
	// sub-millisecond timer.
	perTick := *rate / int(time.Second/tickInterval)
	if perTick < 1 {
		perTick = 1
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	written := uint64(0)
	for {
		select {
		case <-ctx.Done():
			stats.Report()
			logger.Info().Msg("generator stopped")
			return nil
		case <-ticker.C:
			for i := 0; i < perTick; i++ {
				n := writeEntry(w, r, f, stats)
				if n < 0 {
					return fmt.Errorf("write output: short write")
				}
				written++
				if *count > 0 && written >= *count {
					w.Flush()
					stats.Report()
					logger.Info().Uint64("entries", written).Msg("entry count reached")
					return nil
				}
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("flush output: %w", err)
			}
		}
	}
}

func orStdout(path string) string {
	if path == "" {
		return "stdout"
	}
	return path
}

// writeEntry emits one entry plus any continuation lines and returns
// the byte count, or -1 on a write error.
func writeEntry(w *bufio.Writer, r *rand.Rand, f format, stats *Stats) int {
	sev := pickSeverity(r)
	msg := messages[sev][r.Intn(len(messages[sev]))]
	line := f.line(r, time.Now(), sev, msg)

	total := 0
	n, err := w.WriteString(line + "\n")
	if err != nil {
		return -1
	}
	total += n
	lines := uint64(1)

	if f.cont != nil && r.Float64() < *contFraction {
		for i := 0; i < 1+r.Intn(4); i++ {
			n, err := w.WriteString(f.cont(r) + "\n")
			if err != nil {
				return -1
			}
			total += n
			lines++
		}
	}

	stats.entries.Add(1)
	stats.lines.Add(lines)
	stats.bytes.Add(uint64(total))
	return total
}

type severity int

const (
	sevDebug severity = iota
	sevInfo
	sevWarning
	sevError
	sevCritical
)

func pickSeverity(r *rand.Rand) severity {
	n := r.Float64()
	switch {
	case n < 0.10:
		return sevDebug
	case n < 0.80:
		return sevInfo
	case n < 0.92:
		return sevWarning
	case n < 0.99:
		return sevError
	default:
		return sevCritical
	}
}

var messages = map[severity][]string{
	sevDebug: {
		"Entering retry loop, attempt 1",
		"Cache hit for repository metadata",
		"Heartbeat sent to coordinator",
	},
	sevInfo: {
		"Job 'Nightly Backup' started",
		"Session completed successfully",
		"Connected to repository 'Main'",
		"Processing disk 'Hard disk 1'",
		"Snapshot created",
		"Transferred 4.2 GB in 38 sec",
		"Restore point created",
	},
	sevWarning: {
		"High memory usage detected",
		"Retrying connection to host",
		"Repository is nearly full",
		"Slow disk throughput, 12 MB/s",
	},
	sevError: {
		"Failed to create snapshot",
		"Connection refused by host",
		"Database query timeout",
		"Access denied to network share",
	},
	sevCritical: {
		"Service terminated unexpectedly",
		"Out of memory, aborting session",
	},
}

// format renders an entry line for one log dialect. cont renders a
// continuation line and is nil for dialects with single-line entries.
type format struct {
	name string
	line func(r *rand.Rand, ts time.Time, sev severity, msg string) string
	cont func(r *rand.Rand) string
}

var formats = map[string]format{
	"veeam-vbr": {
		name: "veeam-vbr",
		line: func(r *rand.Rand, ts time.Time, sev severity, msg string) string {
			return fmt.Sprintf("[%s] <%4d> %-8s %s",
				ts.Format("02.01.2006 15:04:05.000"), 1+r.Intn(9000), veeamLevels[sev], msg)
		},
		cont: func(r *rand.Rand) string {
			return "   at " + dotnetFrames[r.Intn(len(dotnetFrames))]
		},
	},
	"syslog": {
		name: "syslog",
		line: func(r *rand.Rand, ts time.Time, sev severity, msg string) string {
			prog := syslogProgs[r.Intn(len(syslogProgs))]
			return fmt.Sprintf("%s %s %s[%d]: %s",
				ts.Format("Jan _2 15:04:05"), "backup01", prog, 100+r.Intn(30000), msg)
		},
	},
	"log4j": {
		name: "log4j",
		line: func(r *rand.Rand, ts time.Time, sev severity, msg string) string {
			return fmt.Sprintf("%s,%03d %-5s [%s] %s - %s",
				ts.Format("2006-01-02 15:04:05"), ts.Nanosecond()/1e6,
				log4jLevels[sev], javaThreads[r.Intn(len(javaThreads))],
				javaClasses[r.Intn(len(javaClasses))], msg)
		},
		cont: func(r *rand.Rand) string {
			return "\tat " + javaFrames[r.Intn(len(javaFrames))]
		},
	},
	"json-lines": {
		name: "json-lines",
		line: func(r *rand.Rand, ts time.Time, sev severity, msg string) string {
			return fmt.Sprintf(`{"time":"%s","level":"%s","msg":"%s","pid":%d}`,
				ts.UTC().Format("2006-01-02T15:04:05.000Z"), jsonLevels[sev], msg, 100+r.Intn(30000))
		},
	},
	"generic": {
		name: "generic",
		line: func(r *rand.Rand, ts time.Time, sev severity, msg string) string {
			return fmt.Sprintf("%s %s", ts.Format("2006-01-02 15:04:05.000"), msg)
		},
	},
}

var (
	veeamLevels = map[severity]string{
		sevDebug: "Debug", sevInfo: "Info", sevWarning: "Warning",
		sevError: "Error", sevCritical: "Fatal",
	}
	log4jLevels = map[severity]string{
		sevDebug: "DEBUG", sevInfo: "INFO", sevWarning: "WARN",
		sevError: "ERROR", sevCritical: "FATAL",
	}
	jsonLevels = map[severity]string{
		sevDebug: "debug", sevInfo: "info", sevWarning: "warn",
		sevError: "error", sevCritical: "fatal",
	}

	syslogProgs = []string{"backupd", "sshd", "cron", "systemd", "kernel"}
	javaThreads = []string{"main", "worker-1", "worker-2", "scheduler-3"}
	javaClasses = []string{
		"com.acme.backup.JobRunner",
		"com.acme.backup.RepositoryClient",
		"com.acme.backup.SnapshotService",
	}
	javaFrames = []string{
		"com.acme.backup.JobRunner.run(JobRunner.java:42)",
		"com.acme.backup.SnapshotService.create(SnapshotService.java:117)",
		"java.base/java.lang.Thread.run(Thread.java:833)",
	}
	dotnetFrames = []string{
		"Veeam.Backup.Core.CBackupJob.Start()",
		"Veeam.Backup.AgentProvider.CAgentChannel.Invoke()",
		"System.Net.Sockets.Socket.Connect(EndPoint remoteEP)",
	}
)
