package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Swatto86/LogSleuth/internal/parser"
	"github.com/Swatto86/LogSleuth/internal/pool"
	"github.com/Swatto86/LogSleuth/internal/profile"
	"github.com/Swatto86/LogSleuth/internal/progress"
	"github.com/Swatto86/LogSleuth/internal/worker"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

func mustProfile(b *testing.B, id string) *profile.FormatProfile {
	b.Helper()
	reg, err := profile.NewRegistry(profile.Config{}, nil)
	if err != nil {
		b.Fatal(err)
	}
	p, err := reg.Snapshot().Get(id)
	if err != nil {
		b.Fatal(err)
	}
	return p
}

func buildContent(lines int, line func(i int, ts time.Time) string) string {
	var sb strings.Builder
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	for i := 0; i < lines; i++ {
		sb.WriteString(line(i, base.Add(time.Duration(i)*time.Second)))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// BenchmarkParseVeeam benchmarks single-line entry parsing with a
// regex profile.
func BenchmarkParseVeeam(b *testing.B) {
	prof := mustProfile(b, "veeam-vbr")
	content := buildContent(1000, func(i int, ts time.Time) string {
		return fmt.Sprintf("[%s] <%4d> %-8s Processing disk 'Hard disk %d'",
			ts.Format("02.01.2006 15:04:05.000"), 1+i%97, "Info", i%4)
	})
	cfg := parser.DefaultConfig()

	b.ResetTimer()
	b.ReportAllocs()

	var lines uint64
	for i := 0; i < b.N; i++ {
		res := parser.Parse(content, "bench.log", prof, cfg, 1)
		if len(res.Errors) > 0 {
			b.Fatalf("parse errors: %v", res.Errors[0])
		}
		lines += res.LinesProcessed
	}

	b.ReportMetric(float64(lines)/b.Elapsed().Seconds(), "lines/sec")
}

// BenchmarkParseLog4jMultiline benchmarks continuation folding, with
// every fourth entry trailing a stack trace.
func BenchmarkParseLog4jMultiline(b *testing.B) {
	prof := mustProfile(b, "log4j-default")
	content := buildContent(250, func(i int, ts time.Time) string {
		entry := fmt.Sprintf("%s,%03d %-5s [worker-%d] com.acme.backup.JobRunner - Job step %d",
			ts.Format("2006-01-02 15:04:05"), i%1000, "INFO", i%8, i)
		if i%4 == 0 {
			entry += "\n\tat com.acme.backup.JobRunner.run(JobRunner.java:42)" +
				"\n\tat java.base/java.lang.Thread.run(Thread.java:833)"
		}
		return entry
	})
	cfg := parser.DefaultConfig()

	b.ResetTimer()
	b.ReportAllocs()

	var lines uint64
	for i := 0; i < b.N; i++ {
		res := parser.Parse(content, "bench.log", prof, cfg, 1)
		lines += res.LinesProcessed
	}

	b.ReportMetric(float64(lines)/b.Elapsed().Seconds(), "lines/sec")
}

// BenchmarkParsePlainText benchmarks the fallback path where every
// line is an entry and timestamps come from the sniffer.
func BenchmarkParsePlainText(b *testing.B) {
	reg, err := profile.NewRegistry(profile.Config{}, nil)
	if err != nil {
		b.Fatal(err)
	}
	prof, err := reg.Snapshot().PlainText()
	if err != nil {
		b.Fatal(err)
	}
	content := buildContent(1000, func(i int, ts time.Time) string {
		return fmt.Sprintf("%s backup step %d completed", ts.Format("2006-01-02 15:04:05"), i)
	})
	cfg := parser.DefaultConfig()

	b.ResetTimer()
	b.ReportAllocs()

	var lines uint64
	for i := 0; i < b.N; i++ {
		res := parser.Parse(content, "bench.log", prof, cfg, 1)
		lines += res.LinesProcessed
	}

	b.ReportMetric(float64(lines)/b.Elapsed().Seconds(), "lines/sec")
}

// BenchmarkDetect benchmarks profile scoring over a detection sample.
func BenchmarkDetect(b *testing.B) {
	reg, err := profile.NewRegistry(profile.Config{}, nil)
	if err != nil {
		b.Fatal(err)
	}
	snap := reg.Snapshot()

	samples := map[string][]string{
		"veeam": {
			"[15.01.2024 09:00:05] <01> Info     Job 'Nightly' started",
			"[15.01.2024 09:00:06] <01> Info     Connected to repository 'Main'",
			"[15.01.2024 09:00:07] <01> Error    Failed to create snapshot",
		},
		"log4j": {
			"2024-01-15 14:30:22,123 INFO  [main] com.example.Service - Started in 2.5s",
			"2024-01-15 14:30:23,456 ERROR [worker-1] com.example.Job - Job failed",
		},
		"plain": {
			"something happened",
			"something else happened",
		},
	}

	for name, sample := range samples {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				snap.Detect("bench.log", sample, 0.30, 0.30)
			}
		})
	}
}

// BenchmarkParseTimestamp benchmarks layout-driven timestamp parsing.
func BenchmarkParseTimestamp(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := parser.ParseTimestamp("15.01.2024 09:00:05.123", "02.01.2006 15:04:05", false); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSniffTimestamp benchmarks format-guessing over raw lines.
func BenchmarkSniffTimestamp(b *testing.B) {
	lines := []string{
		"2024-01-15T14:30:22.123Z connection closed",
		"Jan 15 14:30:22 host sshd[1234]: accepted",
		"no timestamp on this line at all",
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		parser.SniffTimestamp(lines[i%len(lines)])
	}
}

// BenchmarkQueuePush benchmarks uncontended progress delivery.
func BenchmarkQueuePush(b *testing.B) {
	q := progress.New[types.ScanProgress]()
	msg := types.ScanFileStarted{Path: "bench.log", Index: 1}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		q.Push(msg)
		if i%1024 == 0 {
			q.Drain(0)
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "msgs/sec")
}

// BenchmarkQueuePushNext benchmarks delivery with a concurrent
// consumer, the shape every session runs in.
func BenchmarkQueuePushNext(b *testing.B) {
	q := progress.New[types.ScanProgress]()
	msg := types.ScanFileStarted{Path: "bench.log", Index: 1}
	done := make(chan struct{})

	go func() {
		defer close(done)
		ctx := context.Background()
		for {
			if _, err := q.Next(ctx); err != nil {
				return
			}
		}
	}()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		q.Push(msg)
	}
	q.Close()
	<-done

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "msgs/sec")
}

// BenchmarkWorkerPool benchmarks task fan-out, the shape detection
// runs in during a scan.
func BenchmarkWorkerPool(b *testing.B) {
	p := worker.New(worker.Config{Workers: 4})
	p.Start()
	defer p.Stop()

	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = p.Submit(ctx, func() error { return nil })
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "tasks/sec")
}

// BenchmarkBytePool compares pooled and fresh read buffers.
func BenchmarkBytePool(b *testing.B) {
	const size = 64 * 1024

	b.Run("WithoutPool", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			buf := make([]byte, size)
			buf[0] = byte(i)
		}
	})

	b.Run("WithPool", func(b *testing.B) {
		p := pool.NewBytePool(size)
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			buf := p.Get()
			buf[0] = byte(i)
			p.Put(buf)
		}
	})
}

// BenchmarkDecodeBytes benchmarks encoding detection on the sample
// read path.
func BenchmarkDecodeBytes(b *testing.B) {
	utf8Data := []byte("[15.01.2024 09:00:05] <01> Info     Job 'Nightly' started\n")
	utf16Data := append([]byte{0xFF, 0xFE}, func() []byte {
		var out []byte
		for _, r := range "[15.01.2024 09:00:05] <01> Info     Job started\n" {
			out = append(out, byte(r), 0)
		}
		return out
	}()...)

	b.Run("UTF8", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			parser.DecodeBytes(utf8Data)
		}
	})

	b.Run("UTF16LE", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			parser.DecodeBytes(utf16Data)
		}
	})
}
