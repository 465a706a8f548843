package profiling

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDisabledProfilerDoesNothing(t *testing.T) {
	p := New(Config{Enabled: false})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestProfileDumpsWrittenOnStop(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.pprof")
	mem := filepath.Join(dir, "mem.pprof")

	p := New(Config{Enabled: true, CPUProfilePath: cpu, MemProfilePath: mem})
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	for _, path := range []string{cpu, mem} {
		fi, err := os.Stat(path)
		if err != nil {
			t.Errorf("profile %s not written: %v", path, err)
			continue
		}
		if fi.Size() == 0 {
			t.Errorf("profile %s is empty", path)
		}
	}
}

func TestMutexProfileFollowsLifecycle(t *testing.T) {
	p := New(Config{Enabled: true, BlockProfile: true, MutexProfile: true})
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// SetMutexProfileFraction returns the previous setting.
	if got := runtime.SetMutexProfileFraction(1); got != 1 {
		t.Errorf("mutex profile fraction = %d, want 1 after Start", got)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := runtime.SetMutexProfileFraction(0); got != 0 {
		t.Errorf("mutex profile fraction = %d, want 0 after Stop", got)
	}
}

func TestSampleGoroutinesTracksWatermark(t *testing.T) {
	p := New(Config{Enabled: true, GoroutineThreshold: 1 << 20})

	first := p.sampleGoroutines()
	if first < 1 {
		t.Fatalf("watermark = %d, want at least 1", first)
	}

	release := make(chan struct{})
	defer close(release)
	for i := 0; i < 25; i++ {
		go func() { <-release }()
	}

	second := p.sampleGoroutines()
	if second <= first {
		t.Errorf("watermark = %d after spawning goroutines, want above %d", second, first)
	}

	// The watermark never goes down even if the count does.
	if again := p.sampleGoroutines(); again < second {
		t.Errorf("watermark dropped from %d to %d", second, again)
	}
}

func TestStatsHandler(t *testing.T) {
	p := New(Config{Enabled: true})

	w := httptest.NewRecorder()
	p.statsHandler(w, httptest.NewRequest("GET", "/debug/stats", nil))

	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	var stats runtimeStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if stats.Goroutines < 1 {
		t.Errorf("goroutines = %d, want at least 1", stats.Goroutines)
	}
	if stats.HeapAllocBytes == 0 {
		t.Error("heap_alloc_bytes = 0")
	}
	if stats.CPUs < 1 {
		t.Errorf("cpus = %d, want at least 1", stats.CPUs)
	}
}

func TestGCHandler(t *testing.T) {
	p := New(Config{Enabled: true})

	w := httptest.NewRecorder()
	p.gcHandler(w, httptest.NewRequest("GET", "/debug/gc", nil))

	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	var body map[string]uint64
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["heap_after_bytes"]; !ok {
		t.Errorf("body = %v, want heap_after_bytes", body)
	}
}
