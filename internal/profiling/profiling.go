// Package profiling exposes pprof for long-running sessions and can
// dump CPU and heap profiles on shutdown. A goroutine watermark is
// sampled in the background so leaks in tail or watch sessions show up
// in the logs before they show up in memory.
package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"sync"
	"time"

	"github.com/Swatto86/LogSleuth/internal/logging"
)

const goroutineSampleInterval = 30 * time.Second

// Config selects which profiling surfaces to run. An empty Address
// disables the HTTP server; empty profile paths disable the dumps.
type Config struct {
	Enabled            bool
	Address            string
	CPUProfilePath     string
	MemProfilePath     string
	BlockProfile       bool
	MutexProfile       bool
	GoroutineThreshold int
}

// Profiler owns the pprof server and the shutdown profile dumps.
type Profiler struct {
	cfg    Config
	log    *logging.Logger
	server *http.Server

	cpuFile *os.File

	mu     sync.Mutex
	peak   int
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Profiler {
	if cfg.GoroutineThreshold <= 0 {
		cfg.GoroutineThreshold = 10000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Profiler{
		cfg:    cfg,
		log:    logging.Global().WithComponent("profiling"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start enables the configured profiling surfaces. A disabled profiler
// starts nothing and Stop is then a no-op.
func (p *Profiler) Start() error {
	if !p.cfg.Enabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.BlockProfile {
		runtime.SetBlockProfileRate(1)
	}
	if p.cfg.MutexProfile {
		runtime.SetMutexProfileFraction(1)
	}

	if p.cfg.CPUProfilePath != "" {
		if err := p.startCPUProfile(); err != nil {
			return fmt.Errorf("start cpu profile: %w", err)
		}
	}

	if p.cfg.Address != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("/debug/stats", p.statsHandler)
		mux.HandleFunc("/debug/gc", p.gcHandler)

		p.server = &http.Server{Addr: p.cfg.Address, Handler: mux}
		go func() {
			p.log.Info().Str("address", p.cfg.Address).Msg("pprof server listening")
			if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				p.log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go p.watchGoroutines()

	p.log.Info().Msg("profiling started")
	return nil
}

// Stop writes the configured profile dumps and shuts the server down.
func (p *Profiler) Stop() error {
	if !p.cfg.Enabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancel()

	if p.cpuFile != nil {
		runtimepprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
		p.log.Info().Str("path", p.cfg.CPUProfilePath).Msg("cpu profile written")
	}

	if p.cfg.MemProfilePath != "" {
		if err := p.writeHeapProfile(); err != nil {
			p.log.Error().Err(err).Msg("heap profile failed")
		}
	}

	if p.cfg.BlockProfile {
		runtime.SetBlockProfileRate(0)
	}
	if p.cfg.MutexProfile {
		runtime.SetMutexProfileFraction(0)
	}

	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.server.Shutdown(ctx); err != nil {
			p.log.Error().Err(err).Msg("pprof server shutdown failed")
		}
	}

	p.log.Info().Int("goroutine_peak", p.peak).Msg("profiling stopped")
	return nil
}

func (p *Profiler) startCPUProfile() error {
	f, err := os.Create(p.cfg.CPUProfilePath)
	if err != nil {
		return err
	}
	if err := runtimepprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	p.cpuFile = f
	p.log.Info().Str("path", p.cfg.CPUProfilePath).Msg("cpu profiling started")
	return nil
}

func (p *Profiler) writeHeapProfile() error {
	f, err := os.Create(p.cfg.MemProfilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	runtime.GC()
	if err := runtimepprof.WriteHeapProfile(f); err != nil {
		return err
	}
	p.log.Info().Str("path", p.cfg.MemProfilePath).Msg("heap profile written")
	return nil
}

func (p *Profiler) watchGoroutines() {
	ticker := time.NewTicker(goroutineSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sampleGoroutines()
		}
	}
}

// sampleGoroutines records the goroutine high watermark and returns
// it. Crossing the configured threshold logs at warn level.
func (p *Profiler) sampleGoroutines() int {
	count := runtime.NumGoroutine()

	p.mu.Lock()
	if count > p.peak {
		p.peak = count
	}
	peak := p.peak
	p.mu.Unlock()

	if count > p.cfg.GoroutineThreshold {
		p.log.Warn().
			Int("goroutines", count).
			Int("watermark", peak).
			Int("threshold", p.cfg.GoroutineThreshold).
			Msg("goroutine count above threshold")
	} else {
		p.log.Debug().Int("goroutines", count).Int("watermark", peak).Msg("goroutine sample")
	}
	return peak
}

type runtimeStats struct {
	Goroutines      int        `json:"goroutines"`
	GoroutinePeak   int        `json:"goroutine_peak"`
	CPUs            int        `json:"cpus"`
	HeapAllocBytes  uint64     `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64     `json:"heap_sys_bytes"`
	HeapObjects     uint64     `json:"heap_objects"`
	TotalAllocBytes uint64     `json:"total_alloc_bytes"`
	NumGC           uint32     `json:"num_gc"`
	GCPauseTotalMs  uint64     `json:"gc_pause_total_ms"`
	LastGC          *time.Time `json:"last_gc,omitempty"`
}

func (p *Profiler) statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	p.mu.Lock()
	peak := p.peak
	p.mu.Unlock()

	stats := runtimeStats{
		Goroutines:      runtime.NumGoroutine(),
		GoroutinePeak:   peak,
		CPUs:            runtime.NumCPU(),
		HeapAllocBytes:  m.HeapAlloc,
		HeapSysBytes:    m.HeapSys,
		HeapObjects:     m.HeapObjects,
		TotalAllocBytes: m.TotalAlloc,
		NumGC:           m.NumGC,
		GCPauseTotalMs:  m.PauseTotalNs / 1e6,
	}
	if m.LastGC > 0 {
		t := time.Unix(0, int64(m.LastGC)).UTC()
		stats.LastGC = &t
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (p *Profiler) gcHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	before := m.Alloc

	runtime.GC()
	runtime.ReadMemStats(&m)

	var freed uint64
	if before > m.Alloc {
		freed = before - m.Alloc
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{
		"heap_before_bytes": before,
		"heap_after_bytes":  m.Alloc,
		"freed_bytes":       freed,
	})
}
