// Package shutdown coordinates teardown of long-running sessions. All
// registered steps run in parallel under one deadline, so a stuck
// session or listener cannot hold the process open past the timeout.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Swatto86/LogSleuth/internal/logging"
)

const DefaultTimeout = 30 * time.Second

// Func is one teardown step. The context carries the shared deadline.
type Func func(context.Context) error

type step struct {
	name string
	fn   Func
}

// Manager runs registered teardown steps exactly once.
type Manager struct {
	mu      sync.Mutex
	steps   []step
	timeout time.Duration
	once    sync.Once
	started chan struct{}
	done    chan struct{}
	log     *logging.Logger
}

// New returns a manager whose teardown is bounded by timeout.
func New(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		timeout: timeout,
		started: make(chan struct{}),
		done:    make(chan struct{}),
		log:     logging.Global().WithComponent("shutdown"),
	}
}

// Register adds a named teardown step. Registration after Shutdown has
// begun is ignored.
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.started:
		m.log.Warn().Str("step", name).Msg("registration after shutdown began, ignored")
		return
	default:
	}
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// WaitForSignal blocks until an interrupt arrives or Shutdown is
// called from elsewhere, then runs the teardown.
func (m *Manager) WaitForSignal(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		m.Shutdown()
	case <-m.started:
	}
}

// Shutdown runs all steps. Safe to call from several goroutines; only
// the first call performs the teardown.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		close(m.started)
		m.run()
	})
}

func (m *Manager) run() {
	m.mu.Lock()
	steps := make([]step, len(m.steps))
	copy(steps, m.steps)
	m.mu.Unlock()

	m.log.Info().
		Dur("timeout", m.timeout).
		Int("steps", len(steps)).
		Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
	)
	for _, s := range steps {
		wg.Add(1)
		go func(s step) {
			defer wg.Done()
			if err := s.fn(ctx); err != nil {
				failures.Add(1)
				m.log.Error().Err(err).Str("step", s.name).Msg("shutdown step failed")
				return
			}
			m.log.Debug().Str("step", s.name).Msg("shutdown step done")
		}(s)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if n := failures.Load(); n > 0 {
			m.log.Warn().Int64("failed", n).Msg("shutdown finished with failures")
		} else {
			m.log.Info().Msg("shutdown finished")
		}
	case <-ctx.Done():
		m.log.Warn().Dur("timeout", m.timeout).Msg("shutdown deadline hit, abandoning remaining steps")
	}

	close(m.done)
}

// Begun is closed as soon as shutdown is initiated, before any step
// has necessarily finished.
func (m *Manager) Begun() <-chan struct{} {
	return m.started
}

// Done is closed once the teardown has finished or been abandoned at
// the deadline.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until teardown completes or the given grace period ends.
func (m *Manager) Wait(grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-m.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not finish within %v", grace)
	}
}

// HandlePanic turns a panic into an orderly teardown, then re-panics
// so the crash still surfaces.
func (m *Manager) HandlePanic() {
	if r := recover(); r != nil {
		m.log.Error().Interface("panic", r).Msg("panic, shutting down")
		m.Shutdown()
		panic(r)
	}
}
