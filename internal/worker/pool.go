// Package worker provides the bounded task pool that fans profile
// detection out across discovered files.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Swatto86/LogSleuth/internal/logging"
)

// ErrPoolClosed is returned by Submit once the pool has been stopped.
var ErrPoolClosed = errors.New("worker pool is closed")

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Task is one unit of work. Tasks deliver results by writing wherever
// their closure points and report failure through the return value.
type Task func() error

// Config controls a Pool.
type Config struct {
	// Workers is the number of goroutines draining the queue.
	Workers int
	// QueueSize bounds pending tasks. Submit blocks while the queue
	// is full, which is the backpressure.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Processed uint64
	Failed    uint64
	Active    int64
	Queued    int
}

// Pool runs tasks on a fixed set of goroutines. Submit and Stop are
// meant to be called from the same goroutine: the submitter stops the
// pool after its last Submit has returned.
type Pool struct {
	cfg   Config
	tasks chan Task
	quit  chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once

	processed atomic.Uint64
	failed    atomic.Uint64
	active    atomic.Int64
}

func logComponent() *logging.Logger {
	return logging.Global().WithComponent("worker")
}

// New creates a pool. Call Start before submitting.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:   cfg,
		tasks: make(chan Task, cfg.QueueSize),
		quit:  make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit queues a task, blocking while the queue is full. It fails once
// the pool is stopped or ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Stop drains queued tasks and waits for the workers to exit. Tasks
// submitted before Stop all run; cancellation of in-flight work is the
// tasks' own business via whatever context their closures captured.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		close(p.tasks)
	})
	p.wg.Wait()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Active:    p.active.Load(),
		Queued:    len(p.tasks),
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.processed.Add(1)
			p.failed.Add(1)
			logComponent().Error().Interface("panic", r).Msg("pool task panicked")
		}
	}()

	err := task()
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
}
