// Package health answers whether a long-running session is still able
// to do its job. Checks run in parallel under a shared per-check
// timeout; every check result is mirrored into the health status gauge
// so probes and metrics never disagree.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Swatto86/LogSleuth/internal/logging"
	"github.com/Swatto86/LogSleuth/internal/metrics"
)

// Status is the condition of one component or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

func worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// gaugeValue maps a status onto the health status gauge.
func gaugeValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// Result is the outcome of a single check.
type Result struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Check probes one component. The context carries the per-check
// timeout; a check that ignores it is cut off by the caller's deadline
// only, so checks should honor ctx.
type Check func(ctx context.Context) Result

// Checker runs registered checks and serves the probe endpoints.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	overall Status
	timeout time.Duration
	log     *logging.Logger
	m       *metrics.Collector
}

const DefaultCheckTimeout = 5 * time.Second

// NewChecker returns a checker whose individual checks are cut off
// after timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{
		checks:  make(map[string]Check),
		overall: StatusHealthy,
		timeout: timeout,
		log:     logging.Global().WithComponent("health"),
		m:       metrics.Global(),
	}
}

// Register adds a named check. Re-registering a name replaces it.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Unregister removes a named check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Report is the full picture one Check call produced.
type Report struct {
	Status     Status            `json:"status"`
	Components map[string]Result `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Check runs every registered check in parallel and folds the results
// into an overall status. No registered checks means healthy.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, chk := range c.checks {
		checks[name] = chk
	}
	c.mu.RUnlock()

	rep := Report{
		Status:     StatusHealthy,
		Components: make(map[string]Result, len(checks)),
		CheckedAt:  time.Now(),
	}

	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for name, chk := range checks {
		wg.Add(1)
		go func(name string, chk Check) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			res := chk(checkCtx)
			res.CheckedAt = time.Now()
			c.m.HealthStatus.WithLabelValues(name).Set(gaugeValue(res.Status))

			resMu.Lock()
			rep.Components[name] = res
			rep.Status = worse(rep.Status, res.Status)
			resMu.Unlock()
		}(name, chk)
	}
	wg.Wait()

	c.noteOverall(rep.Status)
	return rep
}

// noteOverall logs transitions between overall statuses.
func (c *Checker) noteOverall(s Status) {
	c.mu.Lock()
	prev := c.overall
	c.overall = s
	c.mu.Unlock()

	if prev != s {
		c.log.Info().
			Str("from", string(prev)).
			Str("to", string(s)).
			Msg("overall health changed")
	}
}

// Handler serves the full health report. Unhealthy responds 503;
// degraded still responds 200 since the process is serving.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := c.Check(r.Context())

		code := http.StatusOK
		if rep.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

// LivenessHandler reports that the process is running at all. It never
// runs checks; a live but unhealthy process still answers 200 here.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler runs the checks and answers 503 when unhealthy.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := c.Check(r.Context())

		code := http.StatusOK
		if rep.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":     rep.Status,
			"checked_at": rep.CheckedAt,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// DirReadable reports whether a watched or scanned root can still be
// opened and listed. A root that disappears mid-session turns the
// process unhealthy.
func DirReadable(path string) Check {
	return func(ctx context.Context) Result {
		fi, err := os.Stat(path)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("stat %s: %v", path, err)}
		}
		if !fi.IsDir() {
			return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("%s is not a directory", path)}
		}
		f, err := os.Open(path)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("open %s: %v", path, err)}
		}
		defer f.Close()
		if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
			return Result{Status: StatusDegraded, Message: fmt.Sprintf("list %s: %v", path, err)}
		}
		return Result{Status: StatusHealthy, Details: map[string]any{"path": path}}
	}
}

// ProfilesLoaded reports whether the registry still holds any format
// profiles. count is read at probe time so hot reloads are reflected.
func ProfilesLoaded(count func() int) Check {
	return func(ctx context.Context) Result {
		n := count()
		if n == 0 {
			return Result{Status: StatusUnhealthy, Message: "no format profiles loaded"}
		}
		return Result{Status: StatusHealthy, Details: map[string]any{"profiles": n}}
	}
}

// QueueBacklog watches a progress queue's depth. Crossing warn turns
// the component degraded, crossing fail turns it unhealthy; consumers
// falling this far behind are losing the live view.
func QueueBacklog(depth func() int, warn, fail int) Check {
	return func(ctx context.Context) Result {
		d := depth()
		details := map[string]any{"depth": d}
		switch {
		case fail > 0 && d >= fail:
			return Result{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("backlog %d at or over limit %d", d, fail),
				Details: details,
			}
		case warn > 0 && d >= warn:
			return Result{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("backlog %d at or over threshold %d", d, warn),
				Details: details,
			}
		default:
			return Result{Status: StatusHealthy, Details: details}
		}
	}
}
