package reliability

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned while the breaker refuses calls.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrTooManyCalls is returned in half-open state once the probe
	// budget is used up.
	ErrTooManyCalls = errors.New("too many calls in half-open state")
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultBreakerMaxRequests      = 1
	DefaultBreakerInterval         = 60 * time.Second
	DefaultBreakerTimeout          = 30 * time.Second
	DefaultBreakerFailureThreshold = 5
)

// BreakerConfig controls a CircuitBreaker.
type BreakerConfig struct {
	// MaxRequests is how many probe calls may run while half-open.
	MaxRequests uint32
	// Interval is how often closed-state counters reset, so stale
	// failures age out instead of accumulating toward the threshold.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that trips
	// the breaker.
	FailureThreshold uint32
	// OnStateChange, when set, observes every transition.
	OnStateChange func(from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = DefaultBreakerMaxRequests
	}
	if c.Interval <= 0 {
		c.Interval = DefaultBreakerInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultBreakerTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultBreakerFailureThreshold
	}
	return c
}

// Counts tracks call outcomes within the current generation.
type Counts struct {
	Calls                uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker fails fast on a file that keeps erroring instead of
// hammering it every poll tick. After Timeout it lets probe calls
// through; enough consecutive successes close it again.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		cfg:    cfg,
		state:  StateClosed,
		expiry: time.Now().Add(cfg.Interval),
	}
}

// Execute runs fn if the breaker allows it and records the outcome. A
// panic inside fn counts as a failure before repanicking.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.beforeCall()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterCall(gen, false)
			panic(r)
		}
	}()

	err = fn()
	cb.afterCall(gen, err == nil)
	return err
}

// State reports the current state, accounting for timeout expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.currentState(time.Now())
	return state
}

// Counts returns a copy of the current generation's counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.toNewGeneration(time.Now())
}

func (cb *CircuitBreaker) beforeCall() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)

	if state == StateOpen {
		return generation, ErrCircuitOpen
	}
	if state == StateHalfOpen && cb.counts.Calls >= cb.cfg.MaxRequests {
		return generation, ErrTooManyCalls
	}

	cb.counts.Calls++
	return generation, nil
}

func (cb *CircuitBreaker) afterCall(before uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)
	// A state change since beforeCall started a new generation; the
	// outcome belongs to the old one and is discarded.
	if generation != before {
		return
	}

	if success {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		cb.counts.Successes++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		cb.counts.Successes++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.counts.ConsecutiveSuccesses >= cb.cfg.MaxRequests {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		cb.counts.Failures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		if cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState rolls the state forward past any expired deadline.
// Callers must hold mu.
func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.toNewGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.toNewGeneration(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(prev, state)
	}
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		cb.expiry = now.Add(cb.cfg.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.cfg.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}
