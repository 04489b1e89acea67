package reliability

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling fn while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is a circuit breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// MaxFailures consecutive failures open the breaker. Minimum 1.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before one trial call.
	ResetTimeout time.Duration
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)
	Now           func() time.Time
}

// CircuitBreaker fails calls fast after MaxFailures consecutive errors and
// lets a single trial call through once ResetTimeout has passed.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.MaxFailures = max(cfg.MaxFailures, 1)
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the breaker rejects it. A nil breaker always runs fn.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}

	now := c.cfg.Now()
	if err := c.admit(now); err != nil {
		return err
	}
	err := fn()
	c.record(now, err)
	return err
}

// admit decides whether a call may run and claims the trial slot when half-open.
func (c *CircuitBreaker) admit(now time.Time) error {
	c.mu.Lock()
	from := c.state
	switch c.state {
	case StateOpen:
		if now.Sub(c.openedAt) < c.cfg.ResetTimeout {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.state = StateHalfOpen
		c.trial = true
	case StateHalfOpen:
		if c.trial {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.trial = true
	}
	to := c.state
	c.mu.Unlock()

	c.notify(from, to)
	return nil
}

func (c *CircuitBreaker) record(now time.Time, err error) {
	c.mu.Lock()
	from := c.state
	c.trial = false
	switch {
	case err == nil:
		c.state = StateClosed
		c.failures = 0
	case c.state == StateHalfOpen:
		c.state = StateOpen
		c.openedAt = now
		c.failures = 0
	default:
		c.failures++
		if c.failures >= c.cfg.MaxFailures {
			c.state = StateOpen
			c.openedAt = now
		}
	}
	to := c.state
	c.mu.Unlock()

	c.notify(from, to)
}

func (c *CircuitBreaker) notify(from, to State) {
	if from != to && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(from, to)
	}
}

// Open reports whether the breaker currently rejects calls.
func (c *CircuitBreaker) Open() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && c.cfg.Now().Sub(c.openedAt) < c.cfg.ResetTimeout
}
