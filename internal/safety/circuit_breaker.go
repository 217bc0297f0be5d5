package safety

import (
	"sync"
	"time"
)

// BreakerConfig holds the failure-rate window parameters.
type BreakerConfig struct {
	WindowSize           int     // Number of attempt outcomes tracked
	FailureRateThreshold float64 // Rate above which the breaker trips
}

// DefaultBreakerConfig returns the standard placement breaker: trip when
// more than 2% of the last 100 attempts failed.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:           100,
		FailureRateThreshold: 0.02,
	}
}

// CircuitBreaker tracks placement outcomes in a fixed-size ring buffer and
// trips on a sustained failure rate. A trip requires the window to have
// filled at least once; until then the rate is not considered meaningful.
// Once tripped it stays tripped until Reset, which models the manual
// intervention the halt is meant to force.
type CircuitBreaker struct {
	config BreakerConfig
	name   string

	mu             sync.Mutex
	window         []bool // true = failure
	next           int
	totalAttempts  int
	windowFailures int
	tripped        bool
	lastFailure    time.Time
}

// NewCircuitBreaker creates a breaker with the given window parameters.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.WindowSize <= 0 {
		config.WindowSize = 100
	}
	if config.FailureRateThreshold <= 0 {
		config.FailureRateThreshold = 0.02
	}
	return &CircuitBreaker{
		config: config,
		name:   name,
		window: make([]bool, config.WindowSize),
	}
}

// Record adds one attempt outcome to the window.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := !success
	if cb.totalAttempts >= cb.config.WindowSize && cb.window[cb.next] {
		cb.windowFailures--
	}
	cb.window[cb.next] = failed
	cb.next = (cb.next + 1) % cb.config.WindowSize
	cb.totalAttempts++

	if failed {
		cb.windowFailures++
		cb.lastFailure = time.Now()
	}

	if cb.totalAttempts >= cb.config.WindowSize && cb.failureRateLocked() > cb.config.FailureRateThreshold {
		cb.tripped = true
	}
}

// Tripped reports whether automated placement must halt.
func (cb *CircuitBreaker) Tripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.tripped
}

// FailureRate returns the failure rate over the current window.
func (cb *CircuitBreaker) FailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureRateLocked()
}

func (cb *CircuitBreaker) failureRateLocked() float64 {
	observed := cb.totalAttempts
	if observed > cb.config.WindowSize {
		observed = cb.config.WindowSize
	}
	if observed == 0 {
		return 0
	}
	return float64(cb.windowFailures) / float64(observed)
}

// Reset re-arms a tripped breaker and clears the window. Manual operation.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.window = make([]bool, cb.config.WindowSize)
	cb.next = 0
	cb.totalAttempts = 0
	cb.windowFailures = 0
	cb.tripped = false
}

// ForceTrip trips the breaker regardless of the window contents.
func (cb *CircuitBreaker) ForceTrip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tripped = true
}

// BreakerStats is a snapshot of breaker state for monitoring.
type BreakerStats struct {
	Name           string
	WindowSize     int
	TotalAttempts  int
	WindowFailures int
	FailureRate    float64
	Tripped        bool
	LastFailure    time.Time
}

// Stats returns a snapshot of the breaker state.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Name:           cb.name,
		WindowSize:     cb.config.WindowSize,
		TotalAttempts:  cb.totalAttempts,
		WindowFailures: cb.windowFailures,
		FailureRate:    cb.failureRateLocked(),
		Tripped:        cb.tripped,
		LastFailure:    cb.lastFailure,
	}
}
