package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the three circuit breaker states.
type State int32

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

// ErrCircuitOpen is returned by Execute when the breaker is shorting calls.
var ErrCircuitOpen = errors.New("circuit open")

// Config tunes one breaker's thresholds. The defaults are a rolling 60s
// time window in 10 buckets, a 0.5 failure ratio, a minimum sample of 5,
// and a 30s cooldown before a half-open probe. The window is bounded by
// time only: it counts every request in the last 60s, with no cap on the
// number of requests it holds.
type Config struct {
	WindowSize      time.Duration
	BucketCount     int
	ErrorThreshold  float64
	VolumeThreshold int
	SleepWindow     time.Duration
	MaxSleepWindow  time.Duration
}

// DefaultConfig matches the gateway resilience layer's stated defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:      60 * time.Second,
		BucketCount:     10,
		ErrorThreshold:  0.5,
		VolumeThreshold: 5,
		SleepWindow:     30 * time.Second,
		MaxSleepWindow:  5 * time.Minute,
	}
}

// Breaker is a per-model circuit breaker. Half-open admits exactly one
// probe at a time via a CompareAndSwap-guarded token, so concurrent callers
// racing the half-open transition never send more than one trial request.
type Breaker struct {
	name   string
	cfg    Config
	window *SlidingWindow

	state          atomic.Int32
	openedAt       atomic.Int64 // unix nano
	sleepWindow    atomic.Int64 // nanoseconds, grows exponentially on repeated trips
	halfOpenInUse  atomic.Bool

	mu sync.Mutex
}

// New builds a breaker named name (typically a model identifier) using cfg,
// or DefaultConfig if cfg is the zero value.
func New(name string, cfg Config) *Breaker {
	if cfg.WindowSize == 0 {
		cfg = DefaultConfig()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		window: NewSlidingWindow(cfg.WindowSize, cfg.BucketCount),
	}
	b.sleepWindow.Store(int64(cfg.SleepWindow))
	return b
}

// State returns the breaker's current state, resolving an elapsed cooldown
// into half-open as a side effect (the same lazy-transition approach
// gomind's CanExecute uses instead of a background timer).
func (b *Breaker) State() State {
	return b.currentState(time.Now())
}

func (b *Breaker) currentState(now time.Time) State {
	s := State(b.state.Load())
	if s != StateOpen {
		return s
	}
	openedAt := time.Unix(0, b.openedAt.Load())
	sleep := time.Duration(b.sleepWindow.Load())
	if now.Sub(openedAt) >= sleep {
		b.mu.Lock()
		defer b.mu.Unlock()
		if State(b.state.Load()) == StateOpen && now.Sub(time.Unix(0, b.openedAt.Load())) >= sleep {
			b.state.Store(int32(StateHalfOpen))
			b.halfOpenInUse.Store(false)
			return StateHalfOpen
		}
		return State(b.state.Load())
	}
	return StateOpen
}

// Allow reports whether a call may proceed, reserving the single half-open
// probe slot if the breaker is in that state.
func (b *Breaker) Allow() bool {
	switch b.currentState(time.Now()) {
	case StateClosed:
		return true
	case StateHalfOpen:
		return b.halfOpenInUse.CompareAndSwap(false, true)
	default:
		return false
	}
}

// Execute runs fn if Allow permits it, recording the outcome. Non-nil,
// classifier-approved errors count toward the failure ratio; the
// classifier lets idempotent infra failures trip the breaker while
// content-policy or auth failures (caller's fault, not the model's) do not.
func (b *Breaker) Execute(ctx context.Context, classify func(error) bool, fn func(context.Context) error) error {
	if !b.Allow() {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	err := fn(ctx)
	countable := err != nil && (classify == nil || classify(err))
	b.recordOutcome(countable, err == nil)
	return err
}

// RecordSuccess registers a successful call outside of Execute, for
// callers (like streaming) that manage their own call lifecycle but still
// want breaker accounting.
func (b *Breaker) RecordSuccess() {
	b.recordOutcome(false, true)
}

// RecordFailure registers a failed call outside of Execute.
func (b *Breaker) RecordFailure() {
	b.recordOutcome(true, false)
}

func (b *Breaker) recordOutcome(failure, success bool) {
	now := time.Now()
	if success {
		b.window.RecordSuccess(now)
	} else if failure {
		b.window.RecordFailure(now)
	}

	switch State(b.state.Load()) {
	case StateHalfOpen:
		b.mu.Lock()
		defer b.mu.Unlock()
		if failure {
			b.trip(now)
			return
		}
		if success {
			b.close()
		}
	case StateClosed:
		if failure {
			b.evaluateTrip(now)
		}
	}
}

func (b *Breaker) evaluateTrip(now time.Time) {
	requests, failures := b.window.Totals(now)
	if requests < b.cfg.VolumeThreshold {
		return
	}
	if float64(failures)/float64(requests) < b.cfg.ErrorThreshold {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if State(b.state.Load()) == StateClosed {
		b.trip(now)
	}
}

// trip opens the circuit. A trip from closed uses the current cooldown
// (SleepWindow after a close); a trip from half-open (a failed probe)
// doubles it, capped at MaxSleepWindow, so a model that keeps failing its
// half-open probe gets progressively longer rest periods.
func (b *Breaker) trip(now time.Time) {
	if State(b.state.Load()) == StateHalfOpen {
		next := time.Duration(b.sleepWindow.Load()) * 2
		if next > b.cfg.MaxSleepWindow {
			next = b.cfg.MaxSleepWindow
		}
		if next <= 0 {
			next = b.cfg.SleepWindow
		}
		b.sleepWindow.Store(int64(next))
	}
	b.openedAt.Store(now.UnixNano())
	b.state.Store(int32(StateOpen))
	b.halfOpenInUse.Store(false)
}

func (b *Breaker) close() {
	b.state.Store(int32(StateClosed))
	b.sleepWindow.Store(int64(b.cfg.SleepWindow))
	b.halfOpenInUse.Store(false)
	b.window.Reset()
}

// Manager owns one Breaker per model identifier, created lazily.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewManager builds a Manager using cfg for every breaker it creates.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns (creating if needed) the breaker for modelID.
func (m *Manager) For(modelID string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[modelID]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[modelID]; ok {
		return b
	}
	b = New(modelID, m.cfg)
	m.breakers[modelID] = b
	return b
}

// Snapshot returns the current state of every breaker created so far,
// keyed by model identifier. Used by the metrics layer to publish
// per-model circuit-breaker state gauges; it holds the manager's read
// lock for the duration of the copy.
func (m *Manager) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.breakers))
	for id, b := range m.breakers {
		out[id] = b.State()
	}
	return out
}
