package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.now
	return cb, clock
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "deepgram"})
	if cb.cfg.MaxFailures != DefaultMaxFailures || cb.cfg.ResetTimeout != DefaultResetTimeout || cb.cfg.HalfOpenMax != DefaultHalfOpenMax {
		t.Errorf("config = %+v, want defaults", cb.cfg)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

// step is one call against a breaker, optionally after moving the clock.
type step struct {
	wait      time.Duration
	fn        func() error
	wantErr   error
	wantState State
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cfg := CircuitBreakerConfig{Name: "llm", MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMax: 2}

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "closed to open",
			steps: []step{
				{fn: fail, wantErr: errTest, wantState: StateClosed},
				{fn: fail, wantErr: errTest, wantState: StateOpen},
				{fn: succeed, wantErr: ErrCircuitOpen, wantState: StateOpen},
			},
		},
		{
			name: "success clears the failure streak",
			steps: []step{
				{fn: fail, wantErr: errTest, wantState: StateClosed},
				{fn: succeed, wantState: StateClosed},
				{fn: fail, wantErr: errTest, wantState: StateClosed},
			},
		},
		{
			name: "open until the reset timeout",
			steps: []step{
				{fn: fail, wantErr: errTest, wantState: StateClosed},
				{fn: fail, wantErr: errTest, wantState: StateOpen},
				{wait: 59 * time.Second, fn: succeed, wantErr: ErrCircuitOpen, wantState: StateOpen},
				{wait: time.Second, fn: succeed, wantState: StateHalfOpen},
			},
		},
		{
			name: "probes close the breaker",
			steps: []step{
				{fn: fail, wantErr: errTest, wantState: StateClosed},
				{fn: fail, wantErr: errTest, wantState: StateOpen},
				{wait: time.Minute, fn: succeed, wantState: StateHalfOpen},
				{fn: succeed, wantState: StateClosed},
			},
		},
		{
			name: "failed probe reopens",
			steps: []step{
				{fn: fail, wantErr: errTest, wantState: StateClosed},
				{fn: fail, wantErr: errTest, wantState: StateOpen},
				{wait: time.Minute, fn: fail, wantErr: errTest, wantState: StateOpen},
				{wait: 30 * time.Second, fn: succeed, wantErr: ErrCircuitOpen, wantState: StateOpen},
			},
		},
		{
			name: "cancellation is not a failure",
			steps: []step{
				{fn: func() error { return fmt.Errorf("llm: %w", context.Canceled) }, wantErr: context.Canceled, wantState: StateClosed},
				{fn: func() error { return context.Canceled }, wantErr: context.Canceled, wantState: StateClosed},
				{fn: fail, wantErr: errTest, wantState: StateClosed},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(cfg)
			for i, s := range tt.steps {
				clock.advance(s.wait)
				err := cb.Execute(s.fn)
				if s.wantErr == nil && err != nil {
					t.Fatalf("step %d: err = %v, want nil", i, err)
				}
				if s.wantErr != nil && !errors.Is(err, s.wantErr) {
					t.Fatalf("step %d: err = %v, want %v", i, err, s.wantErr)
				}
				cb.mu.Lock()
				got := cb.state
				cb.mu.Unlock()
				if got != s.wantState {
					t.Fatalf("step %d: state = %v, want %v", i, got, s.wantState)
				}
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.advance(time.Second)

	// The probe is still running when a second call arrives.
	var inner error
	err := cb.Execute(func() error {
		inner = cb.Execute(succeed)
		return nil
	})
	if err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if !errors.Is(inner, ErrCircuitOpen) {
		t.Errorf("concurrent call err = %v, want ErrCircuitOpen", inner)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_StateReportsHalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second})
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	clock.advance(10 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name:         "tts",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(fail)
	clock.advance(time.Second)
	_ = cb.Execute(succeed)
	cb.Reset()

	want := []string{"tts:closed->open", "tts:open->half-open", "tts:half-open->closed"}
	if !slices.Equal(transitions, want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}
