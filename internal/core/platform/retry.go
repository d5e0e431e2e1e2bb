package platform

import (
	"sync"
	"time"
)

type setupPhase int

const (
	setupPending setupPhase = iota
	setupRunning
	setupNotReady
	setupSucceeded
	setupFailed
)

func (p setupPhase) String() string {
	switch p {
	case setupPending:
		return "pending"
	case setupRunning:
		return "running"
	case setupNotReady:
		return "not_ready"
	case setupSucceeded:
		return "succeeded"
	case setupFailed:
		return "failed"
	}
	return "unknown"
}

// retryState is the setup retry state machine:
// pending -> running -> {succeeded | failed | not_ready -> pending after a
// capped linear backoff}. Not-ready retries are unbounded.
type retryState struct {
	mu      sync.Mutex
	phase   setupPhase
	attempt int
	unit    time.Duration
	cap     int
	timer   *time.Timer
}

func newRetryState(unit time.Duration, capAttempts int) *retryState {
	return &retryState{unit: unit, cap: capAttempts}
}

func (r *retryState) running() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = setupRunning
}

func (r *retryState) succeed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = setupSucceeded
	r.stopTimerLocked()
}

func (r *retryState) fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = setupFailed
}

// notReady bumps the attempt counter and schedules fn after the backoff
// delay min(attempt, cap) * unit. Returns the delay.
func (r *retryState) notReady(fn func()) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt++
	delay := r.backoffLocked()
	r.phase = setupNotReady
	r.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.phase = setupPending
		r.timer = nil
		r.mu.Unlock()
		fn()
	})
	return delay
}

func (r *retryState) backoffLocked() time.Duration {
	n := r.attempt
	if n > r.cap {
		n = r.cap
	}
	return time.Duration(n) * r.unit
}

// cancel stops a scheduled retry, if any.
func (r *retryState) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
}

func (r *retryState) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *retryState) currentPhase() setupPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *retryState) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}
