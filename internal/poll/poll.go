// Package poll owns the sampling cadence: a self-rescheduling timer driven
// by the classifier's recommended delay, plus event-triggered early polls
// with a minimum spacing so event storms cannot cause unbounded polling.
package poll

import (
	"context"
	"log"
	"sync"
	"time"
)

// Func runs one poll cycle and returns the recommended delay until the next
// one. reason says what prompted the cycle ("timer", "start", an event name).
type Func func(ctx context.Context, reason string) time.Duration

// Config bounds the polling cadence.
type Config struct {
	MinInterval  time.Duration // floor for the rescheduling timer
	MaxInterval  time.Duration // ceiling when confidence is high and state static
	EventSpacing time.Duration // minimum gap between event-triggered early polls
	EventBuffer  time.Duration // short wait before an event poll so signals settle
}

// DefaultConfig returns the stock cadence bounds.
func DefaultConfig() Config {
	return Config{
		MinInterval:  2 * time.Second,
		MaxInterval:  5 * time.Minute,
		EventSpacing: 15 * time.Second,
		EventBuffer:  500 * time.Millisecond,
	}
}

// Loop is the poll scheduler. Only one poll is ever in flight: overlapping
// requests are discarded, not queued — freshness matters, completeness does
// not.
type Loop struct {
	mu  sync.Mutex
	cfg Config
	fn  Func

	timer         *time.Timer
	inFlight      bool
	lastEventPoll time.Time
	running       bool
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poll loop around fn.
func New(cfg Config, fn Func) *Loop {
	if cfg.MinInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Loop{cfg: cfg, fn: fn, now: time.Now}
}

// SetClock overrides the time source (tests).
func (l *Loop) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Start runs an immediate first poll and begins rescheduling. Calling Start
// on a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.mu.Unlock()

	log.Printf("[poll] started (min=%v max=%v event-spacing=%v)",
		l.cfg.MinInterval, l.cfg.MaxInterval, l.cfg.EventSpacing)
	l.spawn("start", 0)
}

// Stop cancels the timer and prevents rescheduling. An in-flight poll is
// allowed to finish; Stop blocks until it has.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	log.Printf("[poll] stopped")
}

// RequestEarlyPoll asks for a poll ahead of the timer, after a short signal
// buffering delay. Returns false when the request is discarded: loop not
// running, a poll already in flight, or inside the event spacing window.
func (l *Loop) RequestEarlyPoll(reason string) bool {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return false
	}
	now := l.now()
	if l.inFlight {
		l.mu.Unlock()
		return false
	}
	if !l.lastEventPoll.IsZero() && now.Sub(l.lastEventPoll) < l.cfg.EventSpacing {
		l.mu.Unlock()
		return false
	}
	l.lastEventPoll = now
	l.mu.Unlock()

	l.spawn(reason, l.cfg.EventBuffer)
	return true
}

// PollNow runs one cycle synchronously, bypassing the timer and the event
// spacing. Used for explicit one-shot refreshes. Returns false if a poll was
// already in flight.
func (l *Loop) PollNow(reason string) bool {
	return l.runCycle(context.Background(), reason)
}

// spawn runs one cycle on its own goroutine after delay.
func (l *Loop) spawn(reason string, delay time.Duration) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		l.mu.Lock()
		ctx := l.ctx
		l.mu.Unlock()
		if ctx == nil {
			return
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		l.runCycle(ctx, reason)
	}()
}

// runCycle executes fn under the reentrancy guard and reschedules the timer
// with the returned delay. Returns false when discarded.
func (l *Loop) runCycle(ctx context.Context, reason string) bool {
	l.mu.Lock()
	if l.inFlight {
		l.mu.Unlock()
		return false
	}
	l.inFlight = true
	l.mu.Unlock()

	delay := l.fn(ctx, reason)

	l.mu.Lock()
	l.inFlight = false
	if !l.running {
		l.mu.Unlock()
		return true
	}
	if delay < l.cfg.MinInterval {
		delay = l.cfg.MinInterval
	}
	if delay > l.cfg.MaxInterval {
		delay = l.cfg.MaxInterval
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(delay, func() { l.spawn("timer", 0) })
	l.mu.Unlock()
	return true
}
