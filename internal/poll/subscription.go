// Package poll runs periodic refreshes that callers can start, stop and
// trigger on demand, and orders concurrent responses so only the newest
// request for a key is applied.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Func is one refresh. Errors are logged and polling continues.
type Func func(ctx context.Context) error

// Subscription calls a Func immediately on Start, then on every tick and
// every Trigger until Stop or the parent context ends.
type Subscription struct {
	name     string
	interval time.Duration
	fn       Func
	logger   *slog.Logger
	trigger  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscription creates a stopped subscription.
func NewSubscription(name string, interval time.Duration, fn Func, logger *slog.Logger) *Subscription {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Subscription{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(slog.String("component", "poll"), slog.String("subscription", name)),
		trigger:  make(chan struct{}, 1),
	}
}

// Start begins polling. Starting a running subscription is a no-op.
func (s *Subscription) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
}

// Stop cancels polling and waits for an in-flight refresh to return.
func (s *Subscription) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the subscription is started.
func (s *Subscription) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Trigger requests an immediate refresh. Triggers coalesce while one is
// pending.
func (s *Subscription) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Subscription) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx)
		case <-s.trigger:
			s.run(ctx)
			ticker.Reset(s.interval)
		}
	}
}

func (s *Subscription) run(ctx context.Context) {
	if err := s.fn(ctx); err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "poll: refresh failed", slog.String("error", err.Error()))
	}
}
