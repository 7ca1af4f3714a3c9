package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kompomir/servicebot/core/logger"
)

// DefaultSweepInterval is how often idle sessions are checked when no interval is configured.
const DefaultSweepInterval = 30 * time.Second

// Expirer resets sessions idle beyond the configured timeout and reports how many it reset.
type Expirer interface {
	ExpireIdle(ctx context.Context, now time.Time) int
}

// Sweeper periodically asks an Expirer to reset idle sessions.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper creates a sweeper; interval <= 0 selects DefaultSweepInterval.
func NewSweeper(expirer Expirer, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{expirer: expirer, interval: interval, now: time.Now}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) loop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.done)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, logger.Sessions, "sweep.stop")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	expired := s.expirer.ExpireIdle(ctx, s.now())
	if expired > 0 {
		logger.Info(ctx, logger.Sessions, "sweep.expired",
			slog.String("status", "ok"),
			slog.Int("count", expired),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}
