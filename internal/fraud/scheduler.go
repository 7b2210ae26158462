package fraud

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Rescanner interface {
	Rescan(ctx context.Context) (int, error)
}

// Scheduler calls Rescan on a fixed interval until shut down.
type Scheduler struct {
	rescanner Rescanner
	interval  time.Duration
	log       *slog.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(rescanner Rescanner, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		rescanner: rescanner,
		interval:  interval,
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("fraud rescan scheduler started", slog.Duration("interval", s.interval))
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	flagged, err := s.rescanner.Rescan(ctx)
	if err != nil {
		s.log.Error("fraud rescan failed", slog.String("error", err.Error()))
		return
	}
	s.log.Debug("fraud rescan finished", slog.Int("flagged", flagged))
}

func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("fraud rescan scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("fraud rescan scheduler shutdown timeout exceeded")
		return ctx.Err()
	}
}
