// Package notify delivers administrator notifications without blocking the
// caller. Delivery failures are logged and never reported back.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gw-ledger/internal/clock"
	"gw-ledger/internal/models"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 100
	sendTimeout      = 5 * time.Second
)

// Sink delivers a single notification.
type Sink interface {
	SendNotification(ctx context.Context, n models.Notification) error
}

// Dispatcher queues notifications into a bounded channel served by a fixed
// pool of workers. A full queue drops the notification.
type Dispatcher struct {
	sink  Sink
	clock clock.Clock
	log   *slog.Logger

	queue    chan models.Notification
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
}

func NewDispatcher(sink Sink, workers, queueSize int, clk clock.Clock, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if clk == nil {
		clk = clock.Real{}
	}

	d := &Dispatcher{
		sink:   sink,
		clock:  clk,
		log:    log,
		queue:  make(chan models.Notification, queueSize),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	return d
}

// Notify enqueues n. It never blocks.
func (d *Dispatcher) Notify(ctx context.Context, n models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.clock.Now()
	}

	if d.stopped.Load() {
		d.log.Warn("dispatcher stopped, notification dropped",
			slog.String("notification_id", n.ID),
			slog.String("title", n.Title))
		return
	}

	select {
	case d.queue <- n:
	default:
		d.log.Warn("notification queue full, notification dropped",
			slog.String("notification_id", n.ID),
			slog.String("title", n.Title))
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	d.log.Debug("notification worker started", slog.Int("worker_id", id))

	for {
		select {
		case n := <-d.queue:
			d.deliver(id, n)

		case <-d.stopCh:
			for {
				select {
				case n := <-d.queue:
					d.deliver(id, n)
				default:
					d.log.Debug("notification worker stopping", slog.Int("worker_id", id))
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(workerID int, n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := d.sink.SendNotification(ctx, n); err != nil {
		d.log.Error("notification delivery failed",
			slog.Int("worker_id", workerID),
			slog.String("notification_id", n.ID),
			slog.String("error", err.Error()))
		return
	}
	d.log.Debug("notification delivered",
		slog.Int("worker_id", workerID),
		slog.String("notification_id", n.ID))
}

// Shutdown stops accepting notifications and waits for the workers to drain
// the queue.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stopCh)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("notification workers stopped")
		return nil
	case <-ctx.Done():
		d.log.Warn("notification dispatcher shutdown timeout exceeded")
		return ctx.Err()
	}
}
