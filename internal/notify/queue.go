package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
)

var (
	// ErrQueueFull is returned when the delivery buffer has no room left.
	ErrQueueFull = errors.New("notification queue full")
	// ErrSenderClosed is returned by Send after Close.
	ErrSenderClosed = errors.New("notification sender closed")
)

const defaultDeliveryTimeout = 10 * time.Second

// QueueSender buffers notifications and delivers them from a single
// background goroutine, so Send never waits on the outbound channel.
type QueueSender struct {
	next    Sender
	queue   chan domain.Notification
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueueSender starts the delivery goroutine in front of next.
func NewQueueSender(next Sender, size int, logger *zap.Logger, metrics *observability.Metrics) *QueueSender {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &QueueSender{
		next:    next,
		queue:   make(chan domain.Notification, size),
		timeout: defaultDeliveryTimeout,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Send enqueues n. It fails fast with ErrQueueFull instead of blocking.
func (q *QueueSender) Send(_ context.Context, n domain.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrSenderClosed
	}
	select {
	case q.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting notifications, drains the buffer and closes next.
func (q *QueueSender) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	<-q.done
	return q.next.Close()
}

func (q *QueueSender) run() {
	defer close(q.done)
	for n := range q.queue {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.next.Send(ctx, n)
		cancel()
		if err != nil {
			q.metrics.RecordDeliveryFailure("queue", 1)
			q.logger.Warn("notification delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("user_id", n.UserID),
				zap.Error(err))
		}
	}
}
