package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// notification is the envelope the notification service consumes.
type notification struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	At     time.Time         `json:"at"`
}

// Pool is a bounded worker pool in front of the producer. Push enqueues and
// returns immediately, so a slow broker can never stall message delivery in
// the realtime path; when the queue is full the notification is dropped and
// logged.
type Pool struct {
	producer *Producer
	tasks    chan notification
	log      *zap.Logger
	done     chan struct{}
}

func NewPool(producer *Producer, workers, queueSize int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Pool{
		producer: producer,
		tasks:    make(chan notification, queueSize),
		log:      log,
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Push implements realtime.Notifier. Fire and forget.
func (p *Pool) Push(userID, title, body string, data map[string]string) {
	n := notification{UserID: userID, Title: title, Body: body, Data: data, At: time.Now().UTC()}
	select {
	case p.tasks <- n:
	default:
		p.log.Warn("notification queue full, dropping", zap.String("user", userID))
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.done:
			return
		case n := <-p.tasks:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.producer.Publish(ctx, n.UserID, n); err != nil {
				p.log.Warn("notification publish failed",
					zap.String("user", n.UserID), zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops the workers. Queued notifications past this point are dropped,
// consistent with the fire-and-forget contract.
func (p *Pool) Close() {
	close(p.done)
}
