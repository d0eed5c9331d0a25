package email

import (
	"context"
	"fmt"
	"time"

	"github.com/cadogy/cadogy-backend/internal/safego"
	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

// publisher is satisfied by *Producer
type publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Dispatcher hands messages off without blocking the request. With a queue configured the
// message is published to Kafka; otherwise it is sent in a background goroutine.
type Dispatcher struct {
	sender      Sender
	queue       publisher
	sendTimeout time.Duration
}

// NewDispatcher creates a dispatcher. queue may be nil.
func NewDispatcher(sender Sender, queue *Producer) *Dispatcher {
	d := &Dispatcher{sender: sender, sendTimeout: 30 * time.Second}
	if queue != nil {
		d.queue = queue
	}
	return d
}

// Dispatch validates msg and schedules delivery. Only validation and publish errors are
// returned; asynchronous send failures are logged and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if d.queue != nil {
		if err := d.queue.Publish(ctx, msg); err != nil {
			recordSent(msg.Template, "failed")
			return err
		}
		recordSent(msg.Template, "queued")
		return nil
	}

	safego.GoWithTimeout("email:"+msg.Template, d.sendTimeout, func(ctx context.Context) error {
		if err := d.sender.Send(ctx, msg); err != nil {
			recordSent(msg.Template, "failed")
			return fmt.Errorf("deliver to %s: %w", msg.To, err)
		}
		recordSent(msg.Template, "sent")
		return nil
	})
	return nil
}

// SendNow delivers synchronously, bypassing the queue. Used by jobs that must know whether
// the email went out before recording it.
func (d *Dispatcher) SendNow(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		recordSent(msg.Template, "failed")
		return err
	}
	recordSent(msg.Template, "sent")
	return nil
}

func recordSent(template, result string) {
	if template == "" {
		template = "unknown"
	}
	telemetry.EmailsSentTotal.WithLabelValues(template, result).Inc()
}
