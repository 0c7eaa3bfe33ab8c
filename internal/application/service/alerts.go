package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pmexec/internal/application/port"
)

// AlertDispatcher delivers alerts asynchronously through a supervised
// worker instead of fire-and-forget goroutines: Close drains every queued
// alert before returning, so shutdown never leaks an undelivered message.
// Delivery failures are logged and swallowed.
type AlertDispatcher struct {
	notifier port.Notifier
	queue    chan string
	group    *errgroup.Group
	timeout  time.Duration
}

// NewAlertDispatcher starts the delivery worker. notifier may be nil, in
// which case alerts are dropped silently (alerting disabled).
func NewAlertDispatcher(notifier port.Notifier, buffer int) *AlertDispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &AlertDispatcher{
		notifier: notifier,
		queue:    make(chan string, buffer),
		group:    &errgroup.Group{},
		timeout:  10 * time.Second,
	}
	d.group.Go(d.run)
	return d
}

// Send enqueues an alert. Never blocks: when the queue is full the alert
// is dropped and the drop is logged.
func (d *AlertDispatcher) Send(message string) {
	select {
	case d.queue <- message:
	default:
		log.Warn().Str("alert", message).Msg("alert queue full, dropping")
	}
}

// Close stops accepting alerts and waits until queued ones are delivered.
func (d *AlertDispatcher) Close() error {
	close(d.queue)
	return d.group.Wait()
}

func (d *AlertDispatcher) run() error {
	for msg := range d.queue {
		if d.notifier == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.notifier.Notify(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("alert delivery failed")
		}
		cancel()
	}
	return nil
}
