// Package notify delivers outbid notifications off the bid path.
// Delivery is best effort: a full queue or a failing sink loses the message
// and only a metric and a log line record it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"live-auction/internal/metrics"
	"live-auction/internal/models"
	"live-auction/utils"
)

// Sink is an outbound channel for outbid messages
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Message is the payload handed to a sink
type Message struct {
	models.OutbidEvent
	Text string `json:"text"`
}

// NewMessage renders the user facing text for an outbid event
func NewMessage(ev models.OutbidEvent) Message {
	title := ev.LotTitle
	if title == "" {
		title = "Lot"
	}
	var b strings.Builder
	b.WriteString("Your bid was outbid!\n")
	b.WriteString(title)
	b.WriteString("\n")
	fmt.Fprintf(&b, "New price: %d", ev.NewPrice)
	if ev.LotURL != "" {
		b.WriteString("\n")
		b.WriteString(ev.LotURL)
	}
	return Message{OutbidEvent: ev, Text: b.String()}
}

// JSON encodes the message for byte oriented sinks
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Config tunes the dispatcher
type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// DefaultConfig is used for zero fields of Config
var DefaultConfig = Config{Workers: 4, QueueSize: 1024, SendTimeout: 5 * time.Second}

// Dispatcher queues outbid events and hands them to a sink from a fixed worker pool
type Dispatcher struct {
	sink    Sink
	queue   chan models.OutbidEvent
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker pool
func NewDispatcher(sink Sink, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig.SendTimeout
	}

	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan models.OutbidEvent, cfg.QueueSize),
		timeout: cfg.SendTimeout,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// NotifyOutbid enqueues an event without blocking; it reports whether the event was queued
func (d *Dispatcher) NotifyOutbid(ev models.OutbidEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.Notifications.WithLabelValues(metrics.ResultDropped).Inc()
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		metrics.Notifications.WithLabelValues(metrics.ResultDropped).Inc()
		utils.Warn("Outbid notification dropped, queue full", map[string]any{"lot_id": ev.LotID, "user_id": ev.UserID})
		return false
	}
}

// Close stops accepting events, drains the queue and closes the sink
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.sink.Close()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev models.OutbidEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Send(ctx, NewMessage(ev)); err != nil {
		metrics.Notifications.WithLabelValues(metrics.ResultFailed).Inc()
		utils.Error("Failed to deliver outbid notification", map[string]any{
			"lot_id":  ev.LotID,
			"user_id": ev.UserID,
			"error":   err.Error(),
		})
		return
	}
	metrics.Notifications.WithLabelValues(metrics.ResultSent).Inc()
}
