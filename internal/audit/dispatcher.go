package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/internal/metrics"
)

// Dispatcher fans events out to sinks on a background goroutine. Record
// never blocks the caller; when the queue is full the event is dropped and
// counted.
type Dispatcher struct {
	sinks       []Sink
	queue       chan Event
	sinkTimeout time.Duration
	logger      *logging.Logger
	metrics     *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithLogger(l *logging.Logger) DispatcherOption   { return func(d *Dispatcher) { d.logger = l } }
func WithMetrics(m *metrics.Metrics) DispatcherOption { return func(d *Dispatcher) { d.metrics = m } }
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}
func WithSinkTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sinkTimeout = t
		}
	}
}

// NewDispatcher starts delivering to sinks.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:       sinks,
		queue:       make(chan Event, 1024),
		sinkTimeout: 5 * time.Second,
		logger:      logging.Nop(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Record queues e for delivery.
func (d *Dispatcher) Record(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.RecordAuditDropped("closed")
		return
	}
	select {
	case d.queue <- e:
	default:
		d.metrics.RecordAuditDropped("queue")
		d.logger.Warn("audit queue full, dropped %s event %s", e.Type, e.ID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := s.Emit(ctx, e)
		cancel()
		if err != nil {
			d.metrics.RecordAuditDropped(s.Name())
			d.logger.Warn("audit sink %s failed for event %s: %v", s.Name(), e.ID, err)
		}
	}
}

// Close stops accepting events, drains the queue until ctx is done, and
// closes every sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	var result *multierror.Error
	select {
	case <-d.done:
	case <-ctx.Done():
		result = multierror.Append(result, errors.New("audit queue not drained before shutdown"))
	}
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
