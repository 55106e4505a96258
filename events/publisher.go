package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

const (
	DefaultBufferSize    = 1024
	DefaultBatchSize     = 64
	DefaultFlushInterval = time.Second

	drainTimeout = 5 * time.Second
)

// Sink stores batches of events.
type Sink interface {
	Write(ctx context.Context, batch []Event) error
}

// Publisher queues limiter events and writes them to a Sink from Run.
// Enqueueing never blocks: when the queue is full the event is dropped and
// counted.
type Publisher struct {
	sink          Sink
	queue         chan Event
	batchSize     int
	flushInterval time.Duration
	deniedOnly    bool
	logger        *slog.Logger
	now           func() time.Time

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan Event, n)
		}
	}
}

// WithBatchSize sets the most events written per sink call.
func WithBatchSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushInterval sets how long a partial batch may wait.
func WithFlushInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// WithDeniedOnly skips allowed decisions. Sweeps are always published.
func WithDeniedOnly(deniedOnly bool) PublisherOption {
	return func(p *Publisher) {
		p.deniedOnly = deniedOnly
	}
}

// WithPublisherLogger sets the logger for sink failures.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a publisher writing to sink. Call Run to start it.
func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sink:          sink,
		queue:         make(chan Event, DefaultBufferSize),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ObserveDecision queues a decision event.
func (p *Publisher) ObserveDecision(d creditfence.Decision) {
	if p.deniedOnly && d.Allowed {
		return
	}
	p.enqueue(NewDecisionEvent(d, p.now()))
}

// ObserveSweep queues a sweep event.
func (p *Publisher) ObserveSweep(route string, removed, remaining int) {
	p.enqueue(NewSweepEvent(route, removed, remaining, p.now()))
}

func (p *Publisher) enqueue(e Event) {
	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
	}
}

// Run writes queued events until ctx is cancelled, then flushes whatever
// is still queued and returns.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, p.batchSize)
	for {
		select {
		case e := <-p.queue:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				batch = p.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = p.flush(ctx, batch)
		case <-ctx.Done():
			p.drain(batch)
			return nil
		}
	}
}

func (p *Publisher) drain(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case e := <-p.queue:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				batch = p.flush(ctx, batch)
			}
		default:
			p.flush(ctx, batch)
			return
		}
	}
}

func (p *Publisher) flush(ctx context.Context, batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	if err := p.sink.Write(ctx, batch); err != nil {
		p.failed.Add(int64(len(batch)))
		p.logger.Warn("failed to publish events", "count", len(batch), "error", err)
	} else {
		p.published.Add(int64(len(batch)))
	}
	return batch[:0]
}

// Published returns how many events reached the sink.
func (p *Publisher) Published() int64 { return p.published.Load() }

// Dropped returns how many events were discarded on a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Failed returns how many events the sink rejected.
func (p *Publisher) Failed() int64 { return p.failed.Load() }

var _ creditfence.Observer = (*Publisher)(nil)
