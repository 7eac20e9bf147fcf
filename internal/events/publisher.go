package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/resilience"
)

const breakerName = "kafka-run-events"

// Writer is the Kafka side of the publisher. *kafka.Producer satisfies it.
type Writer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher buffers run events and writes them to Kafka on a background
// goroutine. Each write is retried with backoff behind a circuit breaker.
type Publisher struct {
	writer  Writer
	eventCh chan RunEvent
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	done    chan struct{}

	// mu guards closed and the send on eventCh against Close.
	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a Publisher with room for bufferSize pending events.
// m may be nil.
func NewPublisher(w Writer, bufferSize int, m *metrics.Metrics) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	cbConfig := resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(resilience.StateClosed))
		cbConfig.OnStateChange = func(name string, from, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &Publisher{
		writer:  w,
		eventCh: make(chan RunEvent, bufferSize),
		breaker: resilience.NewCircuitBreaker(breakerName, cbConfig),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			},
		},
		metrics: m,
		logger:  slog.Default().With("component", "event-publisher"),
		done:    make(chan struct{}),
	}
}

// Start launches the publishing goroutine. Cancelling ctx drains what is
// already buffered and stops.
func (p *Publisher) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case event, ok := <-p.eventCh:
				if !ok {
					return
				}
				p.publish(ctx, event)
			case <-ctx.Done():
				p.drainRemaining()
				return
			}
		}
	}()
	p.logger.Info("event publisher started", "buffer_size", cap(p.eventCh))
}

// Track queues event for publishing. It never blocks; a full buffer or a
// closed publisher drops the event.
func (p *Publisher) Track(event RunEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("run event dropped (publisher closed)", "run_id", event.RunID)
		return
	}
	select {
	case p.eventCh <- event:
	default:
		p.logger.Warn("run event dropped (buffer full)", "run_id", event.RunID)
	}
}

// Close stops accepting events and waits until the buffer is flushed. It is
// safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.eventCh)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) publish(ctx context.Context, event RunEvent) {
	err := p.breaker.Execute(func() error {
		return resilience.Retry(ctx, "publish run event", p.retry, func() error {
			return p.writer.Publish(ctx, kafka.Event{
				Key:     event.RunID,
				Value:   event,
				Headers: map[string]string{"event-type": string(event.Type), "source": event.Source},
			})
		})
	})
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.EventsPublishedTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		p.logger.Error("failed to publish run event",
			"run_id", event.RunID,
			"type", event.Type,
			"error", err,
		)
	}
}

func (p *Publisher) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-p.eventCh:
			if !ok {
				return
			}
			p.publish(ctx, event)
		default:
			return
		}
	}
}
