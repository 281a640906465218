// Package sink delivers security events durably without ever blocking or
// erroring into the detection path. Delivery degrades through three tiers:
// the remote logging endpoint, a direct persistence write, and a bounded
// in-memory buffer retried on the next success and at session end.
package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
	"github.com/ExamTrust/ProctorGate/pkg/domain/telemetry"
	"github.com/ExamTrust/ProctorGate/pkg/infra/httpx"
	"github.com/ExamTrust/ProctorGate/pkg/infra/prometheus"
)

const (
	tierPrimary  = "primary"
	tierFallback = "fallback"
	tierBuffer   = "buffer"

	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// Sink accepts events fire-and-forget. Record never blocks the caller and
// never returns an error; Flush retries everything still buffered; Shutdown
// stops the worker after draining queued work.
type Sink interface {
	Record(evt secevent.SecurityEvent)
	Flush(ctx context.Context)
	Shutdown()
}

type eventSink struct {
	logger   *logrus.Logger
	exporter telemetry.Exporter
	repo     secevent.Repository
	breaker  httpx.CircuitBreaker

	taskChan chan secevent.SecurityEvent
	buffer   *ringBuffer
	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// NewSink builds a sink. Either tier may be nil: a missing exporter or
// repository simply makes its tier fail through to the next one.
func NewSink(
	logger *logrus.Logger,
	exporter telemetry.Exporter,
	repo secevent.Repository,
	breaker httpx.CircuitBreaker,
	bufferSize int,
) Sink {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &eventSink{
		logger:   logger,
		exporter: exporter,
		repo:     repo,
		breaker:  breaker,
		taskChan: make(chan secevent.SecurityEvent, 256),
		buffer:   newRingBuffer(bufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *eventSink) Record(evt secevent.SecurityEvent) {
	if s.closed.Load() {
		s.bufferEvent(evt)
		return
	}
	select {
	case s.taskChan <- evt:
	default:
		// Queue saturated; skip straight to the buffer tier rather than
		// block the signal path.
		s.bufferEvent(evt)
	}
}

// Flush synchronously retries every buffered event through the delivery
// tiers. Events that still cannot be delivered are requeued (up to the
// buffer bound).
func (s *eventSink) Flush(ctx context.Context) {
	pending := s.buffer.drain()
	var undelivered []secevent.SecurityEvent
	for _, evt := range pending {
		if !s.tryDeliver(ctx, evt) {
			undelivered = append(undelivered, evt)
		}
	}
	s.buffer.requeue(undelivered)
	if len(undelivered) > 0 {
		s.logger.WithField("count", len(undelivered)).Warn("telemetry events remain undelivered after flush")
	}
}

func (s *eventSink) Shutdown() {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *eventSink) worker() {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.taskChan:
			s.deliver(context.Background(), evt)
		case <-s.ctx.Done():
			// Drain whatever was queued before shutdown.
			for {
				select {
				case evt := <-s.taskChan:
					s.deliver(context.Background(), evt)
				default:
					return
				}
			}
		}
	}
}

// deliver walks the tiers for one event, buffering it when every tier fails.
// On a successful delivery the buffered backlog is retried too.
func (s *eventSink) deliver(ctx context.Context, evt secevent.SecurityEvent) {
	if s.tryDeliver(ctx, evt) {
		s.retryBuffered(ctx)
		return
	}
	s.bufferEvent(evt)
}

func (s *eventSink) tryDeliver(ctx context.Context, evt secevent.SecurityEvent) bool {
	if s.exporter != nil {
		err := s.breaker.Execute(func() error {
			return s.exporter.Handle(ctx, evt)
		})
		if err == nil {
			prometheus.TelemetryDeliveriesTotal.WithLabelValues(tierPrimary, outcomeOK).Inc()
			return true
		}
		prometheus.TelemetryDeliveriesTotal.WithLabelValues(tierPrimary, outcomeFailed).Inc()
		if httpx.Open(err) {
			s.logger.WithError(err).Debug("primary telemetry channel open-circuited")
		} else {
			s.logger.WithError(err).Debug("primary telemetry delivery failed")
		}
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, evt); err != nil {
			prometheus.TelemetryDeliveriesTotal.WithLabelValues(tierFallback, outcomeFailed).Inc()
			s.logger.WithError(err).Debug("fallback telemetry write failed")
		} else {
			prometheus.TelemetryDeliveriesTotal.WithLabelValues(tierFallback, outcomeOK).Inc()
			return true
		}
	}

	return false
}

func (s *eventSink) retryBuffered(ctx context.Context) {
	if s.buffer.len() == 0 {
		return
	}
	pending := s.buffer.drain()
	var undelivered []secevent.SecurityEvent
	for _, evt := range pending {
		if !s.tryDeliver(ctx, evt) {
			undelivered = append(undelivered, evt)
		}
	}
	s.buffer.requeue(undelivered)
}

func (s *eventSink) bufferEvent(evt secevent.SecurityEvent) {
	prometheus.TelemetryDeliveriesTotal.WithLabelValues(tierBuffer, outcomeOK).Inc()
	if dropped, didDrop := s.buffer.push(evt); didDrop {
		prometheus.BufferedEventsDropped.Inc()
		s.logger.WithFields(logrus.Fields{
			"session_id": dropped.SessionID,
			"event_kind": dropped.Kind,
		}).Warn("telemetry buffer overflow, oldest event dropped")
	}
}
