package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AsyncSink decouples callers from sink latency with a buffered queue and
// a single worker. Events are dropped when the queue is full; the caller
// is never blocked or failed.
type AsyncSink struct {
	inner  Sink
	queue  chan Event
	done   chan struct{}
	logger *zap.Logger
}

// NewAsyncSink wraps a sink with an asynchronous queue of the given size.
func NewAsyncSink(inner Sink, queueSize int, logger *zap.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AsyncSink{
		inner:  inner,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.drain()
	return s
}

// Record implements Sink. Never blocks.
func (s *AsyncSink) Record(_ context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("audit queue full, dropping event",
			zap.String("stage", ev.Stage),
			zap.String("actor", ev.Actor))
	}
	return nil
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.inner.Record(ctx, ev); err != nil {
			s.logger.Warn("audit sink write failed", zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued events and stops the worker.
func (s *AsyncSink) Close() {
	close(s.queue)
	<-s.done
}
