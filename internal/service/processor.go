package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

var (
	ErrAlreadyRunning = errors.New("queue processor is already running")
	ErrNotRunning     = errors.New("queue processor is not running")
)

// DefaultCleanupInterval is how often finished messages are purged
const DefaultCleanupInterval = 10 * time.Minute

// DeliveryQueue is the part of the queue the processor drives
type DeliveryQueue interface {
	ClaimNext(ctx context.Context) (*domain.QueuedMessage, bool)
	Complete(ctx context.Context, id string, result *repo.SendResult, sendErr error) error
	Cleanup(ctx context.Context) int
}

// QueueProcessor delivers queued messages to a sink, one per tick
type QueueProcessor struct {
	queue           DeliveryQueue
	cleanupInterval time.Duration
	logger          *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueueProcessor creates a stopped processor
func NewQueueProcessor(queue DeliveryQueue, cleanupInterval time.Duration, logger *zap.Logger) *QueueProcessor {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &QueueProcessor{
		queue:           queue,
		cleanupInterval: cleanupInterval,
		logger:          logger.Named("processor"),
	}
}

// Start runs the delivery loop until Stop is called or ctx is done
func (p *QueueProcessor) Start(ctx context.Context, sink repo.DeliverySink, interval time.Duration) error {
	if sink == nil {
		return fmt.Errorf("delivery sink is required")
	}
	if interval <= 0 {
		interval = time.Second
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx, sink, interval, p.done)

	p.logger.Info("started", zap.Duration("interval", interval))
	return nil
}

// Stop cancels the loop and waits for the current iteration. A send already
// in flight finishes and its outcome is recorded.
func (p *QueueProcessor) Stop() error {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("stopped")
	return nil
}

// IsRunning reports whether the loop is active
func (p *QueueProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *QueueProcessor) loop(ctx context.Context, sink repo.DeliverySink, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		// ctx was cancelled by the parent rather than by Stop
		p.mu.Lock()
		if p.done == done {
			p.cancel()
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
	}()

	timer := time.NewTimer(interval)
	defer timer.Stop()
	lastCleanup := time.Now()

	for {
		p.processOne(ctx, sink)

		if time.Since(lastCleanup) >= p.cleanupInterval {
			if n := p.queue.Cleanup(context.WithoutCancel(ctx)); n > 0 {
				p.logger.Info("purged finished messages", zap.Int("count", n))
			}
			lastCleanup = time.Now()
		}

		// the pause starts after the send, however long it took
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// processOne claims and sends at most one message
func (p *QueueProcessor) processOne(ctx context.Context, sink repo.DeliverySink) {
	if ctx.Err() != nil {
		return
	}

	// the send and its bookkeeping outlive a Stop that arrives mid-flight
	sendCtx := context.WithoutCancel(ctx)

	msg, ok := p.queue.ClaimNext(sendCtx)
	if !ok {
		return
	}

	result, err := p.send(sendCtx, sink, msg)
	if err := p.queue.Complete(sendCtx, msg.ID, result, err); err != nil {
		p.logger.Error("failed to record delivery outcome", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (p *QueueProcessor) send(ctx context.Context, sink repo.DeliverySink, msg *domain.QueuedMessage) (result *repo.SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("sink panicked", zap.String("id", msg.ID), zap.Any("panic", r))
			result, err = nil, fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Send(ctx, msg.Text, msg.Style)
}
