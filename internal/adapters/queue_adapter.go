package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobHandler processes one message taken off a queue.
type JobHandler func(ctx context.Context, data []byte) error

// QueueAdapter is the contract for a named-queue message system.
type QueueAdapter interface {
	// Publish sends jobData to the named queue.
	Publish(ctx context.Context, queueName string, jobData []byte) error
	// StartConsuming starts a background consumer calling handler for each
	// message on the named queue. It returns immediately.
	StartConsuming(ctx context.Context, queueName string, handler JobHandler) error
	// StopConsuming stops the consumer of the named queue.
	StopConsuming(ctx context.Context, queueName string) error
}

// ErrQueueFull is returned when a publish times out on a full queue.
var ErrQueueFull = errors.New("queue full")

// ErrAlreadyConsuming is returned when a queue already has a consumer.
var ErrAlreadyConsuming = errors.New("queue already has a consumer")

const (
	defaultQueueCapacity  = 100
	defaultPublishTimeout = 2 * time.Second
)

// InMemoryQueueAdapter is a QueueAdapter backed by buffered channels.
type InMemoryQueueAdapter struct {
	mu             sync.Mutex
	queues         map[string]chan []byte
	stopChan       map[string]chan struct{}
	logger         *zap.Logger
	publishTimeout time.Duration

	wg          sync.WaitGroup
	consumerCtx context.Context
	cancelFunc  context.CancelFunc
}

// NewInMemoryQueueAdapter creates an in-memory queue adapter.
func NewInMemoryQueueAdapter(logger *zap.Logger) *InMemoryQueueAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	consumerCtx, cancelFunc := context.WithCancel(context.Background())
	return &InMemoryQueueAdapter{
		queues:         make(map[string]chan []byte),
		stopChan:       make(map[string]chan struct{}),
		logger:         logger.Named("queue"),
		publishTimeout: defaultPublishTimeout,
		consumerCtx:    consumerCtx,
		cancelFunc:     cancelFunc,
	}
}

func (q *InMemoryQueueAdapter) getOrCreateQueue(queueName string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue, ok := q.queues[queueName]
	if !ok {
		queue = make(chan []byte, defaultQueueCapacity)
		q.queues[queueName] = queue
		q.logger.Debug("queue created", zap.String("queue", queueName))
	}
	return queue
}

// Publish enqueues jobData, waiting up to the publish timeout for room.
func (q *InMemoryQueueAdapter) Publish(ctx context.Context, queueName string, jobData []byte) error {
	queue := q.getOrCreateQueue(queueName)

	timer := time.NewTimer(q.publishTimeout)
	defer timer.Stop()
	select {
	case queue <- jobData:
		q.logger.Debug("message published", zap.String("queue", queueName), zap.Int("depth", len(queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		q.logger.Warn("publish timed out", zap.String("queue", queueName))
		return fmt.Errorf("%w: %s", ErrQueueFull, queueName)
	}
}

// StartConsuming runs handler for each message until the consumer is
// stopped, ctx is cancelled, or the adapter is closed. Handler errors are
// logged and the message dropped.
func (q *InMemoryQueueAdapter) StartConsuming(ctx context.Context, queueName string, handler JobHandler) error {
	queue := q.getOrCreateQueue(queueName)

	q.mu.Lock()
	if _, busy := q.stopChan[queueName]; busy {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyConsuming, queueName)
	}
	stop := make(chan struct{})
	q.stopChan[queueName] = stop
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.release(queueName, stop)
		log := q.logger.With(zap.String("queue", queueName))
		log.Debug("consumer started")
		for {
			select {
			case data := <-queue:
				if err := handler(q.consumerCtx, data); err != nil {
					log.Error("job failed", zap.Error(err))
				}
			case <-stop:
				log.Debug("consumer stopped")
				return
			case <-ctx.Done():
				log.Debug("consumer context cancelled")
				return
			case <-q.consumerCtx.Done():
				return
			}
		}
	}()
	return nil
}

func (q *InMemoryQueueAdapter) release(queueName string, stop chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopChan[queueName] == stop {
		delete(q.stopChan, queueName)
	}
}

// StopConsuming signals the consumer of queueName to exit. Messages still
// buffered stay on the queue for a later consumer.
func (q *InMemoryQueueAdapter) StopConsuming(ctx context.Context, queueName string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if stop, ok := q.stopChan[queueName]; ok {
		close(stop)
		delete(q.stopChan, queueName)
	}
	return nil
}

// Close stops every consumer and waits for running handlers to return.
func (q *InMemoryQueueAdapter) Close() error {
	q.cancelFunc()
	q.wg.Wait()
	return nil
}
