// Package dispatcher consumes admitted jobs from the queue backend and runs
// them on a bounded worker pool. Each worker owns one job for the duration
// of processing; the queue's unacked delivery is the lease that keeps a
// second worker away until redelivery.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/shared/rabbitmq"
)

// jobMessage is one queue delivery: the job id plus the delivery tag used
// to ack or nack it.
type jobMessage struct {
	JobID       string
	DeliveryTag uint64
}

// Config holds dispatcher configuration
type Config struct {
	Logger       *slog.Logger
	RabbitClient *rabbitmq.Client
	Processor    *Processor
	Concurrency  int
}

// Dispatcher pulls jobs from RabbitMQ and fans them out to worker goroutines.
type Dispatcher struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	processor    *Processor
	concurrency  int
	consumerID   string
	jobsChan     chan *jobMessage
	wg           sync.WaitGroup
	stopChan     chan struct{}
}

// New creates a new Dispatcher
func New(cfg *Config) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	return &Dispatcher{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		processor:    cfg.Processor,
		concurrency:  concurrency,
		consumerID:   "upload-worker-" + uuid.New().String()[:8],
		jobsChan:     make(chan *jobMessage),
		stopChan:     make(chan struct{}),
	}
}

// Start begins consuming and processing jobs until ctx is cancelled
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting dispatcher",
		slog.Int("concurrency", d.concurrency),
		slog.String("consumer_id", d.consumerID),
	)

	deliveries, err := d.rabbitClient.Consume(d.consumerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx, i)
	}

	d.consumeLoop(ctx, deliveries)

	return nil
}

// Stop gracefully stops the dispatcher, draining in-flight jobs
func (d *Dispatcher) Stop() {
	d.logger.Info("Stopping dispatcher...")
	close(d.stopChan)
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// consumeLoop reads deliveries, validates them, and hands them to the pool
func (d *Dispatcher) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Consume loop stopped - context cancelled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				d.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg struct {
				JobID string `json:"job_id"`
			}
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				d.logger.Error("Failed to parse job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				d.nack(delivery.DeliveryTag, false)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				d.logger.Error("Job message carries invalid job id",
					slog.String("job_id", msg.JobID),
				)
				d.nack(delivery.DeliveryTag, false)
				continue
			}

			select {
			case d.jobsChan <- &jobMessage{JobID: msg.JobID, DeliveryTag: delivery.DeliveryTag}:
			case <-ctx.Done():
				// Put the message back for another consumer.
				d.nack(delivery.DeliveryTag, true)
				return
			}
		}
	}
}

// workerLoop processes jobs until shutdown; one job at a time per worker
func (d *Dispatcher) workerLoop(ctx context.Context, workerNum int) {
	defer d.wg.Done()

	workerName := fmt.Sprintf("%s-%d", d.consumerID, workerNum)
	d.logger.Info("Worker started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-d.stopChan:
			d.logger.Info("Worker stopping",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			d.logger.Info("Worker stopping - context cancelled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-d.jobsChan:
			if !ok {
				return
			}

			err := d.processor.Process(ctx, msg.JobID, workerName)
			if err != nil {
				d.logger.Error("Job processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
				d.nack(msg.DeliveryTag, d.shouldRequeue(err))
				continue
			}

			d.ack(msg.DeliveryTag)
		}
	}
}

// shouldRequeue decides the NACK requeue flag from the error type. Only
// infrastructure failures that could not be diverted into the backoff path
// come back through the queue; everything else is dropped.
func (d *Dispatcher) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		return false
	}

	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}

func (d *Dispatcher) ack(tag uint64) {
	channel := d.rabbitClient.GetChannel()
	if channel == nil {
		d.logger.Error("No RabbitMQ channel available for ACK")
		return
	}

	if err := channel.Ack(tag, false); err != nil {
		d.logger.Error("Failed to ACK message",
			slog.Uint64("delivery_tag", tag),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) nack(tag uint64, requeue bool) {
	channel := d.rabbitClient.GetChannel()
	if channel == nil {
		d.logger.Error("No RabbitMQ channel available for NACK")
		return
	}

	if err := channel.Nack(tag, false, requeue); err != nil {
		d.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", tag),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}
