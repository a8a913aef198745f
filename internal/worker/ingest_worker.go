package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
	"docresearch/internal/platform/rabbitmq"
)

type Ingester interface {
	Ingest(ctx context.Context, documentID string) (*model.Document, error)
}

type outcome int

const (
	ack outcome = iota
	requeue
	drop
)

// IngestWorker consumes ingest jobs and runs the pipeline with bounded concurrency.
type IngestWorker struct {
	conn        *amqp.Connection
	ingester    Ingester
	queueName   string
	concurrency int
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingester Ingester, queueName string, concurrency int, logger *slog.Logger) *IngestWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorker{
		conn:        conn,
		ingester:    ingester,
		queueName:   queueName,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(w.concurrency, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	var consumers sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			w.consume(workerCtx, deliveries)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		consumers.Wait()
		_ = ch.Close()
	}()

	w.logger.Info("ingest worker started", slog.String("queue", w.queueName), slog.Int("concurrency", w.concurrency))
	return nil
}

func (w *IngestWorker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			switch w.handle(ctx, d.Body, d.Redelivered) {
			case ack:
				_ = d.Ack(false)
			case requeue:
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, false)
			}
		}
	}
}

// handle runs one job. A document that ends in ERROR is still acknowledged:
// the failure is recorded on the document and retrying is a user action. A job
// interrupted by shutdown goes back to the queue.
func (w *IngestWorker) handle(ctx context.Context, body []byte, redelivered bool) outcome {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil || job.DocumentID == "" {
		w.logger.Warn("worker decode ingest job failed", slog.String("body", string(body)))
		return drop
	}

	doc, err := w.ingester.Ingest(ctx, job.DocumentID)
	switch {
	case err == nil:
		return ack
	case errors.Is(err, apperr.ErrNotFound):
		w.logger.Info("ingest job for missing document skipped", slog.String("document_id", job.DocumentID))
		return ack
	case ctx.Err() != nil:
		w.logger.Warn("ingest job interrupted, requeued", slog.String("document_id", job.DocumentID))
		return requeue
	case doc != nil:
		return ack
	case !redelivered:
		w.logger.Warn("ingest job requeued", slog.String("document_id", job.DocumentID), slog.String("error", err.Error()))
		return requeue
	default:
		w.logger.Error("ingest job dropped", slog.String("document_id", job.DocumentID), slog.String("error", err.Error()))
		return drop
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
