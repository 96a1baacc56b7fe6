package status

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/queue"
	"github.com/acme/pharmacy-outreach/internal/repository"
)

// MessageReader is the subset of *kafka.Reader the worker needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker consumes call status changes and folds them into the daily
// statistics counters. Delivery is at-least-once, so a message redelivered
// after a crash between apply and commit is counted twice.
type Worker struct {
	reader MessageReader
	stats  repository.CallStatisticsRepository
	logger *zap.Logger
}

// New creates a new status worker.
func New(reader MessageReader, stats repository.CallStatisticsRepository, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{reader: reader, stats: stats, logger: logger}
}

// Run processes status events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("status worker: fetch", zap.Error(err))
			continue
		}

		if err := w.Handle(ctx, msg); err != nil {
			// leave uncommitted so the group redelivers it
			w.logger.Error("status worker: apply stats",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("status worker: commit", zap.Error(err))
		}
	}
}

// Handle applies one message. Undecodable messages are logged and
// reported as handled so they do not block the partition.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	status, err := queue.DecodeStatus(msg.Value)
	if err != nil {
		w.logger.Error("status worker: unmarshal", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	tracer := otel.Tracer("outreach.statusworker")
	sctx, span := tracer.Start(ctx, "call.status", trace.WithAttributes(
		attribute.String("call.id", status.CallID.String()),
		attribute.String("call.status", status.Status),
		attribute.String("call.previous_status", status.PreviousStatus),
		attribute.String("source", status.Source),
	))
	defer span.End()

	next := domain.CallStatus(status.Status)
	if !next.Valid() {
		w.logger.Warn("status worker: unknown status", zap.String("status", status.Status), zap.String("call_id", status.CallID.String()))
		return nil
	}

	delta := repository.DeltaForTransition(domain.CallStatus(status.PreviousStatus), next)
	if delta.IsZero() {
		return nil
	}

	day := status.CallCreatedAt
	if day.IsZero() {
		day = status.OccurredAt
	}
	if err := w.stats.ApplyDelta(sctx, repository.BucketDay(day), delta); err != nil {
		span.RecordError(err)
		return fmt.Errorf("status worker: apply delta for call %s: %w", status.CallID, err)
	}
	return nil
}
