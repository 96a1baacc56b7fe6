package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/metrics"
	"github.com/acme/pharmacy-outreach/internal/repository"
	callsvc "github.com/acme/pharmacy-outreach/internal/service/call"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

// CallEvents applies normalized provider events to calls.
type CallEvents interface {
	HandleProgress(ctx context.Context, ev domain.ProgressEvent) (callsvc.Result, error)
	HandleEnded(ctx context.Context, ev domain.EndedEvent) (callsvc.Result, error)
	RecordTranscript(ctx context.Context, ev domain.TranscriptEvent) (callsvc.Result, error)
	RecordFunctionCall(ctx context.Context, ev domain.FunctionCallEvent) (callsvc.Result, error)
}

// Outcome summarizes what a delivery did.
type Outcome string

const (
	OutcomeHandled      Outcome = "handled"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUnrecognized Outcome = "unrecognized"
	OutcomeFailed       Outcome = "failed"
)

// Dispatcher journals inbound provider events and routes them to the call
// lifecycle.
type Dispatcher struct {
	calls   CallEvents
	journal repository.WebhookJournal
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(calls CallEvents, journal repository.WebhookJournal, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		calls:   calls,
		journal: journal,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch parses, journals and applies one webhook body. Only a malformed
// body (ErrValidation) or a journal failure (ErrUnavailable) is returned as
// an error; once the event is journaled, processing problems are logged and
// reported through the Outcome so the provider does not redeliver.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, verified bool) (Outcome, error) {
	ev, err := Parse(raw)
	if err != nil {
		d.metrics.WebhookEvent("invalid", "rejected")
		return "", err
	}

	kind := string(ev.Kind())
	key := ev.Key()

	ctx, span := otel.Tracer("outreach.webhook").Start(ctx, "webhook.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event", ev.Name()),
		attribute.String("webhook.kind", kind),
		attribute.String("provider_call_id", key.ProviderCallID),
		attribute.Bool("webhook.verified", verified),
	)

	entry := repository.WebhookJournalEntry{
		ID:             uuid.New(),
		EventType:      ev.Name(),
		ProviderCallID: key.ProviderCallID,
		Verified:       verified,
		Payload:        append([]byte(nil), raw...),
		ReceivedAt:     d.now(),
	}
	if err := d.journal.Record(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "journal failed")
		d.metrics.WebhookEvent(kind, "journal_failed")
		d.logger.Error("failed to journal webhook",
			zap.String("event", ev.Name()),
			zap.String("provider_call_id", key.ProviderCallID),
			zap.Error(err),
		)
		return "", fmt.Errorf("webhook: journal: %v: %w", err, apperrors.ErrUnavailable)
	}

	result, err := d.route(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		d.metrics.WebhookEvent(kind, string(OutcomeFailed))
		d.logger.Error("failed to process webhook",
			zap.String("event", ev.Name()),
			zap.String("journal_id", entry.ID.String()),
			zap.String("provider_call_id", key.ProviderCallID),
			zap.Error(err),
		)
		return OutcomeFailed, nil
	}

	outcome := outcomeFor(ev, result)
	span.SetAttributes(attribute.String("webhook.result", string(result)))
	d.metrics.WebhookEvent(kind, string(outcome))
	return outcome, nil
}

func (d *Dispatcher) route(ctx context.Context, ev domain.ProviderEvent) (callsvc.Result, error) {
	switch e := ev.(type) {
	case domain.ProgressEvent:
		return d.calls.HandleProgress(ctx, e)
	case domain.EndedEvent:
		return d.calls.HandleEnded(ctx, e)
	case domain.TranscriptEvent:
		return d.calls.RecordTranscript(ctx, e)
	case domain.FunctionCallEvent:
		return d.calls.RecordFunctionCall(ctx, e)
	default:
		d.logger.Info("unhandled webhook event",
			zap.String("event", ev.Name()),
			zap.String("provider_call_id", ev.Key().ProviderCallID),
		)
		return "", nil
	}
}

func outcomeFor(ev domain.ProviderEvent, result callsvc.Result) Outcome {
	if ev.Kind() == domain.ProviderEventUnrecognized {
		return OutcomeUnrecognized
	}
	switch result {
	case callsvc.ResultApplied, callsvc.ResultLogged:
		return OutcomeHandled
	default:
		return OutcomeIgnored
	}
}
