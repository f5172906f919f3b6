package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/observability"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/provider"
	"github.com/kursadbilgin/hookline/internal/queue"
	"github.com/kursadbilgin/hookline/internal/ratelimit"
	"github.com/kursadbilgin/hookline/internal/repository"
	"github.com/kursadbilgin/hookline/internal/signing"
)

// failingEventAfter is the attempt count whose failure emits
// message.attempt.failing.
const failingEventAfter = 4

const skipReasonDuplicate = "duplicate"

type DispatcherDeps struct {
	Destinations repository.DestinationRepository
	Attempts     repository.AttemptRepository
	Producer     queue.Producer
	Sender       provider.Sender
	Emitter      opevents.Emitter
	Limiter      ratelimit.Limiter
	Retry        *RetryScheduler
	Headers      *HeaderBuilder
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// Dispatcher performs one delivery of a message to an endpoint and moves the
// destination through its retry state machine.
type Dispatcher struct {
	destinations repository.DestinationRepository
	attempts     repository.AttemptRepository
	producer     queue.Producer
	sender       provider.Sender
	emitter      opevents.Emitter
	limiter      ratelimit.Limiter
	retry        *RetryScheduler
	headers      *HeaderBuilder
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

func NewDispatcher(deps DispatcherDeps) (*Dispatcher, error) {
	if deps.Destinations == nil || deps.Attempts == nil {
		return nil, fmt.Errorf("destination and attempt repositories are required")
	}
	if deps.Producer == nil {
		return nil, fmt.Errorf("queue producer is required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("webhook sender is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = opevents.NopEmitter{}
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryScheduler(DefaultRetrySchedule)
	}
	if deps.Headers == nil {
		deps.Headers = NewHeaderBuilder(false, "", deps.Logger)
	}

	return &Dispatcher{
		destinations: deps.Destinations,
		attempts:     deps.Attempts,
		producer:     deps.Producer,
		sender:       deps.Sender,
		emitter:      deps.Emitter,
		limiter:      deps.Limiter,
		retry:        deps.Retry,
		headers:      deps.Headers,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          time.Now,
	}, nil
}

// Dispatch returns an error only for store, queue or invariant failures.
// Failed HTTP calls are recorded and scheduled, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, task domain.MessageTask, app domain.Application, msg domain.Message, endpoint domain.Endpoint) error {
	ctx, span := observability.StartSpan(ctx, "delivery.dispatch",
		attribute.String("msg.id", msg.ID),
		attribute.String("endpoint.id", endpoint.ID),
		attribute.Int("attempt.count", task.AttemptCount),
		attribute.String("trigger", task.TriggerType.String()),
	)
	defer span.End()

	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("msgId", msg.ID),
		zap.String("appId", app.ID),
		zap.String("endpointId", endpoint.ID),
		zap.Int("attemptCount", task.AttemptCount),
		zap.String("trigger", task.TriggerType.String()),
	)

	err := d.dispatch(ctx, logger, task, app, msg, endpoint)
	if err != nil {
		observability.SetSpanError(ctx, err)
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, logger *zap.Logger, task domain.MessageTask, app domain.Application, msg domain.Message, endpoint domain.Endpoint) error {
	dest, err := d.destinations.GetByMessageAndEndpoint(ctx, msg.ID, endpoint.ID)
	if err != nil {
		return fmt.Errorf("failed to load destination: %w", err)
	}

	// Redelivered tasks for a settled destination must not call the
	// receiver again. Manual resends always go through.
	if !dest.Status.IsInFlight() && task.TriggerType != domain.TriggerManual {
		d.metrics.IncDeliverySkipped(skipReasonDuplicate)
		logger.Warn("skipping duplicate delivery of settled destination",
			zap.String("destinationId", dest.ID),
			zap.String("status", dest.Status.String()),
		)
		return nil
	}

	if !msg.HasPayload() {
		return fmt.Errorf("message %s has no payload", msg.ID)
	}

	now := d.now()
	timestamp := now.Unix()
	body := []byte(msg.Payload)

	signature, err := signing.SignText(endpoint.SigningKeys(now), msg.ID, timestamp, body)
	if err != nil {
		return fmt.Errorf("failed to sign payload for endpoint %s: %w", endpoint.ID, err)
	}
	headers := d.headers.Build(timestamp, msg.ID, signature, endpoint.Headers)

	if endpoint.RateLimit != nil {
		if err := d.limiter.Wait(ctx, endpoint.ID, *endpoint.RateLimit); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := d.now()
	resp, sendErr := d.sender.Send(ctx, provider.Request{
		URL:     endpoint.URL,
		Headers: headers,
		Body:    body,
	})
	ended := d.now()

	attempt := newAttempt(task, dest, endpoint, resp, sendErr, start, ended)
	if err := d.attempts.Create(ctx, &attempt); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	success := sendErr == nil
	reason := ""
	if !success {
		reason = provider.Reason(sendErr)
	}
	d.metrics.ObserveDelivery(success, task.TriggerType.String(), reason, ended.Sub(start))

	if success {
		return d.onSuccess(ctx, logger, task, app, msg, endpoint, dest, attempt)
	}

	observability.AddSpanEvent(ctx, "delivery.failed",
		attribute.Int("status_code", attempt.ResponseStatusCode),
		attribute.String("reason", reason),
	)
	return d.onFailure(ctx, logger, task, app, msg, endpoint, dest, attempt, sendErr)
}

func (d *Dispatcher) onSuccess(ctx context.Context, logger *zap.Logger, task domain.MessageTask, app domain.Application, msg domain.Message, endpoint domain.Endpoint, dest *domain.MessageDestination, attempt domain.MessageAttempt) error {
	if err := d.destinations.UpdateStatus(ctx, dest.ID, domain.StatusSuccess, nil); err != nil {
		return fmt.Errorf("failed to mark destination success: %w", err)
	}

	if task.TriggerType == domain.TriggerManual && dest.Status == domain.StatusFail {
		d.emitter.Emit(ctx, app.OrgID, opevents.NewMessageAttemptEvent(opevents.MessageAttemptRecovered, app, msg, endpoint, attempt))
	}

	logger.Debug("webhook delivered", zap.Int("statusCode", attempt.ResponseStatusCode))
	return nil
}

func (d *Dispatcher) onFailure(ctx context.Context, logger *zap.Logger, task domain.MessageTask, app domain.Application, msg domain.Message, endpoint domain.Endpoint, dest *domain.MessageDestination, attempt domain.MessageAttempt, sendErr error) error {
	if task.TriggerType == domain.TriggerManual {
		logger.Debug("manual delivery failed", zap.Error(sendErr))
		return nil
	}

	delay, ok := d.retry.NextDelay(task.AttemptCount)
	if !ok {
		if err := d.destinations.UpdateStatus(ctx, dest.ID, domain.StatusFail, nil); err != nil {
			return fmt.Errorf("failed to mark destination failed: %w", err)
		}
		d.metrics.IncDeliveryExhausted()
		d.emitter.Emit(ctx, app.OrgID, opevents.NewMessageAttemptEvent(opevents.MessageAttemptExhausted, app, msg, endpoint, attempt))

		logger.Info("delivery attempts exhausted", zap.Error(sendErr))
		return nil
	}

	next := d.now().Add(delay)
	if err := d.destinations.UpdateStatus(ctx, dest.ID, domain.StatusSending, &next); err != nil {
		return fmt.Errorf("failed to schedule destination retry: %w", err)
	}

	if task.AttemptCount == failingEventAfter {
		d.emitter.Emit(ctx, app.OrgID, opevents.NewMessageAttemptEvent(opevents.MessageAttemptFailing, app, msg, endpoint, attempt))
	}

	retryTask := task
	retryTask.AttemptCount++
	if err := d.producer.Send(ctx, retryTask, delay); err != nil {
		return fmt.Errorf("failed to enqueue retry: %w", err)
	}
	d.metrics.IncRetryScheduled()

	logger.Debug("delivery failed, retry scheduled",
		zap.Duration("delay", delay),
		zap.Error(sendErr),
	)
	return nil
}

func newAttempt(task domain.MessageTask, dest *domain.MessageDestination, endpoint domain.Endpoint, resp *provider.Response, sendErr error, start time.Time, ended time.Time) domain.MessageAttempt {
	ended = ended.UTC()
	attempt := domain.MessageAttempt{
		ID:            domain.NewAttemptID(),
		MsgID:         dest.MsgID,
		EndpointID:    endpoint.ID,
		DestinationID: dest.ID,
		URL:           endpoint.URL,
		Status:        domain.StatusSuccess,
		TriggerType:   task.TriggerType,
		CreatedAt:     start.UTC(),
		EndedAt:       &ended,
	}

	if resp != nil {
		attempt.ResponseStatusCode = resp.StatusCode
		attempt.Response = bytesToString(resp.Body)
	}
	if sendErr != nil {
		attempt.Status = domain.StatusFail
		var deliveryErr *provider.DeliveryError
		if resp == nil {
			attempt.Response = sendErr.Error()
			if errors.As(sendErr, &deliveryErr) && deliveryErr.Cause != nil {
				attempt.Response = deliveryErr.Cause.Error()
			}
		}
	}

	return attempt
}

// bytesToString keeps UTF-8 bodies as text and base64 encodes anything else.
func bytesToString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}
