package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/infra/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// MaxEventBatch is the largest PutEvents request.
const MaxEventBatch = 10

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventPublisher publishes business events to an EventBridge bus.
type EventPublisher struct {
	api     EventBridgeAPI
	busName string
	cb      *gobreaker.CircuitBreaker
	cfg     resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewEventPublisher creates an EventPublisher on busName.
func NewEventPublisher(api EventBridgeAPI, busName string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		api:     api,
		busName: busName,
		cb:      cb,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Publish sends one event. A rejected entry is an error.
func (p *EventPublisher) Publish(ctx context.Context, e domain.Event) error {
	res, err := p.PublishBatch(ctx, []domain.Event{e})
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return &domain.ErrExternalService{Service: "eventbridge", Err: fmt.Errorf("event %s rejected", e.DetailType)}
	}
	return nil
}

// PublishBatch sends events in chunks of MaxEventBatch and reports how many
// entries were accepted.
func (p *EventPublisher) PublishBatch(ctx context.Context, events []domain.Event) (domain.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "EventPublisher.PublishBatch")
	defer span.End()

	var res domain.BatchResult
	for start := 0; start < len(events); start += MaxEventBatch {
		end := min(start+MaxEventBatch, len(events))
		chunk := events[start:end]

		entries, err := p.entries(chunk)
		if err != nil {
			return res, err
		}
		rejected, err := resilience.Execute(ctx, p.cb, p.cfg, "eventbridge", func(ctx context.Context) ([]bool, error) {
			out, err := p.api.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
			if err != nil {
				return nil, err
			}
			return rejectedEntries(out, len(entries)), nil
		})
		if err != nil {
			for _, e := range chunk {
				p.metrics.IncrEvent(e.DetailType, "error")
			}
			return res, err
		}
		for i, e := range chunk {
			if rejected[i] {
				res.Failed++
				p.metrics.IncrEvent(e.DetailType, "rejected")
				continue
			}
			res.Successful++
			p.metrics.IncrEvent(e.DetailType, "sent")
		}
	}

	p.logger.Info("events published",
		zap.Int("total", len(events)),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// rejectedEntries marks the entries EventBridge refused. Result entries are
// positional and carry an ErrorCode on failure. When the response has no
// per-entry results the last FailedEntryCount entries are marked.
func rejectedEntries(out *eventbridge.PutEventsOutput, n int) []bool {
	rejected := make([]bool, n)
	if len(out.Entries) == n {
		for i, r := range out.Entries {
			rejected[i] = aws.ToString(r.ErrorCode) != ""
		}
		return rejected
	}
	for i := max(n-int(out.FailedEntryCount), 0); i < n; i++ {
		rejected[i] = true
	}
	return rejected
}

func (p *EventPublisher) entries(events []domain.Event) ([]types.PutEventsRequestEntry, error) {
	now := p.now().UTC()
	out := make([]types.PutEventsRequestEntry, 0, len(events))
	for _, e := range events {
		detail := make(map[string]any, len(e.Detail)+1)
		for k, v := range e.Detail {
			detail[k] = v
		}
		detail["timestamp"] = now.Format(time.RFC3339Nano)
		raw, err := json.Marshal(detail)
		if err != nil {
			return nil, fmt.Errorf("encoding %s detail: %w", e.DetailType, err)
		}
		out = append(out, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(e.FullSource()),
			DetailType:   aws.String(e.DetailType),
			Detail:       aws.String(string(raw)),
			Resources:    e.Resources,
			Time:         aws.Time(now),
		})
	}
	return out, nil
}
