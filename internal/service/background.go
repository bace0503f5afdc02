// Package service orchestrates repositories and external collaborators.
// Side effects (events, notifications, text extraction, mirroring) are
// submitted to the task queue after the primary write has returned.
package service

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/port"

	"go.uber.org/zap"
)

// Background submits side effects off the request path. A nil
// *Background, or one without a task queue, drops everything.
type Background struct {
	tasks  port.TaskSubmitter
	bus    port.EventBus
	logger *zap.Logger
}

// NewBackground wires the task queue and the optional event bus.
func NewBackground(tasks port.TaskSubmitter, bus port.EventBus, logger *zap.Logger) *Background {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Background{tasks: tasks, bus: bus, logger: logger}
}

// Go submits fn under name. It reports false when the task was dropped.
func (b *Background) Go(name string, fn func(ctx context.Context) error) bool {
	if b == nil || b.tasks == nil {
		return false
	}
	return b.tasks.Submit(name, fn)
}

// Emit publishes e in the background. Publication failures are logged by
// the queue; they never affect the caller.
func (b *Background) Emit(e domain.Event) {
	if b == nil || b.bus == nil {
		return
	}
	b.Go("event."+e.DetailType, func(ctx context.Context) error {
		return b.bus.Publish(ctx, e)
	})
}

// EmitBatch publishes events together in the background.
func (b *Background) EmitBatch(events []domain.Event) {
	if b == nil || b.bus == nil || len(events) == 0 {
		return
	}
	b.Go("event.batch", func(ctx context.Context) error {
		res, err := b.bus.PublishBatch(ctx, events)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			b.logger.Warn("events rejected by bus",
				zap.Int("failed", res.Failed),
				zap.Int("successful", res.Successful),
			)
		}
		return nil
	})
}

func resource(kind, id string) []string {
	return []string{"arn:aws:" + kind + ":" + id}
}
