// Package events carries task progress from workers to serving processes
// over the cache pub/sub channel. Delivery is best-effort: duplicates are
// acceptable and clients reconcile via the task's terminal state.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// EventType classifies a progress event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventCacheHit  EventType = "cache_hit"
)

// ProgressEvent is one update on a generation task.
type ProgressEvent struct {
	TaskID    string                 `json:"task_id"`
	ProjectID string                 `json:"project_id"`
	Progress  float64                `json:"progress"`
	Message   string                 `json:"message"`
	EventType EventType              `json:"event_type"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher emits progress events for one project.
type Publisher struct {
	cache     cache.Client
	projectID string
	logger    *observability.Logger
}

// NewPublisher creates a publisher for a project's channel. A nil cache
// client silently drops events.
func NewPublisher(c cache.Client, projectID string, logger *observability.Logger) *Publisher {
	return &Publisher{cache: c, projectID: projectID, logger: logger}
}

// Publish stamps and emits an event. Failures are logged, never returned:
// progress reporting must not fail the task.
func (p *Publisher) Publish(ctx context.Context, ev ProgressEvent) {
	ev.ProjectID = p.projectID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if p.cache == nil {
		return
	}
	if err := p.cache.Publish(ctx, cache.WSChannel(p.projectID), ev); err != nil {
		p.logger.Debug().Str("task_id", ev.TaskID).Err(err).Msg("progress publish failed")
	}
}

// Subscribe listens on a project's channel and decodes events onto the
// returned channel until ctx is done or the returned stop function is
// called. Undecodable payloads are dropped.
func Subscribe(ctx context.Context, c cache.Client, projectID string, logger *observability.Logger) (<-chan ProgressEvent, func(), error) {
	raw, unsubscribe, err := c.Subscribe(ctx, cache.WSChannel(projectID))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)
		for msg := range raw {
			var ev ProgressEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				logger.Debug().Err(err).Msg("dropping undecodable progress event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, unsubscribe, nil
}
