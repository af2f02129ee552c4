// Package notify dispatches approval notifications. Delivery is best-effort:
// callers log returned errors and carry on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"grievance/api/internal/store"
	"grievance/api/internal/util"
)

type Notifier interface {
	Notify(ctx context.Context, n store.Notification) error
}

// Recorder persists a notification row for the in-app inbox.
type Recorder interface {
	InsertNotification(ctx context.Context, n store.Notification) error
}

type payload struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	EventID   string    `json:"eventId,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisNotifier records the notification and publishes it on the tenant's
// channel. Both legs are attempted even if one fails.
type RedisNotifier struct {
	client   *redis.Client
	recorder Recorder
	prefix   string
	now      func() time.Time
}

func NewRedisNotifier(client *redis.Client, recorder Recorder) *RedisNotifier {
	return &RedisNotifier{client: client, recorder: recorder, prefix: "notifications:", now: time.Now}
}

func (n *RedisNotifier) Channel(politicianID string) string {
	return n.prefix + politicianID
}

func (n *RedisNotifier) Notify(ctx context.Context, item store.Notification) error {
	item = fill(item, n.now)

	var errs []error
	if n.recorder != nil {
		if err := n.recorder.InsertNotification(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("record notification: %w", err))
		}
	}

	body, err := json.Marshal(payload{
		ID:        item.ID,
		Recipient: item.Recipient,
		EventID:   item.EventID,
		Kind:      item.Kind,
		Message:   item.Message,
		CreatedAt: item.CreatedAt,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("marshal notification: %w", err))
		return errors.Join(errs...)
	}
	if n.client != nil {
		if err := n.client.Publish(ctx, n.Channel(item.PoliticianID), body).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish notification: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the structured log and, when a
// recorder is set, to the inbox table. Used when Redis is not configured.
type LogNotifier struct {
	Recorder Recorder
	Logger   *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, item store.Notification) error {
	item = fill(item, time.Now)
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"politician_id", item.PoliticianID,
		"recipient", item.Recipient,
		"event_id", item.EventID,
		"kind", item.Kind,
	)
	if n.Recorder != nil {
		if err := n.Recorder.InsertNotification(ctx, item); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
	}
	return nil
}

func fill(item store.Notification, now func() time.Time) store.Notification {
	if item.ID == "" {
		item.ID = util.NewID("ntf")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now().UTC()
	}
	return item
}
