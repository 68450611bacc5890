// Package notify delivers governance notifications to the external
// dispatcher. Delivery is fire-and-forget with at-least-once semantics: the
// core schedules a notification and never blocks on delivery confirmation.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Kind categorizes a notification.
type Kind string

const (
	KindAlert Kind = "ALERT"
	KindInfo  Kind = "INFO"
)

// Notification is one outbound message to an organization.
type Notification struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// New builds a notification with a fresh id.
func New(orgID, title, message string, kind Kind) Notification {
	return Notification{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Title:     title,
		Message:   message,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// Dispatcher accepts notifications for delivery. Implementations must not
// block the caller on downstream delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogDispatcher writes notifications to the structured log. Used in lite
// mode and wherever no delivery backend is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{logger: slog.Default().With("component", "notify")}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.logger.InfoContext(ctx, "notification",
		"org_id", n.OrgID, "kind", n.Kind, "title", n.Title, "message", n.Message)
	return nil
}
