package notify

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SQLOutbox is a durable Dispatcher: notifications are written as PENDING
// rows and drained by a Pump. Scheduling is idempotent on the notification
// id, which gives at-least-once delivery without duplicating rows.
type SQLOutbox struct {
	db *sql.DB
}

func NewSQLOutbox(db *sql.DB) *SQLOutbox {
	return &SQLOutbox{db: db}
}

const outboxSchema = `
CREATE TABLE IF NOT EXISTS notification_outbox (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMP NOT NULL,
	sent_at TIMESTAMP
);
`

// Init creates the outbox table.
func (o *SQLOutbox) Init(ctx context.Context) error {
	_, err := o.db.ExecContext(ctx, outboxSchema)
	return err
}

// Dispatch schedules the notification for delivery.
func (o *SQLOutbox) Dispatch(ctx context.Context, n Notification) error {
	query := `
		INSERT INTO notification_outbox (id, org_id, title, message, kind, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := o.db.ExecContext(ctx, query, n.ID, n.OrgID, n.Title, n.Message, n.Kind, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notify: schedule notification: %w", err)
	}
	return nil
}

// Pending returns scheduled notifications oldest first.
func (o *SQLOutbox) Pending(ctx context.Context) ([]Notification, error) {
	query := `
		SELECT id, org_id, title, message, kind, created_at
		FROM notification_outbox
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
	`
	rows, err := o.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OrgID, &n.Title, &n.Message, &n.Kind, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent records successful delivery.
func (o *SQLOutbox) MarkSent(ctx context.Context, id string) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE notification_outbox SET status = 'SENT', sent_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	return err
}

// Sender performs the actual delivery of one notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// WebhookSender POSTs notifications as JSON to a configured endpoint.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook delivery: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Pump drains the outbox on an interval. Failed deliveries stay PENDING and
// are retried on the next cycle.
type Pump struct {
	outbox   *SQLOutbox
	sender   Sender
	interval time.Duration
	logger   *slog.Logger
}

func NewPump(outbox *SQLOutbox, sender Sender, interval time.Duration) *Pump {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Pump{
		outbox:   outbox,
		sender:   sender,
		interval: interval,
		logger:   slog.Default().With("component", "notify.pump"),
	}
}

// Run blocks until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Pump) drain(ctx context.Context) {
	pending, err := p.outbox.Pending(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "outbox read failed", "error", err)
		return
	}
	for _, n := range pending {
		if err := p.sender.Send(ctx, n); err != nil {
			p.logger.WarnContext(ctx, "delivery failed, will retry", "id", n.ID, "error", err)
			continue
		}
		if err := p.outbox.MarkSent(ctx, n.ID); err != nil {
			p.logger.ErrorContext(ctx, "mark sent failed", "id", n.ID, "error", err)
		}
	}
}
