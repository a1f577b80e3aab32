package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WebhookLog is one received webhook delivery, journaled before any
// processing so a crash or decryption failure never loses the event.
type WebhookLog struct {
	ID         int64
	WebhookID  string
	Provider   string
	EventType  string
	Payload    string
	Processed  bool
	Error      string
	ReceivedAt time.Time
	UpdatedAt  time.Time
}

// RecordWebhook journals a delivery keyed by its content hash. Redelivery
// of an already seen payload returns the existing row with created=false.
func (s *Store) RecordWebhook(ctx context.Context, webhookID, provider, eventType, payload string) (*WebhookLog, bool, error) {
	if webhookID == "" {
		return nil, false, errors.New("webhook id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO webhook_logs (webhook_id, provider, event_type, payload, processed, received_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)
         ON CONFLICT(webhook_id) DO NOTHING`,
		webhookID,
		provider,
		nullableString(eventType),
		payload,
		now,
		now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert webhook log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	entry, err := s.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, fmt.Errorf("webhook log %s vanished after insert", webhookID)
	}
	return entry, affected > 0, nil
}

// GetWebhook fetches a journaled delivery by content hash.
func (s *Store) GetWebhook(ctx context.Context, webhookID string) (*WebhookLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhook_logs WHERE webhook_id = ?`, webhookID)
	entry, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook log: %w", err)
	}
	return entry, nil
}

// MarkWebhookProcessed claims a journaled delivery. The update only lands
// when the row is still unprocessed, so concurrent redeliveries cannot
// both claim the same event.
func (s *Store) MarkWebhookProcessed(ctx context.Context, webhookID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE webhook_logs SET processed = 1, error = NULL, updated_at = ? WHERE webhook_id = ? AND processed = 0`,
		time.Now().UTC().Format(time.RFC3339Nano),
		webhookID,
	)
	if err != nil {
		return false, fmt.Errorf("mark webhook processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetWebhookError records a processing failure while leaving the delivery
// unprocessed for the maintenance sweep to retry.
func (s *Store) SetWebhookError(ctx context.Context, webhookID, message string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE webhook_logs SET error = ?, updated_at = ? WHERE webhook_id = ?`,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		webhookID,
	); err != nil {
		return fmt.Errorf("set webhook error: %w", err)
	}
	return nil
}

// SetWebhookEventType fills in the event type once the payload has been
// decrypted far enough to know it.
func (s *Store) SetWebhookEventType(ctx context.Context, webhookID, eventType string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE webhook_logs SET event_type = ?, updated_at = ? WHERE webhook_id = ?`,
		nullableString(eventType),
		time.Now().UTC().Format(time.RFC3339Nano),
		webhookID,
	); err != nil {
		return fmt.Errorf("set webhook event type: %w", err)
	}
	return nil
}

// ReleaseWebhook returns a claimed delivery to the unprocessed pool so the
// maintenance sweep can retry it after a dispatch failure.
func (s *Store) ReleaseWebhook(ctx context.Context, webhookID, message string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE webhook_logs SET processed = 0, error = ?, updated_at = ? WHERE webhook_id = ?`,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		webhookID,
	); err != nil {
		return fmt.Errorf("release webhook: %w", err)
	}
	return nil
}

// UnprocessedWebhooks returns journaled deliveries that were never claimed,
// oldest first.
func (s *Store) UnprocessedWebhooks(ctx context.Context, limit int) ([]*WebhookLog, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_logs WHERE processed = 0 ORDER BY received_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed webhooks: %w", err)
	}
	defer rows.Close()

	var entries []*WebhookLog
	for rows.Next() {
		entry, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteProcessedWebhooksBefore removes claimed deliveries last touched
// before the cutoff.
func (s *Store) DeleteProcessedWebhooksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM webhook_logs WHERE processed = 1 AND updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete processed webhooks: %w", err)
	}
	return res.RowsAffected()
}
