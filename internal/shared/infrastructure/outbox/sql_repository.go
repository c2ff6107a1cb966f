package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
)

const outboxColumns = `id, event_id, aggregate_type, aggregate_id, event_type, routing_key,
	payload, metadata, created_at, published_at, next_retry_at, retry_count,
	last_error, dead_lettered_at, dead_letter_reason`

// SQLRepository implements Repository over any database executor: the
// connection itself or a unit of work session.
type SQLRepository struct {
	exec database.Executor
}

// NewSQLRepository creates a new outbox repository.
func NewSQLRepository(exec database.Executor) *SQLRepository {
	return &SQLRepository{exec: exec}
}

// Save stores a new outbox message.
func (r *SQLRepository) Save(ctx context.Context, msg *Message) error {
	var metadata sql.NullString
	if len(msg.Metadata) > 0 {
		metadata = sql.NullString{String: string(msg.Metadata), Valid: true}
	}

	row := r.exec.QueryRow(ctx, `
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, routing_key, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		msg.EventID.String(), msg.AggregateType, msg.AggregateID, msg.EventType,
		msg.RoutingKey, string(msg.Payload), metadata, msg.CreatedAt.UTC(),
	)
	if err := row.Scan(&msg.ID); err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

// GetUnpublished retrieves unpublished messages that are due, oldest first.
func (r *SQLRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`,
		time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MarkPublished marks a message as successfully published.
func (r *SQLRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.exec.Exec(ctx, `UPDATE outbox SET published_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// MarkFailed records a publish failure with error message.
func (r *SQLRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	_, err := r.exec.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
		WHERE id = ?`,
		errMsg, nextRetryAt.UTC(), id,
	)
	return err
}

// MarkDead marks a message as dead-lettered.
func (r *SQLRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	_, err := r.exec.Exec(ctx, `
		UPDATE outbox
		SET dead_lettered_at = ?, dead_letter_reason = ?, retry_count = retry_count + 1
		WHERE id = ?`,
		time.Now().UTC(), reason, id,
	)
	return err
}

// Backlog counts undelivered messages, including those waiting for a retry.
func (r *SQLRepository) Backlog(ctx context.Context) (Backlog, error) {
	var b Backlog
	err := r.exec.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN published_at IS NULL AND dead_lettered_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dead_lettered_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM outbox`,
	).Scan(&b.Pending, &b.Dead)
	if err != nil {
		return Backlog{}, fmt.Errorf("failed to count outbox backlog: %w", err)
	}
	return b, nil
}

// DeleteOld removes successfully published messages older than the retention period.
func (r *SQLRepository) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	result, err := r.exec.Exec(ctx, `DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanMessages(rows database.Rows) ([]*Message, error) {
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row database.Row) (*Message, error) {
	var (
		msg              Message
		eventID          string
		payload          string
		metadata         sql.NullString
		publishedAt      sql.NullTime
		nextRetryAt      sql.NullTime
		lastError        sql.NullString
		deadLetteredAt   sql.NullTime
		deadLetterReason sql.NullString
	)

	err := row.Scan(
		&msg.ID, &eventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.RoutingKey,
		&payload, &metadata, &msg.CreatedAt, &publishedAt, &nextRetryAt, &msg.RetryCount,
		&lastError, &deadLetteredAt, &deadLetterReason,
	)
	if err != nil {
		return nil, err
	}

	msg.EventID, _ = uuid.Parse(eventID)
	msg.Payload = json.RawMessage(payload)
	if metadata.Valid {
		msg.Metadata = json.RawMessage(metadata.String)
	}
	msg.PublishedAt = timePtr(publishedAt)
	msg.NextRetryAt = timePtr(nextRetryAt)
	msg.DeadLetteredAt = timePtr(deadLetteredAt)
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	if deadLetterReason.Valid {
		msg.DeadLetterReason = &deadLetterReason.String
	}
	return &msg, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
