package outbox

import (
	"context"
	"time"
)

// Repository persists outbox messages. Save runs inside the unit of work that
// produced the event; the remaining methods are used by the Processor.
type Repository interface {
	Save(ctx context.Context, msg *Message) error
	// GetUnpublished returns due messages, oldest first.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id int64) error
	// MarkFailed bumps the retry count and defers the message until nextRetryAt.
	MarkFailed(ctx context.Context, id int64, err string, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, id int64, reason string) error
	Backlog(ctx context.Context) (Backlog, error)
	// DeleteOld removes published messages older than the given number of days.
	DeleteOld(ctx context.Context, olderThanDays int) (int64, error)
}

// Backlog counts the messages that have not been delivered.
type Backlog struct {
	Pending int64 `json:"pending"`
	Dead    int64 `json:"dead"`
}
