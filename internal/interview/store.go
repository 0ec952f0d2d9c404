package interview

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("interview not found")
	ErrEnded    = errors.New("interview already completed")
)

// Store persists interview aggregates. The orchestrator only ever appends
// to the question/response sequences; implementations must be safe for
// concurrent use by many sessions.
type Store interface {
	Create(ctx context.Context, iv *Interview) error
	Get(ctx context.Context, id string) (*Interview, error)
	// GetInProgress resolves an interview only when it belongs to userID
	// and is still in progress.
	GetInProgress(ctx context.Context, id, userID string) (*Interview, error)
	ListByUser(ctx context.Context, userID string) ([]*Interview, error)
	AppendQuestion(ctx context.Context, id string, q Question) error
	AppendResponse(ctx context.Context, id string, r Response) error
	// Complete is idempotent: completing an already-completed interview
	// returns the stored row unchanged.
	Complete(ctx context.Context, id string, endedAt time.Time, actualDurationSeconds int64) (*Interview, error)
	Close() error
}
