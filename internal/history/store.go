package history

import (
	"context"
	"time"
)

// TurnRecord is one archived conversational turn, kept beyond the session's
// bounded in-memory history for introspection and analytics.
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Room      string    `json:"room"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// Store archives and retrieves conversation turns. Writes from sessions are
// best-effort; archive unavailability must never fail a live conversation.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
