package session

import (
	"context"
	"errors"
	"time"
)

// State is where a chat stands in the menu-to-answer cycle. StateIdle is
// never stored: an idle chat simply has no session.
type State int

const (
	StateIdle State = iota
	StateAwaitingPictureID
	StateAwaitingInfoID
)

func (s State) String() string {
	switch s {
	case StateAwaitingPictureID:
		return "awaiting_picture_id"
	case StateAwaitingInfoID:
		return "awaiting_info_id"
	default:
		return "idle"
	}
}

// Session is the transient per-chat conversation state.
type Session struct {
	State         State     `json:"state"`
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"started_at"`
}

var ErrNoSession = errors.New("session: no active session")

// Store holds sessions keyed by chat. Get returns ErrNoSession for idle chats.
type Store interface {
	Get(ctx context.Context, chat string) (Session, error)
	Set(ctx context.Context, chat string, s Session) error
	Delete(ctx context.Context, chat string) error
}
