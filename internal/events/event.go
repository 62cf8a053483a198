package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/umar/users-api/internal/models"
)

const (
	TypeUserCreated = "user.created"
	TypeUserUpdated = "user.updated"
	TypeUserDeleted = "user.deleted"
)

// Event describes a committed change to a user row. User is nil for
// deletions and never carries the password.
type Event struct {
	Type   string       `json:"type"`
	UserID string       `json:"user_id"`
	User   *models.User `json:"user,omitempty"`
	At     time.Time    `json:"at"`
}

func NewEvent(typ, userID string, user *models.User) Event {
	e := Event{Type: typ, UserID: userID, At: time.Now().UTC()}
	if user != nil {
		u := user.Redacted()
		e.User = &u
	}
	return e
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Notifier publishes change events. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
