package conversation

import (
	"time"

	"thumbnail-bot/internal/model"
)

// State is a step of the template creation dialogue.
type State int

const (
	StateAwaitingName State = iota + 1
	StateAwaitingButtonLabel
	StateAwaitingButtonURL
	StateAwaitingConfirmation
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingName:
		return "awaiting_name"
	case StateAwaitingButtonLabel:
		return "awaiting_button_label"
	case StateAwaitingButtonURL:
		return "awaiting_button_url"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Choice is a discrete answer offered in the confirmation step.
type Choice string

const (
	ChoiceAddAnother Choice = "add"
	ChoiceSave       Choice = "save"
	ChoiceCancel     Choice = "cancel"
)

// ParseChoice maps raw callback payloads to a Choice.
func ParseChoice(raw string) (Choice, bool) {
	switch c := Choice(raw); c {
	case ChoiceAddAnother, ChoiceSave, ChoiceCancel:
		return c, true
	default:
		return "", false
	}
}

// Session is the per-user draft kept between chat turns.
type Session struct {
	OwnerID        int64          `json:"owner_id"`
	State          State          `json:"state"`
	PendingName    string         `json:"pending_name,omitempty"`
	PendingLabel   string         `json:"pending_label,omitempty"`
	PendingButtons []model.Button `json:"pending_buttons,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (s Session) clone() Session {
	s.PendingButtons = append([]model.Button(nil), s.PendingButtons...)
	return s
}
