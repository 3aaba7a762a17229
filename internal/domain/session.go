package domain

import (
	"fmt"
	"time"
)

// Message roles accepted in a session transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Session is one conversation transcript, keyed by (PersonID, SessionID).
type Session struct {
	PersonID  string         `json:"person_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Messages  []Message      `json:"messages"`
	Response  map[string]any `json:"response"`
	Summary   string         `json:"summary,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Message is a single turn in a session transcript.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Validate checks every message carries a known role.
func (s Session) Validate() error {
	for i, m := range s.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}

// TruncateMessages keeps at most limit messages, dropping the oldest first.
// A non-positive limit leaves the slice untouched.
func TruncateMessages(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
