package chatmsg

import (
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Metadata keys recognized across the pipeline. Absence of a key means the
// concern does not apply; empty values are never stored by convention.
const (
	MetaSummaryVersion   = "summary_version"
	MetaSummaryCreatedAt = "summary_created_at"
	MetaTransient        = "transient"
	MetaProgressMarker   = "progress_marker"
)

// ParseRole matches case-insensitively against the three allowed roles.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return RoleUser, true
	case "assistant":
		return RoleAssistant, true
	case "system":
		return RoleSystem, true
	default:
		return "", false
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one canonical conversational turn. Messages are created only by
// the Normalizer, written once and never mutated.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	Timestamp      time.Time         `json:"timestamp"`
	Tokens         int               `json:"tokens"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether the message satisfies the storage invariant: a known
// role, non-empty content and an assigned token count.
func (m Message) Valid() bool {
	return m.Role.Valid() && strings.TrimSpace(m.Content) != "" && m.Tokens > 0
}

// SummaryVersion returns the compaction stamp carried by a synthetic summary
// system message, if present.
func (m Message) SummaryVersion() (int, bool) {
	if m.Role != RoleSystem {
		return 0, false
	}
	raw, ok := m.Metadata[MetaSummaryVersion]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// IsSummary reports whether the message is a compacted-summary system message.
func (m Message) IsSummary() bool {
	_, ok := m.SummaryVersion()
	return ok
}
