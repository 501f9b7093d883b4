package chatmsg

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/athlete-space/coachmem/internal/tokens"
)

// InputKind discriminates the shapes inbound content can take.
type InputKind int

const (
	KindText InputKind = iota + 1
	KindLines
	KindFields
)

// RawInput is the tagged union of inbound content: plain text, a list of text
// lines, or a key-value object that may carry embedded role/content fields.
type RawInput struct {
	Kind   InputKind
	Text   string
	Lines  []string
	Fields map[string]string
}

func TextInput(text string) RawInput {
	return RawInput{Kind: KindText, Text: text}
}

func LinesInput(lines []string) RawInput {
	return RawInput{Kind: KindLines, Lines: lines}
}

func FieldsInput(fields map[string]string) RawInput {
	return RawInput{Kind: KindFields, Fields: fields}
}

// Normalizer converts raw inbound content into the canonical Message shape,
// assigning a server timestamp and a token count. It has no side effects
// beyond the count computation.
type Normalizer struct {
	counter tokens.Counter
	budget  tokens.Budget
	now     func() time.Time
}

func NewNormalizer(budget tokens.Budget, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{budget: budget.Normalize(), now: now}
}

// Normalize resolves the role (explicit override wins, then an embedded role
// field, then user), coerces content to a trimmed string and enforces the
// per-message token ceiling. Client-supplied timestamps are always discarded.
func (n *Normalizer) Normalize(raw RawInput, conversationID, userID, roleOverride string) (Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Message{}, validationError(CodeBadRequest, "conversation id is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Message{}, validationError(CodeBadRequest, "user id is required")
	}

	content, embeddedRole, err := coerceContent(raw)
	if err != nil {
		return Message{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, validationError(CodeEmptyContent, "content is empty after coercion")
	}

	role, err := resolveRole(roleOverride, embeddedRole)
	if err != nil {
		return Message{}, err
	}

	count := n.counter.Count(string(role), content)
	if count > n.budget.PerMessageMax {
		return Message{}, validationError(CodeMessageTooLarge,
			"message of %d tokens exceeds per-message ceiling %d", count, n.budget.PerMessageMax)
	}

	return Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		Timestamp:      n.now().UTC(),
		Tokens:         count,
	}, nil
}

func resolveRole(override, embedded string) (Role, error) {
	for _, candidate := range []string{override, embedded} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		role, ok := ParseRole(candidate)
		if !ok {
			return "", validationError(CodeInvalidRole, "invalid role %q", candidate)
		}
		return role, nil
	}
	return RoleUser, nil
}

func coerceContent(raw RawInput) (content string, embeddedRole string, err error) {
	switch raw.Kind {
	case KindText:
		return raw.Text, "", nil
	case KindLines:
		return strings.Join(raw.Lines, "\n"), "", nil
	case KindFields:
		if raw.Fields == nil {
			return "", "", nil
		}
		embeddedRole = raw.Fields["role"]
		if body, ok := raw.Fields["content"]; ok {
			return body, embeddedRole, nil
		}
		// No content field: serialize the whole object. json.Marshal emits
		// map keys in sorted order, so the result is deterministic.
		encoded, marshalErr := json.Marshal(raw.Fields)
		if marshalErr != nil {
			return "", "", validationError(CodeBadRequest, "serialize structured input: %v", marshalErr)
		}
		return string(encoded), embeddedRole, nil
	default:
		return "", "", validationError(CodeBadRequest, "unrecognized input kind %d", raw.Kind)
	}
}
