package chatmsg

import (
	"testing"
	"time"

	"github.com/athlete-space/coachmem/internal/tokens"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
}

func newTestNormalizer() *Normalizer {
	return NewNormalizer(tokens.Budget{}, fixedClock)
}

func TestNormalize_PlainText(t *testing.T) {
	n := newTestNormalizer()
	msg, err := n.Normalize(TextInput("  long run felt great today  "), "conv:abc123", "user-1", "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if msg.Role != RoleUser {
		t.Fatalf("role = %q, want %q", msg.Role, RoleUser)
	}
	if msg.Content != "long run felt great today" {
		t.Fatalf("content = %q, want trimmed input", msg.Content)
	}
	if msg.Tokens <= 0 {
		t.Fatalf("tokens = %d, want > 0", msg.Tokens)
	}
	if msg.ID == "" {
		t.Fatalf("id should be assigned")
	}
	if !msg.Valid() {
		t.Fatalf("normalized message should satisfy the storage invariant")
	}
}

func TestNormalize_ServerTimestampUTC(t *testing.T) {
	n := newTestNormalizer()
	msg, err := n.Normalize(TextInput("hello"), "conv:abc123", "user-1", "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := fixedClock().UTC()
	if !msg.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", msg.Timestamp, want)
	}
	if msg.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp location = %v, want UTC", msg.Timestamp.Location())
	}
}

func TestNormalize_RoleResolutionOrder(t *testing.T) {
	n := newTestNormalizer()

	// Override wins over embedded role.
	msg, err := n.Normalize(FieldsInput(map[string]string{"role": "assistant", "content": "done"}), "c:1", "u", "SYSTEM")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if msg.Role != RoleSystem {
		t.Fatalf("role = %q, want override %q", msg.Role, RoleSystem)
	}

	// Embedded role used when no override.
	msg, err = n.Normalize(FieldsInput(map[string]string{"role": "Assistant", "content": "done"}), "c:1", "u", "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if msg.Role != RoleAssistant {
		t.Fatalf("role = %q, want embedded %q", msg.Role, RoleAssistant)
	}

	// Default is user.
	msg, err = n.Normalize(TextInput("hi"), "c:1", "u", "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if msg.Role != RoleUser {
		t.Fatalf("role = %q, want default %q", msg.Role, RoleUser)
	}
}

func TestNormalize_InvalidRole(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize(TextInput("hi"), "c:1", "u", "operator")
	if err == nil {
		t.Fatalf("Normalize() expected invalid-role error")
	}
	if ErrorCodeOf(err) != CodeInvalidRole {
		t.Fatalf("error code = %q, want %q", ErrorCodeOf(err), CodeInvalidRole)
	}
}

func TestNormalize_EmptyContent(t *testing.T) {
	n := newTestNormalizer()
	for name, raw := range map[string]RawInput{
		"blank text":  TextInput("   \n\t "),
		"empty lines": LinesInput([]string{"", "  "}),
		"nil fields":  FieldsInput(nil),
	} {
		if _, err := n.Normalize(raw, "c:1", "u", ""); ErrorCodeOf(err) != CodeEmptyContent {
			t.Fatalf("%s: error code = %q, want %q", name, ErrorCodeOf(err), CodeEmptyContent)
		}
	}
}

func TestNormalize_LinesJoined(t *testing.T) {
	n := newTestNormalizer()
	msg, err := n.Normalize(LinesInput([]string{"split 1: 4:52", "split 2: 4:48"}), "c:1", "u", "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := "split 1: 4:52\nsplit 2: 4:48"
	if msg.Content != want {
		t.Fatalf("content = %q, want %q", msg.Content, want)
	}
}

func TestNormalize_FieldsSerializedDeterministically(t *testing.T) {
	n := newTestNormalizer()
	fields := map[string]string{"sport": "running", "distance_km": "21.1"}
	first, err := n.Normalize(FieldsInput(fields), "c:1", "u", "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	second, err := n.Normalize(FieldsInput(fields), "c:1", "u", "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if first.Content != second.Content {
		t.Fatalf("serialized content differs between runs: %q vs %q", first.Content, second.Content)
	}
	want := `{"distance_km":"21.1","sport":"running"}`
	if first.Content != want {
		t.Fatalf("content = %q, want %q", first.Content, want)
	}
}

func TestNormalize_OversizedMessageFails(t *testing.T) {
	n := NewNormalizer(tokens.Budget{PerMessageMax: 10}, fixedClock)
	big := make([]byte, 400)
	for i := range big {
		big[i] = 'k'
	}
	_, err := n.Normalize(TextInput(string(big)), "c:1", "u", "")
	if ErrorCodeOf(err) != CodeMessageTooLarge {
		t.Fatalf("error code = %q, want %q", ErrorCodeOf(err), CodeMessageTooLarge)
	}
}

func TestNormalize_MissingIdentity(t *testing.T) {
	n := newTestNormalizer()
	if _, err := n.Normalize(TextInput("hi"), " ", "u", ""); ErrorCodeOf(err) != CodeBadRequest {
		t.Fatalf("missing conversation id: code = %q, want %q", ErrorCodeOf(err), CodeBadRequest)
	}
	if _, err := n.Normalize(TextInput("hi"), "c:1", "", ""); ErrorCodeOf(err) != CodeBadRequest {
		t.Fatalf("missing user id: code = %q, want %q", ErrorCodeOf(err), CodeBadRequest)
	}
}

func TestSummaryVersionStamp(t *testing.T) {
	msg := Message{
		Role:     RoleSystem,
		Content:  "summary",
		Tokens:   3,
		Metadata: map[string]string{MetaSummaryVersion: "7"},
	}
	v, ok := msg.SummaryVersion()
	if !ok || v != 7 {
		t.Fatalf("SummaryVersion() = %d, %v; want 7, true", v, ok)
	}
	if !msg.IsSummary() {
		t.Fatalf("IsSummary() = false, want true")
	}

	plain := Message{Role: RoleUser, Content: "hi", Tokens: 1}
	if _, ok := plain.SummaryVersion(); ok {
		t.Fatalf("SummaryVersion() should not report a stamp on a user message")
	}
	badStamp := Message{Role: RoleSystem, Metadata: map[string]string{MetaSummaryVersion: "zero"}}
	if badStamp.IsSummary() {
		t.Fatalf("IsSummary() = true for non-numeric stamp")
	}
}
