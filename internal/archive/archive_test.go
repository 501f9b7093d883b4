package archive

import (
	"context"
	"testing"
	"time"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/summary"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func archivedMessage(id, conversationID string, at time.Time) chatmsg.Message {
	return chatmsg.Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         "runner-7",
		Role:           chatmsg.RoleUser,
		Content:        "content for " + id,
		Timestamp:      at,
		Tokens:         8,
	}
}

func TestSaveMessage_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	msg := archivedMessage("m1", "conv:a", base)
	msg.Metadata = map[string]string{"summary_version": "3"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	got, err := s.RecentMessages(ctx, "conv:a", 10)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("RecentMessages() returned %d messages, want 1", len(got))
	}
	if got[0].ID != "m1" || got[0].Content != msg.Content || got[0].Tokens != 8 {
		t.Fatalf("round-tripped message = %+v", got[0])
	}
	if got[0].Metadata["summary_version"] != "3" {
		t.Fatalf("metadata lost in round trip: %v", got[0].Metadata)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Fatalf("timestamp = %v, want %v", got[0].Timestamp, base)
	}
}

func TestSaveMessage_DuplicateIDIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	msg := archivedMessage("m1", "conv:a", base)
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	msg.Content = "rewritten"
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() retry error = %v", err)
	}

	got, err := s.RecentMessages(ctx, "conv:a", 10)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicate save produced %d rows, want 1", len(got))
	}
	if got[0].Content == "rewritten" {
		t.Fatalf("duplicate save overwrote the original row")
	}
}

func TestRecentMessages_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		msg := archivedMessage(string(rune('a'+i)), "conv:a", base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}
	if err := s.SaveMessage(ctx, archivedMessage("other", "conv:b", base)); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	got, err := s.RecentMessages(ctx, "conv:a", 3)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	wantIDs := []string{"c", "d", "e"}
	if len(got) != len(wantIDs) {
		t.Fatalf("RecentMessages() returned %d messages, want %d", len(got), len(wantIDs))
	}
	for i, want := range wantIDs {
		if got[i].ID != want {
			t.Fatalf("RecentMessages()[%d] = %s, want %s (oldest first)", i, got[i].ID, want)
		}
	}
}

func TestRecentMessages_SubsecondTimestampsStayChronological(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// RFC3339Nano drops trailing zeros, so ".1235Z" sorts after ".12354Z"
	// as a string. The read path must not depend on that ordering.
	base := time.Date(2026, 3, 2, 8, 0, 0, 123_500_000, time.UTC)
	first := archivedMessage("first", "conv:a", base)
	second := archivedMessage("second", "conv:a", base.Add(40*time.Microsecond))
	if err := s.SaveMessage(ctx, first); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	if err := s.SaveMessage(ctx, second); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	got, err := s.RecentMessages(ctx, "conv:a", 10)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "first" || got[1].ID != "second" {
		ids := make([]string, len(got))
		for i, m := range got {
			ids[i] = m.ID
		}
		t.Fatalf("RecentMessages() order = %v, want [first second] (chronological)", ids)
	}
}

func TestAppendSummary_VersionsAreSequential(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := summary.ConversationSummary{
		Facts:       map[string]string{"race_date": "2026-05-10"},
		LastUpdated: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	}
	v1, err := s.AppendSummary(ctx, "conv:a", first)
	if err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}
	if v1 != 1 {
		t.Fatalf("first summary version = %d, want 1", v1)
	}

	second := first
	second.Facts = map[string]string{"race_date": "2026-06-01"}
	v2, err := s.AppendSummary(ctx, "conv:a", second)
	if err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}
	if v2 != 2 {
		t.Fatalf("second summary version = %d, want 2", v2)
	}

	// Versions are scoped per conversation.
	vOther, err := s.AppendSummary(ctx, "conv:b", first)
	if err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}
	if vOther != 1 {
		t.Fatalf("version on fresh conversation = %d, want 1", vOther)
	}
}

func TestLatestSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, version, err := s.LatestSummary(ctx, "conv:a")
	if err != nil {
		t.Fatalf("LatestSummary() error = %v", err)
	}
	if got != nil || version != 0 {
		t.Fatalf("LatestSummary() on empty archive = %+v, %d; want nil, 0", got, version)
	}

	for i, date := range []string{"2026-05-10", "2026-06-01"} {
		sum := summary.ConversationSummary{
			Facts:       map[string]string{"race_date": date},
			LastUpdated: time.Date(2026, 3, 2, 11+i, 0, 0, 0, time.UTC),
		}
		if _, err := s.AppendSummary(ctx, "conv:a", sum); err != nil {
			t.Fatalf("AppendSummary() error = %v", err)
		}
	}

	got, version, err = s.LatestSummary(ctx, "conv:a")
	if err != nil {
		t.Fatalf("LatestSummary() error = %v", err)
	}
	if version != 2 || got == nil {
		t.Fatalf("LatestSummary() version = %d, want 2", version)
	}
	if got.Facts["race_date"] != "2026-06-01" {
		t.Fatalf("LatestSummary() facts = %v, want newest payload", got.Facts)
	}
	if got.Version != 2 {
		t.Fatalf("summary.Version = %d, want stamped from row", got.Version)
	}
}

func TestSummaryHistory_RowsAreImmutable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1 := summary.ConversationSummary{Facts: map[string]string{"a": "1"}}
	v2 := summary.ConversationSummary{Facts: map[string]string{"a": "2"}}
	if _, err := s.AppendSummary(ctx, "conv:a", v1); err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}
	if _, err := s.AppendSummary(ctx, "conv:a", v2); err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}

	history, err := s.SummaryHistory(ctx, "conv:a")
	if err != nil {
		t.Fatalf("SummaryHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("SummaryHistory() returned %d rows, want 2", len(history))
	}
	if history[0].Facts["a"] != "1" || history[1].Facts["a"] != "2" {
		t.Fatalf("older version mutated by newer append: %+v", history)
	}
}
