package history

import (
	"context"
	"log/slog"

	"github.com/athlete-space/coachmem/internal/chatmsg"
)

// WorkingStore is the read surface of the working-memory store.
type WorkingStore interface {
	Read(ctx context.Context, conversationID string, limit int) []chatmsg.Message
	MaxEntries() int
}

// Fallback is an optional durable tier consulted when working memory has
// nothing for the conversation.
type Fallback interface {
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]chatmsg.Message, error)
}

// Reader retrieves ordered, validated history for prompt assembly. It never
// fails the caller: any read problem degrades to an empty result and the
// conversation behaves as if it had no history.
type Reader struct {
	store    WorkingStore
	fallback Fallback
	logger   *slog.Logger
}

func NewReader(store WorkingStore, fallback Fallback, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{store: store, fallback: fallback, logger: logger}
}

// History returns up to limit messages, oldest first. Entries with an invalid
// role, empty content or a missing token count are silently dropped; the
// limit is re-enforced after filtering.
func (r *Reader) History(ctx context.Context, conversationID string, limit int) []chatmsg.Message {
	maxWindow := r.store.MaxEntries()
	if limit <= 0 || limit > maxWindow {
		limit = maxWindow
	}

	messages := r.store.Read(ctx, conversationID, limit)
	if len(messages) == 0 && r.fallback != nil {
		fromArchive, err := r.fallback.RecentMessages(ctx, conversationID, limit)
		if err != nil {
			r.logger.Warn("history_fallback_read_failed", "conversation_id", conversationID, "error", err.Error())
			return nil
		}
		messages = fromArchive
	}

	valid := make([]chatmsg.Message, 0, len(messages))
	for _, msg := range messages {
		if !msg.Valid() {
			r.logger.Warn("history_invalid_entry_dropped",
				"conversation_id", conversationID, "role", string(msg.Role))
			continue
		}
		valid = append(valid, msg)
	}
	if len(valid) > limit {
		valid = valid[len(valid)-limit:]
	}
	return valid
}
