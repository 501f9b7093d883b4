package summarize

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/metrics"
	"github.com/athlete-space/coachmem/internal/summary"
	"github.com/athlete-space/coachmem/internal/tokens"
)

const DefaultKeepTurns = 6

// WorkingMemory is the slice of the store the compactor needs. Only the
// compactor is allowed to call Replace.
type WorkingMemory interface {
	Read(ctx context.Context, conversationID string, limit int) []chatmsg.Message
	Replace(ctx context.Context, conversationID string, messages []chatmsg.Message) error
}

// Compactor atomically replaces a conversation's working memory with
// [rendered summary, last K turns]. It runs out of band after the response
// has been served, so it never raises: store failures are logged and
// swallowed, and a version guard makes repeat calls no-ops.
type Compactor struct {
	store     WorkingMemory
	counter   tokens.Counter
	keepTurns int
	logger    *slog.Logger
	counters  *metrics.Counters
}

func NewCompactor(store WorkingMemory, keepTurns int, logger *slog.Logger, counters *metrics.Counters) *Compactor {
	if keepTurns <= 0 {
		keepTurns = DefaultKeepTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{store: store, keepTurns: keepTurns, logger: logger, counters: counters}
}

func (c *Compactor) Compact(ctx context.Context, conversationID string, s summary.ConversationSummary, version int, createdAt time.Time) {
	current := c.store.Read(ctx, conversationID, 0)
	if len(current) == 0 {
		c.logger.Debug("compactor_skip_empty", "conversation_id", conversationID)
		return
	}
	if existing, ok := current[0].SummaryVersion(); ok && existing >= version {
		c.logger.Debug("compactor_skip_idempotent",
			"conversation_id", conversationID,
			"existing_version", existing,
			"incoming_version", version,
		)
		return
	}

	recent := lastTurns(current, c.keepTurns)

	content := summary.Render(s)
	rendered := chatmsg.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chatmsg.RoleSystem,
		Content:        content,
		Timestamp:      createdAt.UTC(),
		Tokens:         c.counter.Count(string(chatmsg.RoleSystem), content),
		Metadata:       summary.Stamp(version, createdAt),
	}

	replacement := make([]chatmsg.Message, 0, len(recent)+1)
	replacement = append(replacement, rendered)
	replacement = append(replacement, recent...)

	if err := c.store.Replace(ctx, conversationID, replacement); err != nil {
		c.logger.Warn("compactor_replace_failed",
			"conversation_id", conversationID,
			"version", version,
			"error", err.Error(),
		)
		return
	}
	c.counters.CompactionRun()
	c.logger.Info("compaction_applied",
		"conversation_id", conversationID,
		"version", version,
		"kept_messages", len(recent),
		"replaced_messages", len(current),
	)
}

// lastTurns extracts the trailing K conversational turns, where a turn is a
// user message optionally followed by one assistant message. Summary-stamped
// system messages are excluded from consideration.
func lastTurns(messages []chatmsg.Message, k int) []chatmsg.Message {
	type turn struct {
		messages []chatmsg.Message
	}
	turns := make([]turn, 0, len(messages))
	for _, msg := range messages {
		if msg.IsSummary() {
			continue
		}
		switch msg.Role {
		case chatmsg.RoleAssistant:
			if n := len(turns); n > 0 {
				last := &turns[n-1]
				if len(last.messages) == 1 && last.messages[0].Role == chatmsg.RoleUser {
					last.messages = append(last.messages, msg)
					continue
				}
			}
			turns = append(turns, turn{messages: []chatmsg.Message{msg}})
		default:
			turns = append(turns, turn{messages: []chatmsg.Message{msg}})
		}
	}
	if len(turns) > k {
		turns = turns[len(turns)-k:]
	}
	out := make([]chatmsg.Message, 0, 2*len(turns))
	for _, t := range turns {
		out = append(out, t.messages...)
	}
	return out
}
