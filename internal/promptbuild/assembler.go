package promptbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/metrics"
	"github.com/athlete-space/coachmem/internal/tokens"
	"github.com/athlete-space/coachmem/llm"
)

var (
	ErrEmptySystemPrompt    = errors.New("system prompt is empty")
	ErrConversationMismatch = errors.New("current message belongs to a different conversation")
	ErrNotUserMessage       = errors.New("current message role must be user")

	// ErrModelCeilingExceeded indicates a fully-truncated prompt that still
	// exceeds the absolute model ceiling. That is a configuration error and
	// must fail loudly rather than ship an oversized prompt.
	ErrModelCeilingExceeded = errors.New("assembled prompt exceeds absolute model token ceiling")
)

type HistorySource interface {
	History(ctx context.Context, conversationID string, limit int) []chatmsg.Message
}

// Assembler builds the model-bound message list [system, history..., current]
// and enforces the per-prompt token budget by truncating history. The system
// message and the current user message are never truncated.
type Assembler struct {
	history  HistorySource
	counter  tokens.Counter
	budget   tokens.Budget
	logger   *slog.Logger
	counters *metrics.Counters
}

func NewAssembler(history HistorySource, budget tokens.Budget, logger *slog.Logger, counters *metrics.Counters) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		history:  history,
		budget:   budget.Normalize(),
		logger:   logger,
		counters: counters,
	}
}

// Build assembles the prompt. Precondition violations are caller errors; the
// only other failure mode is the absolute model-ceiling check.
func (a *Assembler) Build(ctx context.Context, conversationID string, current chatmsg.Message, systemPrompt string) ([]llm.Message, error) {
	if systemPrompt == "" {
		return nil, ErrEmptySystemPrompt
	}
	if current.ConversationID != conversationID {
		return nil, fmt.Errorf("%w: message=%q target=%q", ErrConversationMismatch, current.ConversationID, conversationID)
	}
	if current.Role != chatmsg.RoleUser {
		return nil, fmt.Errorf("%w: got %q", ErrNotUserMessage, current.Role)
	}

	history := a.history.History(ctx, conversationID, 0)
	// The current message may already sit at the tail of working memory; it
	// is appended explicitly below, so drop it from the history window.
	if current.ID != "" {
		deduped := make([]chatmsg.Message, 0, len(history))
		for _, msg := range history {
			if msg.ID == current.ID {
				continue
			}
			deduped = append(deduped, msg)
		}
		history = deduped
	}

	systemMsg := llm.Message{Role: string(chatmsg.RoleSystem), Content: systemPrompt}
	currentMsg := llm.Message{Role: string(chatmsg.RoleUser), Content: current.Content}

	anchorTokens := a.count(systemMsg) + a.count(currentMsg)
	originalTotal := anchorTokens
	historyTokens := make([]int, len(history))
	for i, msg := range history {
		historyTokens[i] = a.counter.Count(string(msg.Role), msg.Content)
		originalTotal += historyTokens[i]
	}

	kept := history
	finalTotal := originalTotal
	dropped := 0
	if originalTotal > a.budget.PerPromptMax {
		// Keep the maximal contiguous suffix of history that fits: walk from
		// the newest message backwards and stop at the first one that would
		// push the running total over the ceiling.
		running := anchorTokens
		keepFrom := len(history)
		for i := len(history) - 1; i >= 0; i-- {
			if running+historyTokens[i] > a.budget.PerPromptMax {
				break
			}
			running += historyTokens[i]
			keepFrom = i
		}
		kept = history[keepFrom:]
		dropped = keepFrom
		finalTotal = running
		a.counters.TruncationPerformed()
	}

	if finalTotal > a.budget.ModelMax {
		return nil, fmt.Errorf("%w: %d tokens > %d", ErrModelCeilingExceeded, finalTotal, a.budget.ModelMax)
	}

	out := make([]llm.Message, 0, len(kept)+2)
	out = append(out, systemMsg)
	for _, msg := range kept {
		out = append(out, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}
	out = append(out, currentMsg)

	if finalTotal >= a.budget.WarnAt {
		a.logger.Warn("prompt_near_budget",
			"conversation_id", conversationID,
			"tokens", finalTotal,
			"warn_at", a.budget.WarnAt,
		)
	}
	a.logger.Debug("prompt_assembled",
		"conversation_id", conversationID,
		"original_tokens", originalTotal,
		"final_tokens", finalTotal,
		"truncated", dropped > 0,
		"dropped_messages", dropped,
		"message_count", len(out),
	)
	return out, nil
}

func (a *Assembler) count(msg llm.Message) int {
	return a.counter.Count(msg.Role, msg.Content)
}
