package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/jsonutil"
	"github.com/athlete-space/coachmem/internal/summary"
	"github.com/athlete-space/coachmem/llm"
)

const summarizerSystemPrompt = `You compress a running-coach conversation into structured memory.
Return a single JSON object with exactly these keys:
- "facts": object of stable key-value strings (e.g. race_date, weekly_mileage)
- "preferences": object of key-value strings
- "goals": object with "primary" (string) and "secondary" (array of strings)
- "open_threads": array of short topic strings still unresolved

Rules:
- Use ONLY information explicitly present in the provided messages and state.
- Never infer, speculate or add narrative.
- Leave a field empty when the conversation contains nothing for it.
- Output raw JSON with no code fences and no commentary.`

// extraction is the exact shape the model is constrained to.
type extraction struct {
	Facts       map[string]string `json:"facts"`
	Preferences map[string]string `json:"preferences"`
	Goals       summary.Goals     `json:"goals"`
	OpenThreads []string          `json:"open_threads"`
}

type summarizeInput struct {
	Messages        []llm.Message     `json:"messages"`
	SlotState       map[string]string `json:"slot_state,omitempty"`
	PreviousSummary *extraction       `json:"previous_summary,omitempty"`
}

// Summarizer extracts structured facts, preferences, goals and open threads
// from recent turns and merges them with the previous summary. An LLM failure
// is a hard failure here: correctness matters more than availability, so the
// caller decides whether to skip the compaction cycle.
type Summarizer struct {
	client llm.Client
	model  string
	logger *slog.Logger
	now    func() time.Time
}

func NewSummarizer(client llm.Client, model string, logger *slog.Logger, now func() time.Time) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Summarizer{client: client, model: model, logger: logger, now: now}
}

// Summarize produces the next summary for the conversation. With nothing to
// summarize it returns the previous summary unchanged (or an empty one with a
// fresh timestamp); it never fabricates content from nothing.
func (s *Summarizer) Summarize(ctx context.Context, conversationID string, recent []chatmsg.Message, slotState map[string]string, previous *summary.ConversationSummary) (summary.ConversationSummary, error) {
	if len(recent) == 0 && len(slotState) == 0 {
		if previous != nil {
			return *previous, nil
		}
		return summary.ConversationSummary{LastUpdated: s.now().UTC()}, nil
	}
	if s.client == nil {
		return summary.ConversationSummary{}, fmt.Errorf("summarizer has no llm client")
	}

	payload, err := s.buildInput(recent, slotState, previous)
	if err != nil {
		return summary.ConversationSummary{}, fmt.Errorf("build summarizer input: %w", err)
	}

	res, err := s.client.Chat(ctx, llm.Request{
		Model:     s.model,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: "system", Content: summarizerSystemPrompt},
			{Role: "user", Content: payload},
		},
	})
	if err != nil {
		return summary.ConversationSummary{}, fmt.Errorf("summarizer llm call: %w", err)
	}
	raw := strings.TrimSpace(res.Text)
	if raw == "" {
		return summary.ConversationSummary{}, fmt.Errorf("summarizer returned empty response")
	}

	var extracted extraction
	if err := jsonutil.DecodeWithFallback(raw, &extracted); err != nil {
		return summary.ConversationSummary{}, fmt.Errorf("summarizer returned malformed json: %w", err)
	}

	incoming := summary.ConversationSummary{
		Facts:       extracted.Facts,
		Preferences: extracted.Preferences,
		Goals:       extracted.Goals,
		OpenThreads: extracted.OpenThreads,
	}
	base := summary.ConversationSummary{}
	if previous != nil {
		base = *previous
	}
	merged := summary.Merge(base, incoming, s.now())
	s.logger.Debug("summarizer_extracted",
		"conversation_id", conversationID,
		"facts", len(merged.Facts),
		"preferences", len(merged.Preferences),
		"open_threads", len(merged.OpenThreads),
	)
	return merged, nil
}

func (s *Summarizer) buildInput(recent []chatmsg.Message, slotState map[string]string, previous *summary.ConversationSummary) (string, error) {
	input := summarizeInput{
		Messages:  make([]llm.Message, 0, len(recent)),
		SlotState: slotState,
	}
	for _, msg := range recent {
		if msg.IsSummary() {
			// Prior compaction stamps are context the model already has via
			// previous_summary; feeding them back would double-count.
			continue
		}
		input.Messages = append(input.Messages, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}
	if previous != nil && !previous.Empty() {
		input.PreviousSummary = &extraction{
			Facts:       previous.Facts,
			Preferences: previous.Preferences,
			Goals:       previous.Goals,
			OpenThreads: previous.OpenThreads,
		}
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
