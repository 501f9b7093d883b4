// Package pipeline wires the memory components into the two operations the
// assistant calls: accept a message, and build a prompt. Everything that can
// run after the response has been served (archiving, summarizing,
// compaction) is pushed onto the background queue.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/history"
	"github.com/athlete-space/coachmem/internal/metrics"
	"github.com/athlete-space/coachmem/internal/promptbuild"
	"github.com/athlete-space/coachmem/internal/summarize"
	"github.com/athlete-space/coachmem/internal/summary"
	"github.com/athlete-space/coachmem/internal/tasks"
	"github.com/athlete-space/coachmem/internal/tokens"
	"github.com/athlete-space/coachmem/internal/workingmem"
	"github.com/athlete-space/coachmem/llm"
)

// Archive is the durable tier. All methods are consulted off the request
// path except LatestSummary, which the summarize cycle reads.
type Archive interface {
	SaveMessage(ctx context.Context, msg chatmsg.Message) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]chatmsg.Message, error)
	AppendSummary(ctx context.Context, conversationID string, sum summary.ConversationSummary) (int, error)
	LatestSummary(ctx context.Context, conversationID string) (*summary.ConversationSummary, int, error)
}

// Summarizer produces the next summary from recent history and slot state.
type Summarizer interface {
	Summarize(ctx context.Context, conversationID string, recent []chatmsg.Message, slotState map[string]string, previous *summary.ConversationSummary) (summary.ConversationSummary, error)
}

// Submitter is the background queue surface the pipeline needs.
type Submitter interface {
	Submit(ctx context.Context, job tasks.Job) (string, error)
}

// SlotStateFunc supplies dialog slot state for a conversation at summarize
// time. Optional; nil means no slot state.
type SlotStateFunc func(ctx context.Context, conversationID string) map[string]string

type Options struct {
	Budget     tokens.Budget
	Thresholds summarize.Thresholds
	KeepTurns  int

	Working    *workingmem.Store
	Archive    Archive
	Summarizer Summarizer
	Queue      Submitter
	SlotState  SlotStateFunc

	Now      func() time.Time
	Logger   *slog.Logger
	Counters *metrics.Counters
}

type Pipeline struct {
	normalizer *chatmsg.Normalizer
	working    *workingmem.Store
	archive    Archive
	reader     *history.Reader
	assembler  *promptbuild.Assembler
	summarizer Summarizer
	compactor  *summarize.Compactor
	queue      Submitter
	slotState  SlotStateFunc

	thresholds summarize.Thresholds
	now        func() time.Time
	logger     *slog.Logger
	counters   *metrics.Counters
}

func New(opts Options) (*Pipeline, error) {
	if opts.Working == nil {
		return nil, fmt.Errorf("working memory store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	budget := opts.Budget.Normalize()
	if budget.PerPromptMax > budget.ModelMax {
		return nil, fmt.Errorf("prompt budget %d exceeds model ceiling %d", budget.PerPromptMax, budget.ModelMax)
	}

	var fallback history.Fallback
	if opts.Archive != nil {
		fallback = opts.Archive
	}
	reader := history.NewReader(opts.Working, fallback, logger)

	return &Pipeline{
		normalizer: chatmsg.NewNormalizer(budget, now),
		working:    opts.Working,
		archive:    opts.Archive,
		reader:     reader,
		assembler:  promptbuild.NewAssembler(reader, budget, logger, opts.Counters),
		summarizer: opts.Summarizer,
		compactor:  summarize.NewCompactor(opts.Working, opts.KeepTurns, logger, opts.Counters),
		queue:      opts.Queue,
		slotState:  opts.SlotState,
		thresholds: opts.Thresholds.Normalize(),
		now:        now,
		logger:     logger,
		counters:   opts.Counters,
	}, nil
}

// NormalizeAndStore validates and canonicalizes one inbound input, appends
// it to working memory, and kicks off background work: the durable archive
// write and, when the trigger fires, a summarize cycle. Validation failures
// are synchronous; storage trouble past validation never fails the caller.
func (p *Pipeline) NormalizeAndStore(ctx context.Context, raw chatmsg.RawInput, conversationID, userID, roleOverride string) (chatmsg.Message, error) {
	msg, err := p.normalizer.Normalize(raw, conversationID, userID, roleOverride)
	if err != nil {
		return chatmsg.Message{}, err
	}
	if err := p.working.Append(ctx, msg); err != nil {
		return chatmsg.Message{}, err
	}
	p.enqueueArchiveWrite(ctx, msg)
	p.maybeEnqueueSummarize(ctx, conversationID)
	return msg, nil
}

// BuildPrompt assembles the model call for the current user message:
// [system, retained history..., current], within the token budget.
func (p *Pipeline) BuildPrompt(ctx context.Context, conversationID string, current chatmsg.Message, systemPrompt string) ([]llm.Message, error) {
	return p.assembler.Build(ctx, conversationID, current, systemPrompt)
}

// History exposes the validated, ordered conversation history.
func (p *Pipeline) History(ctx context.Context, conversationID string, limit int) []chatmsg.Message {
	return p.reader.History(ctx, conversationID, limit)
}

// Summarize runs one summarize-and-compact cycle immediately. The CLI uses
// it for on-demand runs; the trigger path goes through the queue.
func (p *Pipeline) Summarize(ctx context.Context, conversationID string) error {
	return p.runSummarizeCycle(ctx, conversationID)
}

func (p *Pipeline) enqueueArchiveWrite(ctx context.Context, msg chatmsg.Message) {
	if p.archive == nil {
		return
	}
	run := func(jobCtx context.Context) error {
		if err := p.archive.SaveMessage(jobCtx, msg); err != nil {
			p.counters.ArchiveWriteFailure()
			return err
		}
		return nil
	}
	if p.queue == nil {
		if err := run(ctx); err != nil {
			p.logger.Warn("archive_write_failed",
				"conversation_id", msg.ConversationID, "message_id", msg.ID, "error", err.Error())
		}
		return
	}
	if _, err := p.queue.Submit(ctx, tasks.Job{
		Kind:           "archive_write",
		ConversationID: msg.ConversationID,
		Run:            run,
	}); err != nil {
		p.logger.Warn("archive_write_enqueue_failed",
			"conversation_id", msg.ConversationID, "message_id", msg.ID, "error", err.Error())
	}
}

func (p *Pipeline) maybeEnqueueSummarize(ctx context.Context, conversationID string) {
	if p.summarizer == nil {
		return
	}
	hist := p.reader.History(ctx, conversationID, 0)
	historyTokens := 0
	for _, msg := range hist {
		historyTokens += msg.Tokens
	}
	since := summarize.MessagesSinceSummary(hist)
	if !summarize.ShouldSummarize(p.thresholds, historyTokens, len(hist), since) {
		return
	}
	p.logger.Info("summarize_triggered",
		"conversation_id", conversationID,
		"history_tokens", historyTokens,
		"history_messages", len(hist),
		"messages_since_summary", since,
	)
	run := func(jobCtx context.Context) error {
		return p.runSummarizeCycle(jobCtx, conversationID)
	}
	if p.queue == nil {
		if err := run(ctx); err != nil {
			p.logger.Warn("summarize_cycle_failed", "conversation_id", conversationID, "error", err.Error())
		}
		return
	}
	if _, err := p.queue.Submit(ctx, tasks.Job{
		Kind:           "summarize",
		ConversationID: conversationID,
		Run:            run,
	}); err != nil {
		p.logger.Warn("summarize_enqueue_failed", "conversation_id", conversationID, "error", err.Error())
	}
}

// runSummarizeCycle is the full background cycle: summarize recent history
// against the previous summary, persist the new version, then compact
// working memory. A failed model call aborts before anything is written, so
// memory stays on the previous summary.
func (p *Pipeline) runSummarizeCycle(ctx context.Context, conversationID string) error {
	if p.summarizer == nil {
		return fmt.Errorf("no summarizer configured")
	}
	hist := p.reader.History(ctx, conversationID, 0)

	var previous *summary.ConversationSummary
	if p.archive != nil {
		prev, _, err := p.archive.LatestSummary(ctx, conversationID)
		if err != nil {
			p.logger.Warn("latest_summary_read_failed", "conversation_id", conversationID, "error", err.Error())
		} else {
			previous = prev
		}
	}

	var slots map[string]string
	if p.slotState != nil {
		slots = p.slotState(ctx, conversationID)
	}

	sum, err := p.summarizer.Summarize(ctx, conversationID, hist, slots, previous)
	if err != nil {
		return fmt.Errorf("summarize conversation %s: %w", conversationID, err)
	}
	if sum.Empty() {
		p.logger.Debug("summarize_produced_nothing", "conversation_id", conversationID)
		return nil
	}

	var version int
	if p.archive != nil {
		version, err = p.archive.AppendSummary(ctx, conversationID, sum)
		if err != nil {
			return fmt.Errorf("persist summary for %s: %w", conversationID, err)
		}
	} else {
		// No archive to assign versions, so advance past the stamp already in
		// working memory; a constant would make the compactor's idempotency
		// guard skip every cycle after the first.
		version = nextWorkingVersion(hist)
	}
	p.counters.SummaryCreated()

	createdAt := sum.LastUpdated
	if createdAt.IsZero() {
		createdAt = p.now()
	}
	p.compactor.Compact(ctx, conversationID, sum, version, createdAt)
	return nil
}

func nextWorkingVersion(hist []chatmsg.Message) int {
	highest := 0
	for _, msg := range hist {
		if v, ok := msg.SummaryVersion(); ok && v > highest {
			highest = v
		}
	}
	return highest + 1
}
