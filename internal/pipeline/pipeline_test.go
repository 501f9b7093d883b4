package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/metrics"
	"github.com/athlete-space/coachmem/internal/summarize"
	"github.com/athlete-space/coachmem/internal/summary"
	"github.com/athlete-space/coachmem/internal/tasks"
	"github.com/athlete-space/coachmem/internal/tokens"
	"github.com/athlete-space/coachmem/internal/workingmem"
)

// inlineQueue runs jobs synchronously so tests observe background effects
// without sleeping.
type inlineQueue struct {
	errs []error
}

func (q *inlineQueue) Submit(ctx context.Context, job tasks.Job) (string, error) {
	if err := job.Run(ctx); err != nil {
		q.errs = append(q.errs, err)
	}
	return "job", nil
}

type memArchive struct {
	mu        sync.Mutex
	messages  []chatmsg.Message
	summaries map[string][]summary.ConversationSummary
	saveErr   error
}

func newMemArchive() *memArchive {
	return &memArchive{summaries: make(map[string][]summary.ConversationSummary)}
}

func (a *memArchive) SaveMessage(_ context.Context, msg chatmsg.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saveErr != nil {
		return a.saveErr
	}
	a.messages = append(a.messages, msg)
	return nil
}

func (a *memArchive) RecentMessages(_ context.Context, conversationID string, limit int) ([]chatmsg.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []chatmsg.Message
	for _, msg := range a.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (a *memArchive) AppendSummary(_ context.Context, conversationID string, sum summary.ConversationSummary) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summaries[conversationID] = append(a.summaries[conversationID], sum)
	return len(a.summaries[conversationID]), nil
}

func (a *memArchive) LatestSummary(_ context.Context, conversationID string) (*summary.ConversationSummary, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	versions := a.summaries[conversationID]
	if len(versions) == 0 {
		return nil, 0, nil
	}
	latest := versions[len(versions)-1]
	return &latest, len(versions), nil
}

type scriptedSummarizer struct {
	result summary.ConversationSummary
	err    error
	calls  int
}

func (s *scriptedSummarizer) Summarize(_ context.Context, _ string, _ []chatmsg.Message, _ map[string]string, previous *summary.ConversationSummary) (summary.ConversationSummary, error) {
	s.calls++
	if s.err != nil {
		return summary.ConversationSummary{}, s.err
	}
	base := summary.ConversationSummary{}
	if previous != nil {
		base = *previous
	}
	return summary.Merge(base, s.result, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)), nil
}

type fixture struct {
	pipeline   *Pipeline
	working    *workingmem.Store
	archive    *memArchive
	summarizer *scriptedSummarizer
	queue      *inlineQueue
	counters   *metrics.Counters
}

func newFixture(t *testing.T, thresholds summarize.Thresholds) *fixture {
	t.Helper()
	working := workingmem.NewStore(workingmem.Options{
		Backend:    workingmem.NewMemoryLists(),
		MaxEntries: 50,
	})
	arch := newMemArchive()
	summarizer := &scriptedSummarizer{
		result: summary.ConversationSummary{
			Facts: map[string]string{"weekly_volume_km": "60"},
			Goals: summary.Goals{Primary: "sub-4 marathon"},
		},
	}
	queue := &inlineQueue{}
	counters := metrics.NewCounters()

	p, err := New(Options{
		Thresholds: thresholds,
		KeepTurns:  2,
		Working:    working,
		Archive:    arch,
		Summarizer: summarizer,
		Queue:      queue,
		Counters:   counters,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{pipeline: p, working: working, archive: arch, summarizer: summarizer, queue: queue, counters: counters}
}

// quietThresholds never fire during ordinary appends.
func quietThresholds() summarize.Thresholds {
	return summarize.Thresholds{MinSpacing: 1000, TokenThreshold: 1 << 30, MessageThreshold: 1 << 30}
}

func TestNormalizeAndStore_AcceptedMessageReachesBothTiers(t *testing.T) {
	f := newFixture(t, quietThresholds())
	ctx := context.Background()

	msg, err := f.pipeline.NormalizeAndStore(ctx, chatmsg.TextInput("  How far should my long run be?  "), "conv:a", "runner-7", "")
	if err != nil {
		t.Fatalf("NormalizeAndStore() error = %v", err)
	}
	if msg.Content != "How far should my long run be?" {
		t.Fatalf("content = %q, want trimmed", msg.Content)
	}
	if msg.Role != chatmsg.RoleUser {
		t.Fatalf("role = %q, want default user", msg.Role)
	}

	hist := f.pipeline.History(ctx, "conv:a", 0)
	if len(hist) != 1 || hist[0].ID != msg.ID {
		t.Fatalf("History() = %+v, want the stored message", hist)
	}
	if len(f.archive.messages) != 1 || f.archive.messages[0].ID != msg.ID {
		t.Fatalf("archive = %+v, want the stored message", f.archive.messages)
	}
}

func TestNormalizeAndStore_ValidationFailsSynchronously(t *testing.T) {
	f := newFixture(t, quietThresholds())
	ctx := context.Background()

	_, err := f.pipeline.NormalizeAndStore(ctx, chatmsg.TextInput("hello"), "conv:a", "runner-7", "narrator")
	if err == nil {
		t.Fatalf("NormalizeAndStore() accepted an invalid role")
	}
	if got := chatmsg.ErrorCodeOf(err); got != chatmsg.CodeInvalidRole {
		t.Fatalf("error code = %v, want CodeInvalidRole", got)
	}
	if hist := f.pipeline.History(ctx, "conv:a", 0); len(hist) != 0 {
		t.Fatalf("rejected message reached working memory: %+v", hist)
	}
	if len(f.archive.messages) != 0 {
		t.Fatalf("rejected message reached the archive")
	}
}

func TestNormalizeAndStore_ArchiveFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, quietThresholds())
	f.archive.saveErr = errors.New("disk full")
	ctx := context.Background()

	if _, err := f.pipeline.NormalizeAndStore(ctx, chatmsg.TextInput("hello"), "conv:a", "runner-7", ""); err != nil {
		t.Fatalf("NormalizeAndStore() error = %v, want archive failure swallowed", err)
	}
	if hist := f.pipeline.History(ctx, "conv:a", 0); len(hist) != 1 {
		t.Fatalf("working memory missed the message despite archive failure")
	}
	if got := f.counters.Snapshot().ArchiveWriteFailures; got != 1 {
		t.Fatalf("archive_write_failures = %d, want 1", got)
	}
}

func TestSummarizeCycle_TriggeredByMessageCount(t *testing.T) {
	f := newFixture(t, summarize.Thresholds{MinSpacing: 3, TokenThreshold: 1 << 30, MessageThreshold: 6})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		role := ""
		if i%2 == 1 {
			role = "assistant"
		}
		input := chatmsg.TextInput(fmt.Sprintf("message number %d about marathon pacing", i))
		if _, err := f.pipeline.NormalizeAndStore(ctx, input, "conv:a", "runner-7", role); err != nil {
			t.Fatalf("NormalizeAndStore() error = %v", err)
		}
	}

	if f.summarizer.calls == 0 {
		t.Fatalf("trigger never fired after crossing the message threshold")
	}
	if len(f.archive.summaries["conv:a"]) == 0 {
		t.Fatalf("triggered cycle persisted no summary")
	}

	hist := f.pipeline.History(ctx, "conv:a", 0)
	if len(hist) == 0 || !hist[0].IsSummary() {
		t.Fatalf("working memory head after compaction = %+v, want summary stamp", hist)
	}
	if !strings.Contains(hist[0].Content, "sub-4 marathon") {
		t.Fatalf("rendered summary missing goal: %q", hist[0].Content)
	}
	snap := f.counters.Snapshot()
	if snap.SummariesCreated == 0 || snap.CompactionsRun == 0 {
		t.Fatalf("counters = %+v, want summary and compaction recorded", snap)
	}
}

func TestSummarizeCycle_SpacingGuardVetoes(t *testing.T) {
	f := newFixture(t, summarize.Thresholds{MinSpacing: 10, TokenThreshold: 1 << 30, MessageThreshold: 4})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		input := chatmsg.TextInput(fmt.Sprintf("warmup message %d", i))
		if _, err := f.pipeline.NormalizeAndStore(ctx, input, "conv:a", "runner-7", ""); err != nil {
			t.Fatalf("NormalizeAndStore() error = %v", err)
		}
	}

	// MessageThreshold (4) is met but MinSpacing (10) is not.
	if f.summarizer.calls != 0 {
		t.Fatalf("spacing guard failed to veto: %d summarizer calls", f.summarizer.calls)
	}
}

func TestSummarizeCycle_LLMFailureLeavesMemoryIntact(t *testing.T) {
	f := newFixture(t, quietThresholds())
	f.summarizer.err = errors.New("model unavailable")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		input := chatmsg.TextInput(fmt.Sprintf("message %d", i))
		if _, err := f.pipeline.NormalizeAndStore(ctx, input, "conv:a", "runner-7", ""); err != nil {
			t.Fatalf("NormalizeAndStore() error = %v", err)
		}
	}
	before := f.pipeline.History(ctx, "conv:a", 0)

	if err := f.pipeline.Summarize(ctx, "conv:a"); err == nil {
		t.Fatalf("Summarize() swallowed the model failure")
	}
	after := f.pipeline.History(ctx, "conv:a", 0)
	if len(after) != len(before) {
		t.Fatalf("working memory changed after a failed cycle: %d -> %d", len(before), len(after))
	}
	if len(f.archive.summaries["conv:a"]) != 0 {
		t.Fatalf("failed cycle persisted a summary")
	}
}

func TestSummarizeCycle_VersionsAdvance(t *testing.T) {
	f := newFixture(t, quietThresholds())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		input := chatmsg.TextInput(fmt.Sprintf("message %d", i))
		if _, err := f.pipeline.NormalizeAndStore(ctx, input, "conv:a", "runner-7", ""); err != nil {
			t.Fatalf("NormalizeAndStore() error = %v", err)
		}
	}
	if err := f.pipeline.Summarize(ctx, "conv:a"); err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	// More conversation, then a second cycle with updated facts.
	f.summarizer.result.Facts = map[string]string{"weekly_volume_km": "70"}
	for i := 0; i < 4; i++ {
		input := chatmsg.TextInput(fmt.Sprintf("later message %d", i))
		if _, err := f.pipeline.NormalizeAndStore(ctx, input, "conv:a", "runner-7", ""); err != nil {
			t.Fatalf("NormalizeAndStore() error = %v", err)
		}
	}
	if err := f.pipeline.Summarize(ctx, "conv:a"); err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if got := len(f.archive.summaries["conv:a"]); got != 2 {
		t.Fatalf("archive holds %d summary versions, want 2", got)
	}
	hist := f.pipeline.History(ctx, "conv:a", 0)
	if v, ok := hist[0].SummaryVersion(); !ok || v != 2 {
		t.Fatalf("working memory summary version = %d, %v; want 2", v, ok)
	}
	if !strings.Contains(hist[0].Content, "70") {
		t.Fatalf("second compaction did not carry merged facts: %q", hist[0].Content)
	}
}

func TestSummarizeCycle_VersionsAdvanceWithoutArchive(t *testing.T) {
	working := workingmem.NewStore(workingmem.Options{
		Backend:    workingmem.NewMemoryLists(),
		MaxEntries: 50,
	})
	summarizer := &scriptedSummarizer{
		result: summary.ConversationSummary{
			Facts: map[string]string{"weekly_volume_km": "60"},
		},
	}
	p, err := New(Options{
		Thresholds: quietThresholds(),
		KeepTurns:  2,
		Working:    working,
		Summarizer: summarizer,
		Counters:   metrics.NewCounters(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		input := chatmsg.TextInput(fmt.Sprintf("message %d", i))
		if _, err := p.NormalizeAndStore(ctx, input, "conv:a", "runner-7", ""); err != nil {
			t.Fatalf("NormalizeAndStore() error = %v", err)
		}
	}
	if err := p.Summarize(ctx, "conv:a"); err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	// A second cycle must outrank the stamp left by the first, even though
	// no archive is assigning versions.
	summarizer.result.Facts = map[string]string{"weekly_volume_km": "70"}
	for i := 0; i < 4; i++ {
		input := chatmsg.TextInput(fmt.Sprintf("later message %d", i))
		if _, err := p.NormalizeAndStore(ctx, input, "conv:a", "runner-7", ""); err != nil {
			t.Fatalf("NormalizeAndStore() error = %v", err)
		}
	}
	if err := p.Summarize(ctx, "conv:a"); err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	hist := p.History(ctx, "conv:a", 0)
	if len(hist) == 0 || !hist[0].IsSummary() {
		t.Fatalf("working memory head = %+v, want summary stamp", hist)
	}
	if v, ok := hist[0].SummaryVersion(); !ok || v != 2 {
		t.Fatalf("summary version after second archiveless cycle = %d, %v; want 2", v, ok)
	}
	if !strings.Contains(hist[0].Content, "70") {
		t.Fatalf("second compaction did not apply: %q", hist[0].Content)
	}
}

func TestBuildPrompt_EndToEnd(t *testing.T) {
	working := workingmem.NewStore(workingmem.Options{
		Backend:    workingmem.NewMemoryLists(),
		MaxEntries: 50,
	})
	p, err := New(Options{
		Budget:     tokens.Budget{PerMessageMax: 2048, PerPromptMax: 6000, ModelMax: 16000, WarnAt: 4000},
		Thresholds: quietThresholds(),
		Working:    working,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	stored, err := p.NormalizeAndStore(ctx, chatmsg.TextInput("I ran 20k today."), "conv:a", "runner-7", "")
	if err != nil {
		t.Fatalf("NormalizeAndStore() error = %v", err)
	}

	current, err := p.NormalizeAndStore(ctx, chatmsg.TextInput("Plan tomorrow's workout."), "conv:a", "runner-7", "")
	if err != nil {
		t.Fatalf("NormalizeAndStore() error = %v", err)
	}

	prompt, err := p.BuildPrompt(ctx, "conv:a", current, "You are a precise running coach.")
	if err != nil {
		t.Fatalf("BuildPrompt() error = %v", err)
	}
	if len(prompt) != 3 {
		t.Fatalf("prompt has %d entries, want [system, stored, current]", len(prompt))
	}
	if prompt[0].Role != "system" || prompt[1].Content != stored.Content {
		t.Fatalf("prompt shape wrong: %+v", prompt)
	}
	if prompt[len(prompt)-1].Content != current.Content {
		t.Fatalf("prompt does not end with the current message")
	}
}

func TestNew_RejectsBudgetOverModelCeiling(t *testing.T) {
	working := workingmem.NewStore(workingmem.Options{Backend: workingmem.NewMemoryLists()})
	_, err := New(Options{
		Budget:  tokens.Budget{PerPromptMax: 20000, ModelMax: 16000},
		Working: working,
	})
	if err == nil {
		t.Fatalf("New() accepted a prompt budget above the model ceiling")
	}
}
