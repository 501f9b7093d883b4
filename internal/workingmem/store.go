package workingmem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/metrics"
)

const (
	DefaultMaxEntries = 50
	DefaultTTL        = 24 * time.Hour

	keyPrefix = "coachmem:wm:"
)

type Options struct {
	Backend    ListBackend
	MaxEntries int
	TTL        time.Duration
	Logger     *slog.Logger
	Counters   *metrics.Counters
}

// Store is the bounded, TTL'd, per-conversation message list. It is an
// optimization layer: backend unavailability degrades every operation to a
// no-op or empty result instead of failing the caller's request. Append
// order is preserved across trims; only Replace (compaction) may rewrite it.
type Store struct {
	backend    ListBackend
	maxEntries int
	ttl        time.Duration
	logger     *slog.Logger
	counters   *metrics.Counters
}

func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend:    opts.Backend,
		maxEntries: maxEntries,
		ttl:        ttl,
		logger:     logger,
		counters:   opts.Counters,
	}
}

func (s *Store) MaxEntries() int { return s.maxEntries }

func (s *Store) TTL() time.Duration { return s.ttl }

// Append serializes the message, pushes it to the tail of the conversation's
// list, trims the list to the configured window and refreshes the TTL. Trim
// and TTL failures are logged and swallowed; they never fail the request.
// Only an invalid message is a caller error.
func (s *Store) Append(ctx context.Context, msg chatmsg.Message) error {
	if !msg.Valid() {
		return fmt.Errorf("refusing to store invalid message (role=%q tokens=%d)", msg.Role, msg.Tokens)
	}
	if s.backend == nil {
		s.degraded("workingmem_append_skipped", msg.ConversationID, nil)
		return nil
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	key := s.key(msg.ConversationID)
	if err := s.backend.Push(ctx, key, encoded); err != nil {
		s.degraded("workingmem_append_degraded", msg.ConversationID, err)
		return nil
	}
	if err := s.backend.Trim(ctx, key, -int64(s.maxEntries), -1); err != nil {
		s.logger.Warn("workingmem_trim_failed", "conversation_id", msg.ConversationID, "error", err.Error())
	}
	if err := s.backend.Expire(ctx, key, s.ttl); err != nil {
		s.logger.Warn("workingmem_ttl_refresh_failed", "conversation_id", msg.ConversationID, "error", err.Error())
	}
	return nil
}

// Read returns the last limit entries, oldest first. It never mutates the
// list and never refreshes the TTL. Entries that fail to deserialize are
// dropped individually with a warning.
func (s *Store) Read(ctx context.Context, conversationID string, limit int) []chatmsg.Message {
	if s.backend == nil {
		return nil
	}
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}
	raw, err := s.backend.Range(ctx, s.key(conversationID), -int64(limit), -1)
	if err != nil {
		s.degraded("workingmem_read_degraded", conversationID, err)
		return nil
	}
	out := make([]chatmsg.Message, 0, len(raw))
	for _, item := range raw {
		var msg chatmsg.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			s.logger.Warn("workingmem_entry_dropped", "conversation_id", conversationID, "error", err.Error())
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (s *Store) Count(ctx context.Context, conversationID string) int {
	if s.backend == nil {
		return 0
	}
	n, err := s.backend.Len(ctx, s.key(conversationID))
	if err != nil {
		s.degraded("workingmem_count_degraded", conversationID, err)
		return 0
	}
	return int(n)
}

// Replace atomically swaps the conversation's full contents and refreshes the
// TTL. Reserved for the compactor; every other writer appends.
func (s *Store) Replace(ctx context.Context, conversationID string, messages []chatmsg.Message) error {
	if s.backend == nil {
		return fmt.Errorf("working-memory backend unavailable")
	}
	values := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("serialize message: %w", err)
		}
		values = append(values, encoded)
	}
	if err := s.backend.Replace(ctx, s.key(conversationID), values, s.ttl); err != nil {
		return fmt.Errorf("replace working memory: %w", err)
	}
	return nil
}

func (s *Store) key(conversationID string) string {
	return keyPrefix + conversationID
}

func (s *Store) degraded(event, conversationID string, err error) {
	s.counters.DegradedStoreOp()
	if err != nil {
		s.logger.Warn(event, "conversation_id", conversationID, "error", err.Error())
		return
	}
	s.logger.Warn(event, "conversation_id", conversationID)
}
