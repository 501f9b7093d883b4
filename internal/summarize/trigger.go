package summarize

import "github.com/athlete-space/coachmem/internal/chatmsg"

// Thresholds configure the summarization trigger.
type Thresholds struct {
	// MinSpacing is the minimum number of messages since the last summary
	// before another run may fire, regardless of size.
	MinSpacing int
	// TokenThreshold and MessageThreshold each independently arm the trigger
	// once met or exceeded.
	TokenThreshold   int
	MessageThreshold int
}

const (
	DefaultMinSpacing       = 10
	DefaultTokenThreshold   = 3000
	DefaultMessageThreshold = 30
)

func (t Thresholds) Normalize() Thresholds {
	if t.MinSpacing <= 0 {
		t.MinSpacing = DefaultMinSpacing
	}
	if t.TokenThreshold <= 0 {
		t.TokenThreshold = DefaultTokenThreshold
	}
	if t.MessageThreshold <= 0 {
		t.MessageThreshold = DefaultMessageThreshold
	}
	return t
}

// ShouldSummarize is the pure trigger decision. The spacing guard is checked
// first and vetoes unconditionally; otherwise either size threshold fires.
func ShouldSummarize(t Thresholds, historyTokens, historyMessages, messagesSinceLastSummary int) bool {
	t = t.Normalize()
	if messagesSinceLastSummary < t.MinSpacing {
		return false
	}
	return historyTokens >= t.TokenThreshold || historyMessages >= t.MessageThreshold
}

// MessagesSinceSummary counts history entries newer than the most recent
// summary-stamped system message, scanning newest to oldest. With no stamp in
// the window, every entry counts.
func MessagesSinceSummary(history []chatmsg.Message) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSummary() {
			break
		}
		count++
	}
	return count
}
