package summary

import (
	"sort"
	"strings"
	"time"
)

// Goals holds one primary goal and any number of secondary goals. The
// primary is replaced wholesale when a newer non-empty one is produced;
// secondaries accumulate.
type Goals struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary,omitempty"`
}

// ConversationSummary is the compressed, structured memory snapshot for one
// conversation. Persisted summaries are immutable: updates always create a
// new version, assigned at persistence time.
type ConversationSummary struct {
	Facts       map[string]string `json:"facts,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Goals       Goals             `json:"goals"`
	OpenThreads []string          `json:"open_threads,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`
	Version     int               `json:"version,omitempty"`
}

func (s ConversationSummary) Empty() bool {
	return len(s.Facts) == 0 &&
		len(s.Preferences) == 0 &&
		strings.TrimSpace(s.Goals.Primary) == "" &&
		len(s.Goals.Secondary) == 0 &&
		len(s.OpenThreads) == 0
}

// Merge folds an incoming summary into a previous one. Facts and preferences
// are last-write-wins, the primary goal is replaced only by a non-empty
// incoming primary, secondary goals and open threads are unioned and
// deduplicated. The result carries the supplied timestamp and no version;
// versions are assigned when the summary is persisted.
func Merge(previous, incoming ConversationSummary, now time.Time) ConversationSummary {
	merged := ConversationSummary{
		Facts:       mergeMaps(previous.Facts, incoming.Facts),
		Preferences: mergeMaps(previous.Preferences, incoming.Preferences),
		Goals: Goals{
			Primary:   previous.Goals.Primary,
			Secondary: unionStrings(previous.Goals.Secondary, incoming.Goals.Secondary),
		},
		OpenThreads: unionStrings(previous.OpenThreads, incoming.OpenThreads),
		LastUpdated: now.UTC(),
	}
	if p := strings.TrimSpace(incoming.Goals.Primary); p != "" {
		merged.Goals.Primary = p
	}
	return merged
}

func mergeMaps(previous, incoming map[string]string) map[string]string {
	if len(previous) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make(map[string]string, len(previous)+len(incoming))
	for k, v := range previous {
		out[k] = v
	}
	for k, v := range incoming {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// unionStrings keeps previous entries first, appends unseen incoming ones and
// dedupes case-insensitively.
func unionStrings(previous, incoming []string) []string {
	if len(previous) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make([]string, 0, len(previous)+len(incoming))
	seen := make(map[string]bool, len(previous)+len(incoming))
	for _, list := range [][]string{previous, incoming} {
		for _, raw := range list {
			v := strings.TrimSpace(raw)
			if v == "" {
				continue
			}
			key := strings.ToLower(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// sortedKeys is shared by rendering so output stays stable across runs.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
