package summary

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/athlete-space/coachmem/internal/chatmsg"
)

// Stamp builds the metadata a compacted summary system message carries.
func Stamp(version int, createdAt time.Time) map[string]string {
	return map[string]string{
		chatmsg.MetaSummaryVersion:   strconv.Itoa(version),
		chatmsg.MetaSummaryCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// Render produces the human-readable body of the summary system message.
// Facts and preferences are emitted as yaml mappings with sorted keys, so the
// same summary always renders to the same bytes.
func Render(s ConversationSummary) string {
	var b strings.Builder
	b.WriteString("Conversation memory. Everything before this point has been compressed into the notes below.\n")

	if len(s.Facts) > 0 {
		b.WriteString("\nFacts:\n")
		b.WriteString(renderMapping(s.Facts))
	}
	if len(s.Preferences) > 0 {
		b.WriteString("\nPreferences:\n")
		b.WriteString(renderMapping(s.Preferences))
	}
	if p := strings.TrimSpace(s.Goals.Primary); p != "" {
		b.WriteString("\nPrimary goal: ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	if len(s.Goals.Secondary) > 0 {
		b.WriteString("\nSecondary goals:\n")
		for _, goal := range s.Goals.Secondary {
			b.WriteString("- ")
			b.WriteString(goal)
			b.WriteString("\n")
		}
	}
	if len(s.OpenThreads) > 0 {
		b.WriteString("\nOpen threads:\n")
		for _, thread := range s.OpenThreads {
			b.WriteString("- ")
			b.WriteString(thread)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func renderMapping(m map[string]string) string {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range sortedKeys(m) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: m[key]},
		)
	}
	encoded, err := yaml.Marshal(node)
	if err != nil {
		// A string-to-string mapping cannot fail to encode; guard anyway.
		var b strings.Builder
		for _, key := range sortedKeys(m) {
			fmt.Fprintf(&b, "%s: %s\n", key, m[key])
		}
		return b.String()
	}
	return string(encoded)
}
