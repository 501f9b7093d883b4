package tokens

// Default budgets. messages above PerMessage fail normalization outright;
// PerPrompt bounds assembled prompts; ModelMax is the absolute model context
// ceiling that must never be crossed even after truncation.
const (
	DefaultPerMessageMax = 2048
	DefaultPerPromptMax  = 6000
	DefaultModelMax      = 16000
	DefaultWarnAt        = 4000

	// Flat cost per message for role framing and separators.
	messageOverhead = 3
)

// Counter estimates token usage with the chars/4 heuristic. Good enough for
// budget enforcement; not billing-accurate. Identical role/content always
// yields an identical count and longer content never yields a smaller one.
type Counter struct{}

func (Counter) Count(role, content string) int {
	if len(content) == 0 && len(role) == 0 {
		return 0
	}
	return estimate(content) + estimate(role) + messageOverhead
}

func estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// Budget groups the token ceilings the pipeline enforces.
type Budget struct {
	PerMessageMax int
	PerPromptMax  int
	ModelMax      int
	WarnAt        int
}

func (b Budget) Normalize() Budget {
	if b.PerMessageMax <= 0 {
		b.PerMessageMax = DefaultPerMessageMax
	}
	if b.PerPromptMax <= 0 {
		b.PerPromptMax = DefaultPerPromptMax
	}
	if b.ModelMax <= 0 {
		b.ModelMax = DefaultModelMax
	}
	if b.WarnAt <= 0 {
		b.WarnAt = DefaultWarnAt
	}
	return b
}
