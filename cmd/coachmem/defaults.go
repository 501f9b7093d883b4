package main

import (
	"time"

	"github.com/spf13/viper"

	"github.com/athlete-space/coachmem/internal/summarize"
	"github.com/athlete-space/coachmem/internal/tasks"
	"github.com/athlete-space/coachmem/internal/tokens"
	"github.com/athlete-space/coachmem/internal/workingmem"
)

func initViperDefaults() {
	// LLM provider (summarizer model calls).
	viper.SetDefault("llm.endpoint", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.request_timeout", 90*time.Second)
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.max_output_tokens", 1024)

	// Working memory window.
	viper.SetDefault("memory.max_entries", workingmem.DefaultMaxEntries)
	viper.SetDefault("memory.ttl", workingmem.DefaultTTL)
	viper.SetDefault("memory.keep_turns", summarize.DefaultKeepTurns)

	// Token ceilings.
	viper.SetDefault("tokens.per_message_max", tokens.DefaultPerMessageMax)
	viper.SetDefault("tokens.per_prompt_max", tokens.DefaultPerPromptMax)
	viper.SetDefault("tokens.model_max", tokens.DefaultModelMax)
	viper.SetDefault("tokens.warn_at", tokens.DefaultWarnAt)

	// Summarization trigger.
	viper.SetDefault("summarize.min_spacing", summarize.DefaultMinSpacing)
	viper.SetDefault("summarize.token_threshold", summarize.DefaultTokenThreshold)
	viper.SetDefault("summarize.message_threshold", summarize.DefaultMessageThreshold)

	// Backends. Empty redis.addr falls back to the in-process store.
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("archive.path", "~/.coachmem")

	// Background queue.
	viper.SetDefault("tasks.max_inflight", tasks.DefaultMaxInFlight)
}
