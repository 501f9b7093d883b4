package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/athlete-space/coachmem/internal/archive"
	"github.com/athlete-space/coachmem/internal/logutil"
	"github.com/athlete-space/coachmem/internal/metrics"
	"github.com/athlete-space/coachmem/internal/pathutil"
	"github.com/athlete-space/coachmem/internal/pipeline"
	"github.com/athlete-space/coachmem/internal/summarize"
	"github.com/athlete-space/coachmem/internal/tasks"
	"github.com/athlete-space/coachmem/internal/tokens"
	"github.com/athlete-space/coachmem/internal/workingmem"
	"github.com/athlete-space/coachmem/providers/langchain"
)

// runtime bundles the wired pipeline with everything that needs shutdown.
type runtime struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	counters *metrics.Counters

	queue *tasks.Queue
	arch  *archive.Store
	rdb   *redis.Client
}

func (r *runtime) Close() {
	if r.queue != nil {
		_ = r.queue.Close()
	}
	if r.arch != nil {
		_ = r.arch.Close()
	}
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
}

// runtimeFromViper assembles the full pipeline from configuration. withLLM
// controls whether a summarizer client is built; read-only commands skip it
// so they work without credentials.
func runtimeFromViper(withLLM bool) (*runtime, error) {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return nil, err
	}
	counters := metrics.NewCounters()

	rt := &runtime{logger: logger, counters: counters}

	var backend workingmem.ListBackend
	if addr := strings.TrimSpace(viper.GetString("redis.addr")); addr != "" {
		rt.rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		backend = workingmem.NewRedisLists(rt.rdb)
	} else {
		backend = workingmem.NewMemoryLists()
	}

	working := workingmem.NewStore(workingmem.Options{
		Backend:    backend,
		MaxEntries: viper.GetInt("memory.max_entries"),
		TTL:        viper.GetDuration("memory.ttl"),
		Logger:     logger,
		Counters:   counters,
	})

	arch, err := archive.Open(pathutil.ResolveStateDir(viper.GetString("archive.path")))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	rt.arch = arch

	queue, err := tasks.NewQueue(tasks.Options{
		MaxInFlight: viper.GetInt("tasks.max_inflight"),
		Logger:      logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.queue = queue

	var summarizer pipeline.Summarizer
	if withLLM {
		client, err := langchain.New(langchain.Config{
			Endpoint:    viper.GetString("llm.endpoint"),
			APIKey:      viper.GetString("llm.api_key"),
			Model:       viper.GetString("llm.model"),
			Timeout:     viper.GetDuration("llm.request_timeout"),
			Temperature: viper.GetFloat64("llm.temperature"),
			MaxTokens:   viper.GetInt("llm.max_output_tokens"),
		}, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("llm client: %w", err)
		}
		summarizer = summarize.NewSummarizer(client, viper.GetString("llm.model"), logger, time.Now)
	}

	p, err := pipeline.New(pipeline.Options{
		Budget: tokens.Budget{
			PerMessageMax: viper.GetInt("tokens.per_message_max"),
			PerPromptMax:  viper.GetInt("tokens.per_prompt_max"),
			ModelMax:      viper.GetInt("tokens.model_max"),
			WarnAt:        viper.GetInt("tokens.warn_at"),
		},
		Thresholds: summarize.Thresholds{
			MinSpacing:       viper.GetInt("summarize.min_spacing"),
			TokenThreshold:   viper.GetInt("summarize.token_threshold"),
			MessageThreshold: viper.GetInt("summarize.message_threshold"),
		},
		KeepTurns:  viper.GetInt("memory.keep_turns"),
		Working:    working,
		Archive:    arch,
		Summarizer: summarizer,
		Queue:      queue,
		Logger:     logger,
		Counters:   counters,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.pipeline = p
	return rt, nil
}
