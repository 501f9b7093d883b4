// Package langchain adapts a langchaingo chat model to the llm.Client
// surface the memory pipeline consumes.
package langchain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/athlete-space/coachmem/llm"
)

// Config selects the provider endpoint. Endpoint and APIKey fall back to the
// SDK defaults (OPENAI_BASE_URL / OPENAI_API_KEY) when empty, which covers
// both hosted OpenAI and OpenAI-compatible local servers.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

type Client struct {
	model  *openai.LLM
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize chat model: %w", err)
	}
	return &Client{model: model, cfg: cfg, logger: logger}, nil
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("chat request has no messages")
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content = append(content, llms.TextParts(chatMessageType(msg.Role), msg.Content))
	}

	callOpts := []llms.CallOption{}
	if req.Model != "" {
		callOpts = append(callOpts, llms.WithModel(req.Model))
	}
	if req.ForceJSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if c.cfg.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(c.cfg.Temperature))
	}
	if c.cfg.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.cfg.MaxTokens))
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	text := resp.Choices[0].Content
	c.logger.Debug("llm_chat_completed",
		"model", req.Model,
		"force_json", req.ForceJSON,
		"messages", len(req.Messages),
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", len(text),
	)
	return &llm.Response{Text: text}, nil
}

func chatMessageType(role string) schema.ChatMessageType {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "system":
		return schema.ChatMessageTypeSystem
	case "assistant":
		return schema.ChatMessageTypeAI
	case "tool":
		return schema.ChatMessageType("tool")
	default:
		return schema.ChatMessageTypeHuman
	}
}
