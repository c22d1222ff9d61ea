// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"db-chat-go/internal/config"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以 role-based 消息与可选生成参数调用聊天接口，返回完整回复。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (*Completion, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Completion 是一次非流式调用的结果。
type Completion struct {
	ID      string
	Content string
}

// ErrEmptyCompletion is returned when the service answers without choices.
var ErrEmptyCompletion = errors.New("empty chat completion choices")

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client openai.Client
}

// NewClient creates a new LLM client for any OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig, opts ...option.RequestOption) Client {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		base = append(base, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(cfg.Timeout))
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: openai.NewClient(append(base, opts...)...),
	}
}

// Params builds GenerationParams from a config block.
func Params(gen config.GenerationConfig) *GenerationParams {
	t := gen.Temperature
	gp := &GenerationParams{Temperature: &t}
	if gen.MaxTokens > 0 {
		m := gen.MaxTokens
		gp.MaxTokens = &m
	}
	return gp
}

func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.Model),
		Messages: toParams(messages),
	}
	if gen != nil {
		if gen.Temperature != nil {
			params.Temperature = openai.Float(*gen.Temperature)
		}
		if gen.TopP != nil {
			params.TopP = openai.Float(*gen.TopP)
		}
		if gen.MaxTokens != nil {
			params.MaxTokens = openai.Int(int64(*gen.MaxTokens))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	return &Completion{ID: resp.ID, Content: resp.Choices[0].Message.Content}, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
