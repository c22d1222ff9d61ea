package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"db-chat-go/internal/config"
	"db-chat-go/internal/model"
	"db-chat-go/pkg/llm"
	"db-chat-go/pkg/log"
	"db-chat-go/pkg/metrics"
)

const describeSystemPrompt = "You write short documentation for relational database tables. " +
	"Reply with exactly one plain sentence describing what the table stores. No markdown."

// DescriptionService 调用 LLM 为每张表生成一句话描述。
type DescriptionService struct {
	llmClient llm.Client
	params    *llm.GenerationParams
	timeout   time.Duration
}

// NewDescriptionService 创建一个新的 DescriptionService。timeout 作用于每一次调用。
func NewDescriptionService(llmClient llm.Client, gen config.GenerationConfig, timeout time.Duration) *DescriptionService {
	return &DescriptionService{llmClient: llmClient, params: llm.Params(gen), timeout: timeout}
}

// Describe 按表名字典序逐表生成描述。任何一次失败都会放弃全部描述并返回空 map，不向上抛错。
func (s *DescriptionService) Describe(ctx context.Context, tables map[string][]model.SchemaColumn) map[string]string {
	names := lo.Keys(tables)
	slices.Sort(names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		desc, err := s.describeTable(ctx, name, tables[name])
		if err != nil {
			log.Warnf("[DescriptionService] 表描述生成失败, 全部表使用空描述: %v", err)
			metrics.IncrementDescriptionFailure()
			return map[string]string{}
		}
		out[name] = desc
	}
	return out
}

func (s *DescriptionService) describeTable(ctx context.Context, table string, columns []model.SchemaColumn) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	messages := []llm.Message{
		{Role: model.RoleSystem, Content: describeSystemPrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf("Table: %s\nColumns: %s", table, describeColumns(columns))},
	}
	start := time.Now()
	completion, err := s.llmClient.Complete(ctx, messages, s.params)
	metrics.ObserveCompletion("describe", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("%w: table %s: %w", ErrDescriptionGeneration, table, err)
	}
	return firstLine(completion.Content), nil
}

// describeColumns 渲染 "id (int, PK), customer_id (int, FK -> customers.id)"。
func describeColumns(columns []model.SchemaColumn) string {
	if len(columns) == 0 {
		return "(none)"
	}
	parts := lo.Map(columns, func(c model.SchemaColumn, _ int) string {
		attrs := []string{c.DataType}
		if c.IsPrimary {
			attrs = append(attrs, "PK")
		}
		if ref := c.References(); ref != "" {
			attrs = append(attrs, "FK -> "+ref)
		}
		return fmt.Sprintf("%s (%s)", c.ColumnName, strings.Join(lo.Compact(attrs), ", "))
	})
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, "\"` ")
}
