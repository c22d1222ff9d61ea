package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/samber/lo"

	"db-chat-go/internal/config"
	"db-chat-go/internal/model"
	"db-chat-go/internal/repository"
	"db-chat-go/pkg/llm"
	"db-chat-go/pkg/log"
	"db-chat-go/pkg/metrics"
)

// RouteKind 区分路由结果。
type RouteKind int

const (
	// RouteFallback 表示调用方应使用完整快照文档。
	RouteFallback RouteKind = iota
	// RouteSelected 表示只需渲染 Tables 中的表。
	RouteSelected
)

func (k RouteKind) String() string {
	if k == RouteSelected {
		return "selected"
	}
	return "fallback"
}

// RouteResult 是一次表路由的结果。Tables 总是已知表的子集。
type RouteResult struct {
	Kind     RouteKind
	Tables   []string
	CacheHit bool
}

// RouterService 为每个问题挑选相关的表，跟进式提问复用对话缓存。
type RouterService interface {
	Route(ctx context.Context, query, conversationID string, store model.MetadataStore) RouteResult
}

// continuationMarkers 在小写化的问题中做子串匹配。
var continuationMarkers = []string{
	"those", "they", "it ", "these", "that ", "same",
	" also", "additionally", "furthermore", "what about", " and ",
}

type followUpRule struct {
	name  string
	match func(lower string) bool
}

// followUpRules 任意一条命中即视为跟进提问。
var followUpRules = []followUpRule{
	{"continuation-marker", func(lower string) bool {
		return lo.SomeBy(continuationMarkers, func(m string) bool { return strings.Contains(lower, m) })
	}},
	{"short-query", func(lower string) bool { return len(strings.Fields(lower)) < 5 }},
}

// IsFollowUp 报告 query 是否像是对上一轮话题的延续。
func IsFollowUp(query string) bool {
	lower := strings.ToLower(query)
	return lo.SomeBy(followUpRules, func(r followUpRule) bool { return r.match(lower) })
}

type classificationKind int

const (
	classificationMalformed classificationKind = iota
	classificationSelected
)

// classification 是对 LLM 分类回复的严格解码结果。
type classification struct {
	kind   classificationKind
	tables []string
	err    error
}

// decodeClassification 去掉 markdown 代码块后要求回复恰好是一个 JSON 字符串数组。
func decodeClassification(content string) classification {
	body := stripCodeFence(content)
	dec := json.NewDecoder(strings.NewReader(body))
	var tables []string
	if err := dec.Decode(&tables); err != nil {
		return classification{kind: classificationMalformed, err: fmt.Errorf("%w: %w", ErrClassificationParse, err)}
	}
	if tables == nil {
		return classification{kind: classificationMalformed, err: fmt.Errorf("%w: not an array", ErrClassificationParse)}
	}
	if dec.More() {
		return classification{kind: classificationMalformed, err: fmt.Errorf("%w: trailing content", ErrClassificationParse)}
	}
	return classification{kind: classificationSelected, tables: tables}
}

func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		// 去掉 info string（json、JSON、Json ...），数组总是以 [ 开头
		trimmed = strings.TrimLeftFunc(trimmed, unicode.IsLetter)
	}
	return strings.TrimSpace(trimmed)
}

type routerService struct {
	llmClient llm.Client
	cache     repository.TopicCacheRepository
	params    *llm.GenerationParams
	timeout   time.Duration
}

// NewRouterService 创建一个新的 RouterService。
func NewRouterService(llmClient llm.Client, cache repository.TopicCacheRepository, gen config.GenerationConfig, timeout time.Duration) RouterService {
	return &routerService{llmClient: llmClient, cache: cache, params: llm.Params(gen), timeout: timeout}
}

func (s *routerService) Route(ctx context.Context, query, conversationID string, store model.MetadataStore) RouteResult {
	if len(store) == 0 {
		return s.fallback()
	}

	// 1. 跟进提问优先复用缓存
	if IsFollowUp(query) {
		entry, ok, err := s.cache.Get(ctx, conversationID)
		if err != nil {
			log.Warnf("[RouterService] 读取话题缓存失败, 按未命中处理, conversation: %s, error: %v", conversationID, err)
		}
		if ok && entry != nil {
			if tables := knownTables(entry.Tables, store); len(tables) > 0 {
				metrics.ObserveRouterDecision(metrics.OutcomeCacheHit)
				return RouteResult{Kind: RouteSelected, Tables: tables, CacheHit: true}
			}
		}
	}

	// 2. 调用 LLM 分类
	content, err := s.classify(ctx, query, store)
	if err != nil {
		log.Warnf("[RouterService] 表分类调用失败, 使用完整 schema: %v", err)
		metrics.IncrementClassificationFailure("call")
		return s.fallback()
	}
	result := decodeClassification(content)
	if result.kind == classificationMalformed {
		log.Warnf("[RouterService] 表分类回复无法解析, 使用完整 schema: %v", result.err)
		metrics.IncrementClassificationFailure("malformed")
		return s.fallback()
	}

	// 3. 过滤幻觉表名；空结果保留旧缓存
	tables := knownTables(result.tables, store)
	if len(tables) == 0 {
		log.Infof("[RouterService] 分类结果为空, 使用完整 schema, conversation: %s", conversationID)
		return s.fallback()
	}
	if err := s.cache.Set(ctx, conversationID, model.TopicCacheEntry{Tables: tables}); err != nil {
		log.Warnf("[RouterService] 写入话题缓存失败, conversation: %s, error: %v", conversationID, err)
	}
	metrics.ObserveRouterDecision(metrics.OutcomeClassified)
	return RouteResult{Kind: RouteSelected, Tables: tables}
}

func (s *routerService) fallback() RouteResult {
	metrics.ObserveRouterDecision(metrics.OutcomeFallback)
	return RouteResult{Kind: RouteFallback}
}

func (s *routerService) classify(ctx context.Context, query string, store model.MetadataStore) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	messages := []llm.Message{
		{Role: model.RoleSystem, Content: classifySystemPrompt},
		{Role: model.RoleUser, Content: buildClassificationPrompt(query, store)},
	}
	start := time.Now()
	completion, err := s.llmClient.Complete(ctx, messages, s.params)
	metrics.ObserveCompletion("classify", time.Since(start))
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

const classifySystemPrompt = "You select which database tables are needed to answer a question. " +
	`Reply with only a JSON array of table names, for example ["orders","customers"]. ` +
	"Use only names from the list. Reply [] if no table is relevant."

func buildClassificationPrompt(query string, store model.MetadataStore) string {
	var b strings.Builder
	b.WriteString("Tables:\n")
	for _, name := range store.TableNames() {
		meta := store[name]
		summary := strings.TrimSpace(meta.Description)
		if summary == "" {
			summary = "columns: " + strings.Join(lo.Map(meta.Columns, func(c model.SchemaColumn, _ int) string {
				return c.ColumnName
			}), ", ")
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, summary)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// knownTables 只保留 store 中存在的表，去重并保持首次出现的顺序。
func knownTables(tables []string, store model.MetadataStore) []string {
	return lo.Uniq(lo.Filter(tables, func(t string, _ int) bool { return store.Has(t) }))
}
