package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"db-chat-go/internal/config"
	"db-chat-go/internal/model"
	"db-chat-go/internal/repository"
	"db-chat-go/pkg/llm"
	"db-chat-go/pkg/log"
	"db-chat-go/pkg/metrics"
)

// SchemaPlaceholder 是提示模板中 schema 上下文的占位符。
const SchemaPlaceholder = "{{dbSchema}}"

const defaultNoSchemaText = "No schema snapshot is available yet. Tell the user to build the database snapshot first."

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	Handle(ctx context.Context, prompt, conversationID string) (*model.ChatResponse, error)
}

type chatService struct {
	artifacts     repository.ArtifactRepository
	router        RouterService
	assembler     *ContextService
	conversations repository.ConversationRepository
	llmClient     llm.Client
	params        *llm.GenerationParams
	timeout       time.Duration
	instructions  string
	noSchemaText  string
	historyWindow int
	locks         *keyedMutex
	now           func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	artifacts repository.ArtifactRepository,
	router RouterService,
	assembler *ContextService,
	conversations repository.ConversationRepository,
	llmClient llm.Client,
	llmCfg config.LLMConfig,
	historyWindow int,
) ChatService {
	instructions := llmCfg.Prompt.Instructions
	if strings.TrimSpace(instructions) == "" {
		instructions = config.DefaultInstructions
	}
	noSchema := llmCfg.Prompt.NoSchemaText
	if noSchema == "" {
		noSchema = defaultNoSchemaText
	}
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &chatService{
		artifacts:     artifacts,
		router:        router,
		assembler:     assembler,
		conversations: conversations,
		llmClient:     llmClient,
		params:        llm.Params(llmCfg.Answer),
		timeout:       llmCfg.Timeout,
		instructions:  instructions,
		noSchemaText:  noSchema,
		historyWindow: historyWindow,
		locks:         newKeyedMutex(),
		now:           time.Now,
	}
}

// Handle 执行一轮问答：路由 → 组装上下文 → 调用 LLM → 写回对话历史。
// 同一 conversationID 的请求串行执行。
func (s *chatService) Handle(ctx context.Context, prompt, conversationID string) (*model.ChatResponse, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	// 1. 读取元数据存储，不存在时走完整 schema 路径
	store, err := s.artifacts.LoadMetadata(ctx)
	if errors.Is(err, repository.ErrArtifactNotFound) {
		store = nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataIO, err)
	}

	// 2. 路由并组装 schema 上下文
	route := s.router.Route(ctx, prompt, conversationID, store)
	schemaText, err := s.schemaContext(ctx, route, store)
	if err != nil {
		return nil, err
	}
	log.Infow("chat route resolved",
		"conversation", conversationID, "route", route.Kind.String(),
		"tables", route.Tables, "cacheHit", route.CacheHit, "contextLen", len(schemaText))

	// 3. 组装消息：system + 最近历史 + user
	history, err := s.conversations.Recent(ctx, conversationID, s.historyWindow)
	if err != nil {
		log.Errorf("Failed to load conversation history: %v", err)
		history = []model.ChatMessage{}
	}
	messages := s.composeMessages(s.buildSystemMessage(schemaText), history, prompt)

	// 4. 调用 LLM
	completion, err := s.complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	// 5. 写回对话历史
	if err := s.appendTurn(ctx, conversationID, prompt, completion.Content); err != nil {
		log.Errorf("Failed to save conversation history: %v", err)
	}
	return &model.ChatResponse{ID: completion.ID, Message: completion.Content}, nil
}

func (s *chatService) schemaContext(ctx context.Context, route RouteResult, store model.MetadataStore) (string, error) {
	if route.Kind == RouteSelected {
		if text := s.assembler.Render(route.Tables, store); text != "" {
			return text, nil
		}
	}
	doc, err := s.artifacts.LoadDocument(ctx)
	if errors.Is(err, repository.ErrArtifactNotFound) {
		return s.noSchemaText, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMetadataIO, err)
	}
	if strings.TrimSpace(doc) == "" {
		return s.noSchemaText, nil
	}
	return doc, nil
}

func (s *chatService) buildSystemMessage(schemaText string) string {
	if !strings.Contains(s.instructions, SchemaPlaceholder) {
		return s.instructions + "\n\n" + schemaText
	}
	return strings.ReplaceAll(s.instructions, SchemaPlaceholder, schemaText)
}

func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: systemMsg})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: userInput})
	return msgs
}

func (s *chatService) complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	completion, err := s.llmClient.Complete(ctx, messages, s.params)
	metrics.ObserveCompletion("answer", time.Since(start))
	return completion, err
}

func (s *chatService) appendTurn(ctx context.Context, conversationID, question, answer string) error {
	// 使用独立上下文：答案已经生成，即使请求被取消也要保存
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	if err := s.conversations.Append(ctx, conversationID, model.ChatMessage{
		Role: model.RoleUser, Content: question, Timestamp: now,
	}); err != nil {
		return fmt.Errorf("failed to append user message: %w", err)
	}
	if err := s.conversations.Append(ctx, conversationID, model.ChatMessage{
		Role: model.RoleAssistant, Content: answer, Timestamp: s.now(),
	}); err != nil {
		return fmt.Errorf("failed to append assistant message: %w", err)
	}
	return nil
}
