package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-chat-go/internal/config"
	"db-chat-go/internal/model"
	"db-chat-go/internal/pipeline"
	"db-chat-go/internal/repository"
	"db-chat-go/pkg/llm"
)

type chatFixture struct {
	svc           ChatService
	llm           *fakeLLM
	cache         *repository.MemoryTopicCacheRepository
	conversations *repository.MemoryConversationRepository
	artifacts     repository.ArtifactRepository
}

func newChatFixture(t *testing.T, client *fakeLLM, artifacts repository.ArtifactRepository) *chatFixture {
	t.Helper()
	if artifacts == nil {
		artifacts = repository.NewLocalArtifactRepository(t.TempDir(), "shop")
	}
	cache := repository.NewMemoryTopicCacheRepository(0)
	conversations := repository.NewMemoryConversationRepository(0)
	llmCfg := config.LLMConfig{
		Timeout: time.Second,
		Classify: config.GenerationConfig{Temperature: 0, MaxTokens: 100},
		Answer:   config.GenerationConfig{Temperature: 0.3, MaxTokens: 1024},
		Prompt:   config.LLMPromptConfig{Instructions: "Schema:\n{{dbSchema}}\nEnd."},
	}
	router := NewRouterService(client, cache, llmCfg.Classify, llmCfg.Timeout)
	svc := NewChatService(artifacts, router, NewContextService(), conversations, client, llmCfg, 10)
	return &chatFixture{svc: svc, llm: client, cache: cache, conversations: conversations, artifacts: artifacts}
}

func saveShopSnapshot(t *testing.T, artifacts repository.ArtifactRepository) string {
	t.Helper()
	store := shopStore()
	doc := pipeline.RenderDocument(store, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, artifacts.SaveMetadata(context.Background(), store))
	require.NoError(t, artifacts.SaveDocument(context.Background(), doc))
	return doc
}

func TestHandleUsesSelectedTablesAndStoresTurn(t *testing.T) {
	f := newChatFixture(t, scriptedLLM(`["orders"]`, "There were 3 orders."), nil)
	saveShopSnapshot(t, f.artifacts)

	resp, err := f.svc.Handle(context.Background(), "How many orders were placed by each customer last year", "c1")
	require.NoError(t, err)
	assert.Equal(t, &model.ChatResponse{ID: "cmpl-1", Message: "There were 3 orders."}, resp)

	require.Equal(t, 2, f.llm.callCount())
	answer := f.llm.call(1)
	require.Len(t, answer, 2)
	assert.Equal(t, model.RoleSystem, answer[0].Role)
	assert.True(t, strings.HasPrefix(answer[0].Content, "Schema:\n## Table: orders"))
	assert.NotContains(t, answer[0].Content, "## Table: customers")
	assert.True(t, strings.HasSuffix(answer[0].Content, "\nEnd."))
	assert.Equal(t, llm.Message{Role: model.RoleUser, Content: "How many orders were placed by each customer last year"}, answer[1])

	history, err := f.conversations.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "There were 3 orders.", history[1].Content)
}

func TestHandleFollowUpReusesCachedTables(t *testing.T) {
	f := newChatFixture(t, scriptedLLM("Last month had 2 orders."), nil)
	saveShopSnapshot(t, f.artifacts)
	require.NoError(t, f.cache.Set(context.Background(), "c1", model.TopicCacheEntry{Tables: []string{"orders"}}))

	resp, err := f.svc.Handle(context.Background(), "What about last month?", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Last month had 2 orders.", resp.Message)
	require.Equal(t, 1, f.llm.callCount())
	assert.Contains(t, f.llm.call(0)[0].Content, "## Table: orders")
	assert.NotContains(t, f.llm.call(0)[0].Content, "## Table: customers")
}

func TestHandleFallbackUsesFullDocument(t *testing.T) {
	f := newChatFixture(t, scriptedLLM("not json", "Here is the answer."), nil)
	doc := saveShopSnapshot(t, f.artifacts)

	_, err := f.svc.Handle(context.Background(), "How many orders were placed by each customer last year", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Schema:\n"+doc+"\nEnd.", f.llm.call(1)[0].Content)
}

func TestHandleWithoutSnapshotUsesNoSchemaNotice(t *testing.T) {
	f := newChatFixture(t, scriptedLLM("Please build the snapshot."), nil)

	resp, err := f.svc.Handle(context.Background(), "How many orders were placed by each customer last year", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Please build the snapshot.", resp.Message)
	require.Equal(t, 1, f.llm.callCount())
	assert.Contains(t, f.llm.call(0)[0].Content, defaultNoSchemaText)
}

func TestHandleSendsOnlyTheRecentHistoryWindow(t *testing.T) {
	f := newChatFixture(t, scriptedLLM("ok"), nil)
	for i := 1; i <= 15; i++ {
		require.NoError(t, f.conversations.Append(context.Background(), "c1", model.ChatMessage{
			Role: model.RoleUser, Content: fmt.Sprintf("m%d", i),
		}))
	}

	_, err := f.svc.Handle(context.Background(), "And now?", "c1")
	require.NoError(t, err)
	messages := f.llm.call(0)
	require.Len(t, messages, 12)
	assert.Equal(t, "m6", messages[1].Content)
	assert.Equal(t, "m15", messages[10].Content)
	assert.Equal(t, "And now?", messages[11].Content)
}

func TestHandleCompletionFailureIsDistinguishable(t *testing.T) {
	client := &fakeLLM{reply: func(int, []llm.Message) (*llm.Completion, error) {
		return nil, errors.New("rate limited")
	}}
	f := newChatFixture(t, client, nil)

	_, err := f.svc.Handle(context.Background(), "How many orders?", "c1")
	require.ErrorIs(t, err, ErrCompletion)
	assert.NotErrorIs(t, err, ErrMetadataIO)

	history, err := f.conversations.History(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

type brokenArtifacts struct {
	repository.ArtifactRepository
}

func (brokenArtifacts) LoadMetadata(context.Context) (model.MetadataStore, error) {
	return nil, errors.New("disk on fire")
}

func TestHandleMetadataFailureIsDistinguishable(t *testing.T) {
	f := newChatFixture(t, scriptedLLM(), brokenArtifacts{})

	_, err := f.svc.Handle(context.Background(), "How many orders?", "c1")
	require.ErrorIs(t, err, ErrMetadataIO)
	assert.NotErrorIs(t, err, ErrCompletion)
	assert.Zero(t, f.llm.callCount())
}

func TestHandleSerializesSameConversation(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	client := &fakeLLM{reply: func(call int, _ []llm.Message) (*llm.Completion, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return &llm.Completion{ID: fmt.Sprintf("cmpl-%d", call), Content: "ok"}, nil
	}}
	f := newChatFixture(t, client, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Handle(context.Background(), "Count rows", "c1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	history, err := f.conversations.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 16)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, model.RoleUser, history[i].Role)
		assert.Equal(t, model.RoleAssistant, history[i+1].Role)
	}
}
