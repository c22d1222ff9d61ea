package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"db-chat-go/internal/model"
)

// ConversationRepository 定义了对话历史记录的操作接口。历史只追加，按时间顺序保存。
type ConversationRepository interface {
	Append(ctx context.Context, conversationID string, message model.ChatMessage) error
	// Recent 返回最近 k 条消息，按时间从旧到新。
	Recent(ctx context.Context, conversationID string, k int) ([]model.ChatMessage, error)
	History(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
}

type memoryConversation struct {
	messages []model.ChatMessage
	lastSeen time.Time
}

// MemoryConversationRepository 把对话保存在进程内，空闲超过 ttl 的对话由 Sweep 回收。
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
	ttl           time.Duration
	now           func() time.Time
}

// NewMemoryConversationRepository 创建内存实现，ttl <= 0 表示永不过期。
func NewMemoryConversationRepository(ttl time.Duration) *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]*memoryConversation),
		ttl:           ttl,
		now:           time.Now,
	}
}

func (r *MemoryConversationRepository) Append(_ context.Context, conversationID string, message model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		conv = &memoryConversation{}
		r.conversations[conversationID] = conv
	}
	conv.messages = append(conv.messages, message)
	conv.lastSeen = r.now()
	return nil
}

func (r *MemoryConversationRepository) Recent(_ context.Context, conversationID string, k int) ([]model.ChatMessage, error) {
	if k <= 0 {
		return []model.ChatMessage{}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return []model.ChatMessage{}, nil
	}
	start := len(conv.messages) - k
	if start < 0 {
		start = 0
	}
	return append([]model.ChatMessage(nil), conv.messages[start:]...), nil
}

func (r *MemoryConversationRepository) History(_ context.Context, conversationID string) ([]model.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return []model.ChatMessage{}, nil
	}
	return append([]model.ChatMessage(nil), conv.messages...), nil
}

// Sweep 删除空闲超过 ttl 的对话，返回删除数量。
func (r *MemoryConversationRepository) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, conv := range r.conversations {
		if conv.lastSeen.Before(cutoff) {
			delete(r.conversations, id)
			removed++
		}
	}
	return removed
}

// StartSweeper 按 interval 周期调用 Sweep，直到 ctx 结束。
func (r *MemoryConversationRepository) StartSweeper(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

type redisConversationRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisConversationRepository 用 Redis list 保存对话，每次追加都会刷新 key 的过期时间。
func NewRedisConversationRepository(redisClient *redis.Client, ttl time.Duration) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, ttl: ttl}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("dbchat:conversation:%s", conversationID)
}

func (r *redisConversationRepository) Append(ctx context.Context, conversationID string, message model.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation message: %w", err)
	}
	key := conversationKey(conversationID)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation message: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) Recent(ctx context.Context, conversationID string, k int) ([]model.ChatMessage, error) {
	if k <= 0 {
		return []model.ChatMessage{}, nil
	}
	return r.lrange(ctx, conversationID, int64(-k), -1)
}

func (r *redisConversationRepository) History(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	return r.lrange(ctx, conversationID, 0, -1)
}

func (r *redisConversationRepository) lrange(ctx context.Context, conversationID string, start, stop int64) ([]model.ChatMessage, error) {
	items, err := r.redisClient.LRange(ctx, conversationKey(conversationID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
