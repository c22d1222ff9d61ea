package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"db-chat-go/internal/model"
)

// TopicCacheRepository 按对话记住上一次路由选中的表。写入是整体覆盖，不做合并。
type TopicCacheRepository interface {
	// Get 在没有缓存时返回 (nil, false, nil)。
	Get(ctx context.Context, conversationID string) (*model.TopicCacheEntry, bool, error)
	Set(ctx context.Context, conversationID string, entry model.TopicCacheEntry) error
}

type topicCacheItem struct {
	entry     model.TopicCacheEntry
	expiresAt time.Time
}

// MemoryTopicCacheRepository 是进程内实现，过期条目在读取时惰性删除。
type MemoryTopicCacheRepository struct {
	mu    sync.RWMutex
	items map[string]topicCacheItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryTopicCacheRepository 创建内存实现，ttl <= 0 表示永不过期。
func NewMemoryTopicCacheRepository(ttl time.Duration) *MemoryTopicCacheRepository {
	return &MemoryTopicCacheRepository{
		items: make(map[string]topicCacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (r *MemoryTopicCacheRepository) Get(_ context.Context, conversationID string) (*model.TopicCacheEntry, bool, error) {
	r.mu.RLock()
	item, ok := r.items[conversationID]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !r.now().Before(item.expiresAt) {
		r.mu.Lock()
		if cur, still := r.items[conversationID]; still && cur.expiresAt.Equal(item.expiresAt) {
			delete(r.items, conversationID)
		}
		r.mu.Unlock()
		return nil, false, nil
	}
	entry := model.TopicCacheEntry{Tables: append([]string(nil), item.entry.Tables...)}
	return &entry, true, nil
}

func (r *MemoryTopicCacheRepository) Set(_ context.Context, conversationID string, entry model.TopicCacheEntry) error {
	item := topicCacheItem{entry: model.TopicCacheEntry{Tables: append([]string(nil), entry.Tables...)}}
	if r.ttl > 0 {
		item.expiresAt = r.now().Add(r.ttl)
	}
	r.mu.Lock()
	r.items[conversationID] = item
	r.mu.Unlock()
	return nil
}

type redisTopicCacheRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisTopicCacheRepository 用 Redis string 保存 JSON 编码的缓存条目。
func NewRedisTopicCacheRepository(redisClient *redis.Client, ttl time.Duration) TopicCacheRepository {
	return &redisTopicCacheRepository{redisClient: redisClient, ttl: ttl}
}

func topicCacheKey(conversationID string) string {
	return fmt.Sprintf("dbchat:topic:%s", conversationID)
}

func (r *redisTopicCacheRepository) Get(ctx context.Context, conversationID string) (*model.TopicCacheEntry, bool, error) {
	data, err := r.redisClient.Get(ctx, topicCacheKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get topic cache: %w", err)
	}
	var entry model.TopicCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal topic cache: %w", err)
	}
	return &entry, true, nil
}

func (r *redisTopicCacheRepository) Set(ctx context.Context, conversationID string, entry model.TopicCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal topic cache: %w", err)
	}
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.redisClient.Set(ctx, topicCacheKey(conversationID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set topic cache: %w", err)
	}
	return nil
}
