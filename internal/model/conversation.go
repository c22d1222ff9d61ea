// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表存储在对话历史中的单条消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicCacheEntry 记录某个对话最近一次解析出的相关表集合。
type TopicCacheEntry struct {
	Tables []string `json:"tables"`
}

// ChatResponse 是一轮问答返回给调用方的结果。
type ChatResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
