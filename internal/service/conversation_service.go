package service

import (
	"context"
	"fmt"

	"db-chat-go/internal/model"
	"db-chat-go/internal/repository"
)

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// GetConversationHistory 获取对话的完整消息历史，按时间顺序。
func (s *conversationService) GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	history, err := s.repo.History(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	return history, nil
}
