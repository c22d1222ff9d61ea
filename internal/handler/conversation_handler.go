package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"db-chat-go/internal/service"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversation 处理 GET /api/v1/conversations/:id，返回当前用户该对话的完整历史。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondError(c, http.StatusBadRequest, "缺少对话 ID")
		return
	}
	history, err := h.service.GetConversationHistory(c.Request.Context(), scopedConversationID(c, id))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"conversationId": id, "messages": history})
}
