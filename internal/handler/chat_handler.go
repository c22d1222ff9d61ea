package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"db-chat-go/internal/middleware"
	"db-chat-go/internal/service"
	"db-chat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatRequest 是一轮提问。ConversationID 为空时开启新对话。
type ChatRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversationId"`
}

// ChatReply 是一轮问答的结果。
type ChatReply struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// ChatHandler 负责处理 HTTP 与 WebSocket 聊天请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// scopedConversationID 把对话 ID 限定在用户名下，用户之间互相不可见。
func scopedConversationID(c *gin.Context, conversationID string) string {
	claims, ok := middleware.Claims(c)
	if !ok {
		return conversationID
	}
	return claims.Username + "/" + conversationID
}

// Chat 处理 POST /api/v1/chat。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		respondError(c, http.StatusBadRequest, "prompt 不能为空")
		return
	}
	reply, err := h.handle(c, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, reply)
}

func (h *ChatHandler) handle(c *gin.Context, req ChatRequest) (*ChatReply, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	resp, err := h.chatService.Handle(c.Request.Context(), req.Prompt, scopedConversationID(c, req.ConversationID))
	if err != nil {
		return nil, err
	}
	return &ChatReply{ID: resp.ID, ConversationID: req.ConversationID, Message: resp.Message}, nil
}

type wsFrame struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Stream 处理 GET /api/v1/chat/ws。每个文本帧是一个 ChatRequest，逐帧返回结果。
// 帧中未携带对话 ID 时沿用本连接上一次的对话。
func (h *ChatHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	var current string
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}
		var req ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if err := conn.WriteJSON(wsFrame{Type: "error", Error: "无法解析消息"}); err != nil {
				return
			}
			continue
		}
		if strings.TrimSpace(req.Prompt) == "" {
			if err := conn.WriteJSON(wsFrame{Type: "error", Error: "prompt 不能为空"}); err != nil {
				return
			}
			continue
		}
		if req.ConversationID == "" {
			req.ConversationID = current
		}

		reply, err := h.handle(c, req)
		if err != nil {
			_, text := statusFor(err)
			log.Errorf("处理 WebSocket 提问失败: %v", err)
			if werr := conn.WriteJSON(wsFrame{Type: "error", ConversationID: req.ConversationID, Error: text}); werr != nil {
				return
			}
			continue
		}
		current = reply.ConversationID
		if err := conn.WriteJSON(wsFrame{
			Type:           "answer",
			ID:             reply.ID,
			ConversationID: reply.ConversationID,
			Message:        reply.Message,
		}); err != nil {
			log.Warnf("写入 WebSocket 响应失败: %v", err)
			return
		}
	}
}
