package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"db-chat-go/internal/middleware"
	"db-chat-go/internal/service"
	"db-chat-go/pkg/log"
)

// SnapshotHandler 负责快照生命周期的管理接口，仅管理员可用。
type SnapshotHandler struct {
	snapshotService service.SnapshotService
}

// NewSnapshotHandler 创建一个新的 SnapshotHandler 实例。
func NewSnapshotHandler(snapshotService service.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{snapshotService: snapshotService}
}

// Build 处理 POST /api/v1/admin/snapshot。?async=true 时投递到 Kafka 并返回 202。
func (h *SnapshotHandler) Build(c *gin.Context) {
	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if async {
		requestedBy := ""
		if claims, ok := middleware.Claims(c); ok {
			requestedBy = claims.Username
		}
		if err := h.snapshotService.Enqueue(c.Request.Context(), requestedBy); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "快照构建任务已提交", "data": nil})
		return
	}

	snapshot, err := h.snapshotService.Build(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	log.Infof("快照同步构建完成, tables: %d", len(snapshot.Metadata))
	respondOK(c, gin.H{
		"tables":       snapshot.Metadata.TableNames(),
		"documentSize": len(snapshot.Document),
	})
}

// Clear 处理 DELETE /api/v1/admin/snapshot。
func (h *SnapshotHandler) Clear(c *gin.Context) {
	if err := h.snapshotService.Clear(c.Request.Context()); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// Status 处理 GET /api/v1/admin/snapshot。
func (h *SnapshotHandler) Status(c *gin.Context) {
	status, err := h.snapshotService.Status(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, status)
}

// Document 处理 GET /api/v1/admin/snapshot/document，直接返回 markdown。
func (h *SnapshotHandler) Document(c *gin.Context) {
	doc, err := h.snapshotService.Document(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(doc))
}
