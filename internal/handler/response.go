// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"db-chat-go/internal/repository"
	"db-chat-go/internal/service"
	"db-chat-go/pkg/log"
)

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusFor 把服务层错误映射为 HTTP 状态码与对外消息。
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSnapshotBuildInProgress):
		return http.StatusConflict, "快照正在构建中，请稍后重试"
	case errors.Is(err, service.ErrCompletion):
		return http.StatusBadGateway, "AI服务暂时不可用，请稍后重试"
	case errors.Is(err, service.ErrConfig):
		return http.StatusServiceUnavailable, "该功能未启用"
	case errors.Is(err, repository.ErrArtifactNotFound):
		return http.StatusNotFound, "快照尚未构建"
	case errors.Is(err, service.ErrMetadataIO):
		return http.StatusInternalServerError, "读取快照产物失败"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}

func respondServiceError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("请求处理失败: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	respondError(c, status, message)
}
