package service

import (
	"db-chat-go/internal/model"
	"db-chat-go/internal/pipeline"
)

// ContextService 把路由选中的表渲染成提示词中的 schema 上下文。
type ContextService struct{}

// NewContextService 创建一个新的 ContextService。
func NewContextService() *ContextService {
	return &ContextService{}
}

// Render 按 tables 的顺序渲染各表小节，布局与完整快照一致；store 中没有的表被跳过。
func (s *ContextService) Render(tables []string, store model.MetadataStore) string {
	return pipeline.RenderTables(store, tables)
}
