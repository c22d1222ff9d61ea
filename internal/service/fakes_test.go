package service

import (
	"context"
	"fmt"
	"sync"

	"db-chat-go/internal/model"
	"db-chat-go/pkg/llm"
)

// fakeLLM 记录每次调用，回复由 reply 决定。
type fakeLLM struct {
	mu     sync.Mutex
	calls  [][]llm.Message
	params []*llm.GenerationParams
	reply  func(call int, messages []llm.Message) (*llm.Completion, error)
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, params *llm.GenerationParams) (*llm.Completion, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, messages)
	f.params = append(f.params, params)
	f.mu.Unlock()
	return f.reply(call, messages)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) call(i int) []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// scriptedLLM 依次返回 contents 中的内容。
func scriptedLLM(contents ...string) *fakeLLM {
	return &fakeLLM{reply: func(call int, _ []llm.Message) (*llm.Completion, error) {
		if call >= len(contents) {
			return nil, fmt.Errorf("unexpected call %d", call)
		}
		return &llm.Completion{ID: fmt.Sprintf("cmpl-%d", call), Content: contents[call]}, nil
	}}
}

func strPtr(s string) *string { return &s }

func shopStore() model.MetadataStore {
	return model.MetadataStore{
		"customers": {
			Columns: []model.SchemaColumn{
				{TableName: "customers", ColumnName: "id", DataType: "int", IsPrimary: true},
				{TableName: "customers", ColumnName: "email", DataType: "varchar"},
			},
			SampleRows: []map[string]any{{"id": float64(1), "email": "user1@example.com"}},
		},
		"orders": {
			Description: "Purchases placed by customers.",
			Columns: []model.SchemaColumn{
				{TableName: "orders", ColumnName: "id", DataType: "int", IsPrimary: true},
				{TableName: "orders", ColumnName: "customer_id", DataType: "int", IsForeign: true,
					ForeignTable: strPtr("customers"), ForeignColumn: strPtr("id")},
				{TableName: "orders", ColumnName: "total", DataType: "decimal"},
			},
			SampleRows: []map[string]any{{"id": float64(10), "customer_id": float64(1), "total": 42.5}},
		},
	}
}
