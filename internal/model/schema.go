// Package model 包含了应用的数据模型定义。
package model

import "sort"

// SchemaColumn 是目标数据库中一列的元数据，按 (TableName, ColumnName) 唯一。
type SchemaColumn struct {
	TableName     string  `json:"tableName"`
	ColumnName    string  `json:"columnName"`
	DataType      string  `json:"dataType"`
	IsPrimary     bool    `json:"isPrimary"`
	IsForeign     bool    `json:"isForeign"`
	ForeignTable  *string `json:"foreignTable,omitempty"`
	ForeignColumn *string `json:"foreignColumn,omitempty"`
}

// References 返回外键指向的 "table.column"，非外键返回空串。
func (c SchemaColumn) References() string {
	if !c.IsForeign || c.ForeignTable == nil || c.ForeignColumn == nil {
		return ""
	}
	return *c.ForeignTable + "." + *c.ForeignColumn
}

// TableMetadata 是路由与上下文组装消费的单表记录。SampleRows 总是脱敏后的数据。
type TableMetadata struct {
	Description string           `json:"description"`
	Columns     []SchemaColumn   `json:"columns"`
	SampleRows  []map[string]any `json:"sampleRows"`
}

// MetadataStore 按表名索引的元数据存储。nil 表示尚未构建快照。
type MetadataStore map[string]TableMetadata

// TableNames 返回按字典序排列的表名。
func (s MetadataStore) TableNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has 报告 name 是否为已知表。
func (s MetadataStore) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Snapshot 是一次快照构建的全部产物。
type Snapshot struct {
	Document string
	Metadata MetadataStore
}

// SnapshotStatus 描述当前持久化产物的状态。
type SnapshotStatus struct {
	Exists       bool     `json:"exists"`
	Tables       []string `json:"tables"`
	Building     bool     `json:"building"`
	DocumentSize int      `json:"documentSize"`
}
