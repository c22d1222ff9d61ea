// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"db-chat-go/internal/model"
)

// SchemaRepository 读取目标业务库的表、列与样例数据。只做只读查询。
type SchemaRepository interface {
	// DatabaseName 标识目标库，用作产物与构建锁的 key。
	DatabaseName() string
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context) ([]model.SchemaColumn, error)
	SampleRows(ctx context.Context, table string, limit int) ([]map[string]any, error)
}

type mysqlSchemaRepository struct {
	db       *gorm.DB
	name     string
	queryTTL time.Duration
}

// NewMySQLSchemaRepository 创建基于 GORM 的 MySQL 实现，探测当前连接所选数据库 (DATABASE())。
func NewMySQLSchemaRepository(db *gorm.DB, name string, queryTimeout time.Duration) SchemaRepository {
	return &mysqlSchemaRepository{db: db, name: name, queryTTL: queryTimeout}
}

func (r *mysqlSchemaRepository) DatabaseName() string { return r.name }

const mysqlListTablesSQL = `SELECT table_name AS table_name
FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
ORDER BY table_name`

func (r *mysqlSchemaRepository) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTTL)
	defer cancel()

	var names []string
	if err := r.db.WithContext(ctx).Raw(mysqlListTablesSQL).Scan(&names).Error; err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

const mysqlListColumnsSQL = `SELECT c.table_name AS table_name,
	c.column_name AS column_name,
	c.data_type AS data_type,
	c.column_key = 'PRI' AS is_primary,
	k.referenced_table_name AS foreign_table,
	k.referenced_column_name AS foreign_column
FROM information_schema.columns c
LEFT JOIN information_schema.key_column_usage k
	ON k.table_schema = c.table_schema
	AND k.table_name = c.table_name
	AND k.column_name = c.column_name
	AND k.referenced_table_name IS NOT NULL
WHERE c.table_schema = DATABASE()
ORDER BY c.table_name, c.ordinal_position`

// columnRow 是列探测查询的扫描目标，MySQL 与 PostgreSQL 共用。
type columnRow struct {
	TableName     string  `gorm:"column:table_name"`
	ColumnName    string  `gorm:"column:column_name"`
	DataType      string  `gorm:"column:data_type"`
	IsPrimary     bool    `gorm:"column:is_primary"`
	ForeignTable  *string `gorm:"column:foreign_table"`
	ForeignColumn *string `gorm:"column:foreign_column"`
}

func (r *mysqlSchemaRepository) ListColumns(ctx context.Context) ([]model.SchemaColumn, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTTL)
	defer cancel()

	var rows []columnRow
	if err := r.db.WithContext(ctx).Raw(mysqlListColumnsSQL).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return toSchemaColumns(rows), nil
}

func (r *mysqlSchemaRepository) SampleRows(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTTL)
	defer cancel()

	query := "SELECT * FROM " + quoteMySQLIdent(table) + " LIMIT ?"
	rows, err := r.db.WithContext(ctx).Raw(query, limit).Rows()
	if err != nil {
		return nil, fmt.Errorf("sample rows from %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sample columns of %s: %w", table, err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan sample row of %s: %w", table, err)
		}
		out = append(out, rowMap(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample rows of %s: %w", table, err)
	}
	return out, nil
}

// toSchemaColumns 去重 (table, column)，复合外键只保留第一条引用。
func toSchemaColumns(rows []columnRow) []model.SchemaColumn {
	seen := make(map[string]struct{}, len(rows))
	out := make([]model.SchemaColumn, 0, len(rows))
	for _, r := range rows {
		key := r.TableName + "\x00" + r.ColumnName
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		col := model.SchemaColumn{
			TableName:  r.TableName,
			ColumnName: r.ColumnName,
			DataType:   r.DataType,
			IsPrimary:  r.IsPrimary,
		}
		if r.ForeignTable != nil && *r.ForeignTable != "" && r.ForeignColumn != nil {
			col.IsForeign = true
			col.ForeignTable = r.ForeignTable
			col.ForeignColumn = r.ForeignColumn
		}
		out = append(out, col)
	}
	return out
}

// rowMap 把驱动返回的 []byte 转为 string，便于脱敏与 JSON 持久化。
func rowMap(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))
	for i, name := range columns {
		if b, ok := values[i].([]byte); ok {
			row[name] = string(b)
			continue
		}
		row[name] = values[i]
	}
	return row
}

func quoteMySQLIdent(value string) string {
	return "`" + strings.ReplaceAll(value, "`", "``") + "`"
}

func withQueryTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
