package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"db-chat-go/internal/model"
)

type postgresSchemaRepository struct {
	pool     *pgxpool.Pool
	schema   string
	name     string
	queryTTL time.Duration
}

// NewPostgresSchemaRepository 创建基于 pgx 的 PostgreSQL 实现，只探测 schema 下的基础表。
func NewPostgresSchemaRepository(pool *pgxpool.Pool, name, schema string, queryTimeout time.Duration) SchemaRepository {
	if schema == "" {
		schema = "public"
	}
	return &postgresSchemaRepository{pool: pool, schema: schema, name: name, queryTTL: queryTimeout}
}

func (r *postgresSchemaRepository) DatabaseName() string { return r.name }

func (r *postgresSchemaRepository) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTTL)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

const postgresListColumnsSQL = `
	SELECT
		c.table_name,
		c.column_name,
		c.data_type,
		pk.column_name IS NOT NULL AS is_primary,
		fk.foreign_table_name,
		fk.foreign_column_name
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT ku.table_name, ku.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage ku
			ON tc.constraint_name = ku.constraint_name
			AND tc.table_schema = ku.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
	) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
	LEFT JOIN (
		SELECT
			ku.table_name,
			ku.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage ku
			ON tc.constraint_name = ku.constraint_name
			AND tc.table_schema = ku.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
	) fk ON fk.table_name = c.table_name AND fk.column_name = c.column_name
	WHERE c.table_schema = $1
	ORDER BY c.table_name, c.ordinal_position`

func (r *postgresSchemaRepository) ListColumns(ctx context.Context) ([]model.SchemaColumn, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTTL)
	defer cancel()

	rows, err := r.pool.Query(ctx, postgresListColumnsSQL, r.schema)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	scanned, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (columnRow, error) {
		var c columnRow
		err := row.Scan(&c.TableName, &c.ColumnName, &c.DataType, &c.IsPrimary, &c.ForeignTable, &c.ForeignColumn)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return toSchemaColumns(scanned), nil
}

func (r *postgresSchemaRepository) SampleRows(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTTL)
	defer cancel()

	query := "SELECT * FROM " + pgx.Identifier{r.schema, table}.Sanitize() + " LIMIT $1"
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sample rows from %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan sample row of %s: %w", table, err)
		}
		for i := range values {
			values[i] = normalizePGValue(values[i])
		}
		out = append(out, rowMap(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample rows of %s: %w", table, err)
	}
	return out, nil
}

// normalizePGValue 把 pgx 的复合类型转成可脱敏、可 JSON 化的基础值。
func normalizePGValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	default:
		return v
	}
}
