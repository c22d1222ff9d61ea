package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-chat-go/internal/model"
	"db-chat-go/internal/repository"
	"db-chat-go/pkg/tasks"
)

type fakeSchemaRepo struct {
	tables     []string
	columns    []model.SchemaColumn
	rows       map[string][]map[string]any
	sampleErrs map[string]error
	listErr    error
}

func (f *fakeSchemaRepo) DatabaseName() string { return "shop" }

func (f *fakeSchemaRepo) ListTables(context.Context) ([]string, error) {
	return f.tables, f.listErr
}

func (f *fakeSchemaRepo) ListColumns(context.Context) ([]model.SchemaColumn, error) {
	return f.columns, nil
}

func (f *fakeSchemaRepo) SampleRows(_ context.Context, table string, limit int) ([]map[string]any, error) {
	if err := f.sampleErrs[table]; err != nil {
		return nil, err
	}
	rows := f.rows[table]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	// 返回副本，确保脱敏不会修改源数据
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

type fakeDescriber struct {
	descriptions map[string]string
	calls        int
}

func (f *fakeDescriber) Describe(context.Context, map[string][]model.SchemaColumn) map[string]string {
	f.calls++
	return f.descriptions
}

func shopSchema() *fakeSchemaRepo {
	return &fakeSchemaRepo{
		tables: []string{"customers", "orders"},
		columns: []model.SchemaColumn{
			{TableName: "customers", ColumnName: "id", DataType: "int", IsPrimary: true},
			{TableName: "customers", ColumnName: "email", DataType: "varchar"},
			{TableName: "customers", ColumnName: "created_at", DataType: "timestamp"},
			{TableName: "orders", ColumnName: "id", DataType: "int", IsPrimary: true},
			{TableName: "orders", ColumnName: "customer_id", DataType: "int", IsForeign: true,
				ForeignTable: strPtr("customers"), ForeignColumn: strPtr("id")},
			{TableName: "orders", ColumnName: "status", DataType: "varchar"},
			{TableName: "orders", ColumnName: "total", DataType: "decimal"},
		},
		rows: map[string][]map[string]any{
			"customers": {{"id": int64(1), "email": "alice@x.com", "created_at": "2024-01-02 03:04:05"}},
			"orders": {
				{"id": int64(10), "customer_id": int64(1), "status": "shipped", "total": 42.5},
				{"id": int64(11), "customer_id": int64(1), "status": "pending", "total": 7.0},
			},
		},
	}
}

func fixedClock() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestBuildSanitizesCustomersAndKeepsOrders(t *testing.T) {
	schema := shopSchema()
	artifacts := repository.NewLocalArtifactRepository(t.TempDir(), "shop")
	p := NewSnapshotProcessor(schema, artifacts, nil, 10).WithClock(fixedClock)

	snap, err := p.Build(context.Background())
	require.NoError(t, err)

	customers := snap.Metadata["customers"]
	require.Len(t, customers.SampleRows, 1)
	assert.Equal(t, "user1@example.com", customers.SampleRows[0]["email"])
	assert.Equal(t, int64(1), customers.SampleRows[0]["id"])
	assert.Equal(t, "2024-01-02 03:04:05", customers.SampleRows[0]["created_at"])

	assert.Equal(t, schema.rows["orders"], snap.Metadata["orders"].SampleRows)
	assert.Contains(t, snap.Document, "| 1 | user1@example.com | 2024-01-02 03:04:05 |")
	assert.NotContains(t, snap.Document, "alice@x.com")
	assert.Contains(t, snap.Document, "- orders.customer_id -> customers.id")

	stored, err := artifacts.LoadMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user1@example.com", stored["customers"].SampleRows[0]["email"])
	doc, err := artifacts.LoadDocument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Document, doc)
}

func TestBuildStoresTimesAsRenderedInDocument(t *testing.T) {
	schema := shopSchema()
	shanghai := time.FixedZone("CST", 8*3600)
	created := time.Date(2024, 1, 2, 11, 4, 5, 123456789, shanghai)
	schema.rows["customers"][0]["created_at"] = created
	artifacts := repository.NewLocalArtifactRepository(t.TempDir(), "shop")
	p := NewSnapshotProcessor(schema, artifacts, nil, 10).WithClock(fixedClock)

	snap, err := p.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", snap.Metadata["customers"].SampleRows[0]["created_at"])

	stored, err := artifacts.LoadMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", stored["customers"].SampleRows[0]["created_at"])
	section := RenderTables(stored, []string{"customers"})
	assert.Contains(t, section, "| 1 | user1@example.com | 2024-01-02T03:04:05Z |")
	assert.Contains(t, snap.Document, section)
}

func TestBuildIsIdempotentWithFixedClock(t *testing.T) {
	artifacts := repository.NewLocalArtifactRepository(t.TempDir(), "shop")
	p := NewSnapshotProcessor(shopSchema(), artifacts, nil, 10).WithClock(fixedClock)

	first, err := p.Build(context.Background())
	require.NoError(t, err)
	second, err := p.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Document, second.Document)
}

func TestBuildAppliesDescriptions(t *testing.T) {
	describer := &fakeDescriber{descriptions: map[string]string{"orders": "Purchases placed by customers."}}
	p := NewSnapshotProcessor(shopSchema(), repository.NewLocalArtifactRepository(t.TempDir(), "shop"), describer, 10).
		WithClock(fixedClock)

	snap, err := p.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, describer.calls)
	assert.Equal(t, "Purchases placed by customers.", snap.Metadata["orders"].Description)
	assert.Empty(t, snap.Metadata["customers"].Description)
	assert.Contains(t, snap.Document, "## Table: orders\n\nPurchases placed by customers.\n")
}

func TestBuildTreatsSampleFailureAsNoRows(t *testing.T) {
	schema := shopSchema()
	schema.sampleErrs = map[string]error{"orders": errors.New("permission denied")}
	p := NewSnapshotProcessor(schema, repository.NewLocalArtifactRepository(t.TempDir(), "shop"), nil, 10).
		WithClock(fixedClock)

	snap, err := p.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Metadata["orders"].SampleRows)
	assert.Contains(t, snap.Document, "## Table: orders")
	assert.Contains(t, snap.Document, "_No rows._")
}

func TestBuildFailsWhenTablesCannotBeListed(t *testing.T) {
	schema := shopSchema()
	schema.listErr = assert.AnError
	artifacts := repository.NewLocalArtifactRepository(t.TempDir(), "shop")

	_, err := NewSnapshotProcessor(schema, artifacts, nil, 10).Build(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	_, err = artifacts.LoadMetadata(context.Background())
	require.ErrorIs(t, err, repository.ErrArtifactNotFound)
}

func TestProcessRoutesTaskActions(t *testing.T) {
	ctx := context.Background()
	artifacts := repository.NewLocalArtifactRepository(t.TempDir(), "shop")
	p := NewSnapshotProcessor(shopSchema(), artifacts, nil, 10).WithClock(fixedClock)

	require.NoError(t, p.Process(ctx, tasks.SnapshotTask{Action: tasks.ActionBuild, Database: "shop"}))
	_, err := artifacts.LoadMetadata(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, tasks.SnapshotTask{Action: tasks.ActionClear, Database: "shop"}))
	_, err = artifacts.LoadMetadata(ctx)
	require.ErrorIs(t, err, repository.ErrArtifactNotFound)
	doc, err := artifacts.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc)

	err = p.Process(ctx, tasks.SnapshotTask{Action: "rebuild"})
	require.ErrorIs(t, err, ErrUnknownAction)
}
