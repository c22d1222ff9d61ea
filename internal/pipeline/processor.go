// Package pipeline 定义了 schema 快照构建的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"db-chat-go/internal/model"
	"db-chat-go/internal/repository"
	"db-chat-go/pkg/log"
	"db-chat-go/pkg/metrics"
	"db-chat-go/pkg/pii"
	"db-chat-go/pkg/tasks"
)

// DefaultSampleRows 是每张表抽样的最大行数。
const DefaultSampleRows = 10

// ErrUnknownAction 表示快照任务的 action 无法识别。
var ErrUnknownAction = errors.New("unknown snapshot task action")

// DescriptionGenerator 为每张表生成一句话描述。实现自行吸收失败，失败时返回空描述。
type DescriptionGenerator interface {
	Describe(ctx context.Context, tables map[string][]model.SchemaColumn) map[string]string
}

// SnapshotProcessor 封装了快照构建的所有依赖和逻辑。
type SnapshotProcessor struct {
	schemaRepo   repository.SchemaRepository
	artifactRepo repository.ArtifactRepository
	describer    DescriptionGenerator
	sanitizer    pii.Sanitizer
	sampleRows   int
	now          func() time.Time
}

// NewSnapshotProcessor 创建一个新的 SnapshotProcessor。describer 为 nil 时不生成表描述。
func NewSnapshotProcessor(
	schemaRepo repository.SchemaRepository,
	artifactRepo repository.ArtifactRepository,
	describer DescriptionGenerator,
	sampleRows int,
) *SnapshotProcessor {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	return &SnapshotProcessor{
		schemaRepo:   schemaRepo,
		artifactRepo: artifactRepo,
		describer:    describer,
		sanitizer:    pii.New(),
		sampleRows:   sampleRows,
		now:          time.Now,
	}
}

// WithClock 替换文档时间戳使用的时钟。
func (p *SnapshotProcessor) WithClock(now func() time.Time) *SnapshotProcessor {
	p.now = now
	return p
}

// Database 返回目标库名称。
func (p *SnapshotProcessor) Database() string {
	return p.schemaRepo.DatabaseName()
}

// Process 处理一条来自队列的快照任务。
func (p *SnapshotProcessor) Process(ctx context.Context, task tasks.SnapshotTask) error {
	switch task.Action {
	case tasks.ActionBuild:
		_, err := p.Build(ctx)
		return err
	case tasks.ActionClear:
		return p.Clear(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, task.Action)
	}
}

// Build 读取 schema 与样例数据，脱敏后生成元数据存储和 markdown 文档并持久化。
func (p *SnapshotProcessor) Build(ctx context.Context) (*model.Snapshot, error) {
	start := time.Now()
	snapshot, err := p.build(ctx)
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ObserveSnapshotBuild(status, time.Since(start))
	return snapshot, err
}

func (p *SnapshotProcessor) build(ctx context.Context) (*model.Snapshot, error) {
	db := p.schemaRepo.DatabaseName()
	log.Infof("[SnapshotProcessor] 开始构建快照, database: %s", db)

	// 1. 读取表与列
	tables, err := p.schemaRepo.ListTables(ctx)
	if err != nil {
		log.Errorf("[SnapshotProcessor] 读取表列表失败, database: %s, error: %v", db, err)
		return nil, err
	}
	columns, err := p.schemaRepo.ListColumns(ctx)
	if err != nil {
		log.Errorf("[SnapshotProcessor] 读取列元数据失败, database: %s, error: %v", db, err)
		return nil, err
	}
	log.Infof("[SnapshotProcessor] 步骤1: 读取到 %d 张表, %d 列", len(tables), len(columns))

	byTable := make(map[string][]model.SchemaColumn, len(tables))
	for _, t := range tables {
		byTable[t] = []model.SchemaColumn{}
	}
	for _, col := range columns {
		if _, ok := byTable[col.TableName]; ok {
			byTable[col.TableName] = append(byTable[col.TableName], col)
		}
	}

	// 2. 抽样并脱敏，单表失败按无数据处理
	store := make(model.MetadataStore, len(byTable))
	for _, t := range tables {
		store[t] = model.TableMetadata{
			Columns:    byTable[t],
			SampleRows: p.sampleTable(ctx, t, byTable[t]),
		}
	}
	log.Info("[SnapshotProcessor] 步骤2: 样例数据抽取与脱敏完成")

	// 3. 可选的表描述
	if p.describer != nil && len(store) > 0 {
		descriptions := p.describer.Describe(ctx, byTable)
		for name, meta := range store {
			meta.Description = descriptions[name]
			store[name] = meta
		}
		log.Infof("[SnapshotProcessor] 步骤3: 表描述生成完成, 共 %d 条", len(descriptions))
	}

	// 4. 渲染并持久化
	doc := RenderDocument(store, p.now())
	if err := p.artifactRepo.SaveMetadata(ctx, store); err != nil {
		log.Errorf("[SnapshotProcessor] 保存元数据失败, database: %s, error: %v", db, err)
		return nil, err
	}
	if err := p.artifactRepo.SaveDocument(ctx, doc); err != nil {
		log.Errorf("[SnapshotProcessor] 保存快照文档失败, database: %s, error: %v", db, err)
		return nil, err
	}
	log.Infof("[SnapshotProcessor] 快照构建成功, database: %s, tables: %d, document: %d 字节", db, len(store), len(doc))
	return &model.Snapshot{Document: doc, Metadata: store}, nil
}

func (p *SnapshotProcessor) sampleTable(ctx context.Context, table string, columns []model.SchemaColumn) []map[string]any {
	rows, err := p.schemaRepo.SampleRows(ctx, table, p.sampleRows)
	if err != nil {
		log.Warnf("[SnapshotProcessor] 抽样失败, 按无数据处理, table: %s, error: %v", table, err)
		return []map[string]any{}
	}
	if len(rows) > p.sampleRows {
		rows = rows[:p.sampleRows]
	}
	colByName := make(map[string]model.SchemaColumn, len(columns))
	for _, c := range columns {
		colByName[c.ColumnName] = c
	}
	sanitized := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		sanitized = append(sanitized, normalizeTimes(p.sanitizer.SanitizeRow(colByName, row, i)))
	}
	return sanitized
}

// normalizeTimes 把时间值替换成文档中渲染的字符串，元数据存储回读后与文档一致。
func normalizeTimes(row map[string]any) map[string]any {
	for k, v := range row {
		if t, ok := v.(time.Time); ok {
			row[k] = formatTime(t)
		}
	}
	return row
}

// Clear 把文档清空并删除元数据存储。
func (p *SnapshotProcessor) Clear(ctx context.Context) error {
	db := p.schemaRepo.DatabaseName()
	if err := p.artifactRepo.SaveDocument(ctx, ""); err != nil {
		log.Errorf("[SnapshotProcessor] 清空快照文档失败, database: %s, error: %v", db, err)
		return err
	}
	if err := p.artifactRepo.DeleteMetadata(ctx); err != nil {
		log.Errorf("[SnapshotProcessor] 删除元数据失败, database: %s, error: %v", db, err)
		return err
	}
	log.Infof("[SnapshotProcessor] 快照已清除, database: %s", db)
	return nil
}
