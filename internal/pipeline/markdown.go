package pipeline

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"db-chat-go/internal/model"
)

// RenderDocument 渲染完整的快照文档。给定相同的 store 与 generatedAt，输出逐字节一致。
func RenderDocument(store model.MetadataStore, generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString("# Database Snapshot\n\n")
	fmt.Fprintf(&b, "Generated at: %s\n\n", generatedAt.UTC().Format(time.RFC3339))

	names := store.TableNames()
	b.WriteString("## Tables\n\n")
	if len(names) == 0 {
		b.WriteString("_No tables._\n\n")
	}
	for _, name := range names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	if len(names) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("## Relationships\n\n")
	rels := Relationships(store)
	if len(rels) == 0 {
		b.WriteString("_No relationships._\n\n")
	}
	for _, rel := range rels {
		fmt.Fprintf(&b, "- %s\n", rel)
	}
	if len(rels) > 0 {
		b.WriteString("\n")
	}

	for _, name := range names {
		writeTableSection(&b, name, store[name])
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderTables 只渲染选中的表，布局与完整文档中的单表小节相同；store 中不存在的表被跳过。
func RenderTables(store model.MetadataStore, tables []string) string {
	var b strings.Builder
	for _, name := range lo.Uniq(tables) {
		meta, ok := store[name]
		if !ok {
			continue
		}
		writeTableSection(&b, name, meta)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Relationships 返回去重并按字典序排序的 "table.column -> foreign_table.foreign_column"。
func Relationships(store model.MetadataStore) []string {
	var rels []string
	for _, meta := range store {
		for _, col := range meta.Columns {
			if ref := col.References(); ref != "" {
				rels = append(rels, col.TableName+"."+col.ColumnName+" -> "+ref)
			}
		}
	}
	rels = lo.Uniq(rels)
	slices.Sort(rels)
	return rels
}

func writeTableSection(b *strings.Builder, name string, meta model.TableMetadata) {
	fmt.Fprintf(b, "## Table: %s\n\n", name)
	if desc := strings.TrimSpace(meta.Description); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n\n")
	}

	b.WriteString("### Columns\n\n")
	b.WriteString("| Column | Type | Key | References |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, col := range meta.Columns {
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n",
			escapeCell(col.ColumnName), escapeCell(col.DataType), keyMarker(col), escapeCell(col.References()))
	}
	b.WriteString("\n")

	b.WriteString("### Sample Rows\n\n")
	if len(meta.SampleRows) == 0 {
		b.WriteString("_No rows._\n\n")
		return
	}
	headers := sampleHeaders(meta)
	b.WriteString("| " + strings.Join(lo.Map(headers, func(h string, _ int) string { return escapeCell(h) }), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")
	for _, row := range meta.SampleRows {
		cells := lo.Map(headers, func(h string, _ int) string { return formatCell(row[h]) })
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	b.WriteString("\n")
}

// sampleHeaders 先按 schema 列顺序，再把 schema 之外的键按字典序追加。
func sampleHeaders(meta model.TableMetadata) []string {
	headers := lo.Map(meta.Columns, func(c model.SchemaColumn, _ int) string { return c.ColumnName })
	known := lo.SliceToMap(headers, func(h string) (string, struct{}) { return h, struct{}{} })
	var extra []string
	for _, row := range meta.SampleRows {
		for key := range row {
			if _, ok := known[key]; !ok {
				extra = append(extra, key)
			}
		}
	}
	extra = lo.Uniq(extra)
	slices.Sort(extra)
	return append(headers, extra...)
}

func keyMarker(col model.SchemaColumn) string {
	switch {
	case col.IsPrimary && col.IsForeign:
		return "PK, FK"
	case col.IsPrimary:
		return "PK"
	case col.IsForeign:
		return "FK"
	default:
		return ""
	}
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return escapeCell(t)
	case []byte:
		return escapeCell(string(t))
	case time.Time:
		return formatTime(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return escapeCell(fmt.Sprint(t))
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}
