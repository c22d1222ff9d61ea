package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestMySQLListTables(t *testing.T) {
	db, mock := newMockGorm(t)
	mock.ExpectQuery("FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("customers").AddRow("orders"))

	repo := NewMySQLSchemaRepository(db, "shop", time.Second)
	names, err := repo.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, names)
	assert.Equal(t, "shop", repo.DatabaseName())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLListColumnsMarksKeysAndDedupesCompositeReferences(t *testing.T) {
	db, mock := newMockGorm(t)
	cols := []string{"table_name", "column_name", "data_type", "is_primary", "foreign_table", "foreign_column"}
	mock.ExpectQuery("FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("customers", "id", "int", true, nil, nil).
			AddRow("customers", "email", "varchar", false, nil, nil).
			AddRow("orders", "id", "int", true, nil, nil).
			AddRow("orders", "customer_id", "int", false, "customers", "id").
			AddRow("orders", "customer_id", "int", false, "legacy_customers", "id"))

	repo := NewMySQLSchemaRepository(db, "shop", time.Second)
	columns, err := repo.ListColumns(context.Background())
	require.NoError(t, err)
	require.Len(t, columns, 4)

	assert.True(t, columns[0].IsPrimary)
	assert.False(t, columns[1].IsForeign)
	fk := columns[3]
	assert.Equal(t, "customer_id", fk.ColumnName)
	assert.True(t, fk.IsForeign)
	assert.Equal(t, "customers.id", fk.References())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSampleRowsQuotesTableAndConvertsBytes(t *testing.T) {
	db, mock := newMockGorm(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `order``items` LIMIT ?")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku"}).
			AddRow(int64(1), []byte("A-1")).
			AddRow(int64(2), nil))

	repo := NewMySQLSchemaRepository(db, "shop", time.Second)
	rows, err := repo.SampleRows(context.Background(), "order`items", 10)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "sku": "A-1"},
		{"id": int64(2), "sku": nil},
	}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSampleRowsWrapsQueryError(t *testing.T) {
	db, mock := newMockGorm(t)
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err := NewMySQLSchemaRepository(db, "shop", time.Second).SampleRows(context.Background(), "orders", 10)
	require.ErrorIs(t, err, assert.AnError)
}
