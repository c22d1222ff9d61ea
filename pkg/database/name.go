package database

import (
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

// DatabaseName 从 DSN 中解析出目标库名，作为快照产物的命名空间。
func DatabaseName(driver, dsn string) (string, error) {
	var name string
	switch driver {
	case "mysql":
		cfg, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("解析 MySQL DSN 失败: %w", err)
		}
		name = cfg.DBName
	case "postgres":
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return "", fmt.Errorf("解析 PostgreSQL DSN 失败: %w", err)
		}
		name = cfg.Database
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
	if name == "" {
		return "", errors.New("DSN 中未指定数据库名")
	}
	return name, nil
}
