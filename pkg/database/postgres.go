package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"db-chat-go/pkg/log"
)

// PG 是目标 PostgreSQL 业务库的连接池，仅在 driver=postgres 时初始化。
var PG *pgxpool.Pool

// InitPostgres 初始化 PostgreSQL 连接池并做一次连通性检查。
func InitPostgres(dsn string) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Fatal("failed to parse postgres dsn", err)
	}
	cfg.MaxConns = 20
	cfg.MaxConnLifetime = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	PG, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect postgres", err)
	}
	if err := PG.Ping(ctx); err != nil {
		log.Fatal("failed to ping postgres", err)
	}

	log.Info("PostgreSQL database connected successfully")
}
