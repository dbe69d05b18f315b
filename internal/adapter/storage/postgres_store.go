package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewPostgresStore(db *sql.DB, txTimeout time.Duration) *SQLStore {
	return newSQLStore(db, postgresDialect, txTimeout)
}

// OpenPostgres connects through the pgx database/sql driver and pings.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig, txTimeout time.Duration) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool.apply(db)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db, txTimeout), nil
}
