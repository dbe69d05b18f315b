package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/retail-floor/internal/port"
)

// Open connects the Lease Store for driver: memory, mysql, postgres or sqlite.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig, txTimeout time.Duration) (port.LeaseStore, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(txTimeout), nil
	case "mysql":
		return leaseStore(OpenMySQL(ctx, dsn, pool, txTimeout))
	case "postgres":
		return leaseStore(OpenPostgres(ctx, dsn, pool, txTimeout))
	case "sqlite":
		return leaseStore(OpenSQLite(ctx, dsn, txTimeout))
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

// leaseStore keeps a failed open from returning a non-nil interface.
func leaseStore(s *SQLStore, err error) (port.LeaseStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
