package infra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DBSettings é o mínimo que OpenDatabase precisa saber da configuração.
type DBSettings struct {
	// Driver: postgres, mysql ou sqlite3
	Driver   string
	DSN      string
	MaxConns int
	MaxIdle  int
}

// OpenDatabase abre o pool e testa a conexão.
//
// SQLite aceita um único escritor por vez: o pool fica com uma conexão só.
func OpenDatabase(ctx context.Context, s DBSettings, logger *zap.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open(s.Driver, s.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if s.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if s.MaxConns > 0 {
			db.SetMaxOpenConns(s.MaxConns)
		}
		if s.MaxIdle > 0 {
			db.SetMaxIdleConns(s.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if s.Driver == "sqlite3" {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			logger.Warn("sqlite: could not enable WAL", zap.Error(err))
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			logger.Warn("sqlite: could not set busy timeout", zap.Error(err))
		}
	}
	return db, nil
}
