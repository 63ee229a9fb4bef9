package infra

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"telemetry-gateway/middleware/telemetry/domain"
)

var auditColumns = []string{
	"record_key", "batch_id", "subject_id", "subject_class", "path", "method",
	"operation", "module", "status", "response_bytes", "record_count",
	"resource_ids", "is_error", "error_message", "client_ip", "user_agent",
	"duration_ms", "occurred_at",
}

// SQLLog implementa domain.PersistentLog sobre database/sql.
type SQLLog struct {
	db      *sql.DB
	dialect Dialect
	table   string
	insert  string
}

func NewSQLLog(db *sql.DB, dialect Dialect) *SQLLog {
	l := &SQLLog{db: db, dialect: dialect, table: "audit_log"}
	l.insert = "INSERT INTO " + l.table + " (" + strings.Join(auditColumns, ", ") + ") VALUES (" +
		dialect.placeholders(len(auditColumns)) + ")" + dialect.onConflictIgnore("record_key")
	return l
}

// EnsureSchema cria a tabela se ela ainda não existir.
func (l *SQLLog) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	record_key VARCHAR(128) NOT NULL UNIQUE,
	batch_id VARCHAR(64) NOT NULL,
	subject_id BIGINT NULL,
	subject_class VARCHAR(32) NOT NULL,
	path VARCHAR(2048) NOT NULL,
	method VARCHAR(16) NOT NULL,
	operation VARCHAR(8) NOT NULL,
	module VARCHAR(128) NOT NULL,
	status INTEGER NOT NULL,
	response_bytes BIGINT NULL,
	record_count BIGINT NULL,
	resource_ids TEXT NULL,
	is_error BOOLEAN NOT NULL,
	error_message TEXT NULL,
	client_ip VARCHAR(64) NOT NULL,
	user_agent TEXT NOT NULL,
	duration_ms BIGINT NOT NULL CHECK (duration_ms >= 0),
	occurred_at %s NOT NULL
)`, l.table, l.dialect.autoIncrementPK(), l.dialect.timestampType())

	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// InsertBatch grava os registros um a um, na ordem recebida.
//
// Erro de retorno só quando o banco está inacessível (ping, prepare ou erro
// de conexão no meio do lote). Falhas de registro vão em RecordResult.Err.
func (l *SQLLog) InsertBatch(ctx context.Context, records []domain.AuditRecord) ([]domain.RecordResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := l.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}

	stmt, err := l.db.PrepareContext(ctx, l.insert)
	if err != nil {
		return nil, fmt.Errorf("%w: prepare insert: %v", domain.ErrLogUnavailable, err)
	}
	defer stmt.Close()

	results := make([]domain.RecordResult, len(records))
	for i, r := range records {
		results[i].Key = r.Key
		args, err := l.args(r)
		if err != nil {
			results[i].Err = err
			continue
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			if isConnError(ctx, err) {
				return nil, fmt.Errorf("%w: insert %s: %v", domain.ErrLogUnavailable, r.Key, err)
			}
			results[i].Err = fmt.Errorf("insert %s: %w", r.Key, err)
		}
	}
	return results, nil
}

func (l *SQLLog) args(r domain.AuditRecord) ([]any, error) {
	var ids any
	if len(r.ResourceIDs) > 0 {
		raw, err := json.Marshal(r.ResourceIDs)
		if err != nil {
			return nil, fmt.Errorf("encode resource ids: %w", err)
		}
		ids = string(raw)
	}
	return []any{
		r.Key, r.BatchID, nullInt64(r.SubjectID), string(r.SubjectClass), r.Path, r.Method,
		string(r.Operation), r.Module, r.Status, nullInt64(r.ResponseBytes), nullInt64(r.RecordCount),
		ids, r.Error, nullString(r.ErrorMessage), r.ClientIP, r.UserAgent,
		r.DurationMs, r.OccurredAt.UTC(),
	}, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// isConnError separa "o banco sumiu" de "este registro é inválido".
func isConnError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ domain.PersistentLog = (*SQLLog)(nil)
