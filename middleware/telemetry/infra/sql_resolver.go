package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"telemetry-gateway/middleware/telemetry/domain"
)

// SQLIdentityResolver consulta a tabela identity_map (classe, id externo) -> id
// permanente.
type SQLIdentityResolver struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLIdentityResolver(db *sql.DB, dialect Dialect) *SQLIdentityResolver {
	return &SQLIdentityResolver{db: db, dialect: dialect}
}

func (r *SQLIdentityResolver) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS identity_map (
	subject_class VARCHAR(32) NOT NULL,
	external_id VARCHAR(255) NOT NULL,
	subject_id BIGINT NOT NULL,
	PRIMARY KEY (subject_class, external_id)
)`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create identity_map: %w", err)
	}
	return nil
}

// Register grava (ou ignora, se já existir) um mapeamento.
func (r *SQLIdentityResolver) Register(ctx context.Context, class domain.SubjectClass, externalID string, subjectID int64) error {
	q := "INSERT INTO identity_map (subject_class, external_id, subject_id) VALUES (" +
		r.dialect.placeholders(3) + ")"
	if r.dialect == DialectMySQL {
		q += " ON DUPLICATE KEY UPDATE subject_id = subject_id"
	} else {
		q += " ON CONFLICT (subject_class, external_id) DO NOTHING"
	}
	if _, err := r.db.ExecContext(ctx, q, string(class), externalID, subjectID); err != nil {
		return fmt.Errorf("register identity %s/%s: %w", class, externalID, err)
	}
	return nil
}

// Resolve implementa domain.IdentityResolver.
func (r *SQLIdentityResolver) Resolve(ctx context.Context, class domain.SubjectClass, externalID string) (int64, error) {
	q := "SELECT subject_id FROM identity_map WHERE subject_class = " + r.dialect.placeholder(1) +
		" AND external_id = " + r.dialect.placeholder(2)

	var id int64
	err := r.db.QueryRowContext(ctx, q, string(class), externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s/%s", domain.ErrUnresolvable, class, externalID)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve %s/%s: %w", class, externalID, err)
	}
	return id, nil
}

var _ domain.IdentityResolver = (*SQLIdentityResolver)(nil)
