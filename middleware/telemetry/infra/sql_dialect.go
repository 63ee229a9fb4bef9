package infra

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect isola as poucas diferenças de SQL entre os bancos suportados.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// DialectForDriver mapeia o nome do driver database/sql para o dialeto.
func DialectForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pq":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// placeholder devolve o marcador do i-ésimo argumento (1-based).
func (d Dialect) placeholder(i int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// placeholders devolve "$1, $2, ..." (postgres) ou "?, ?, ...".
func (d Dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (d Dialect) autoIncrementPK() string {
	switch d {
	case DialectPostgres:
		return "BIGSERIAL PRIMARY KEY"
	case DialectMySQL:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (d Dialect) timestampType() string {
	switch d {
	case DialectPostgres:
		return "TIMESTAMPTZ"
	case DialectMySQL:
		return "DATETIME(3)"
	default:
		return "TIMESTAMP"
	}
}

// onConflictIgnore é o sufixo que torna a inserção idempotente pela chave
// única. Não usa INSERT IGNORE / OR IGNORE porque esses também engolem
// violações de CHECK, e registros inválidos precisam voltar como erro.
func (d Dialect) onConflictIgnore(uniqueCol string) string {
	if d == DialectMySQL {
		return " ON DUPLICATE KEY UPDATE " + uniqueCol + " = " + uniqueCol
	}
	return " ON CONFLICT (" + uniqueCol + ") DO NOTHING"
}
