// Пакет repository — доступ к PostgreSQL на pgx.
// SQL пишется вручную; статусные переходы выражены условными UPDATE,
// поэтому конкурентные запросы не требуют блокировок на уровне приложения.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound — строки нет.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — нарушено ограничение уникальности.
	ErrConflict = errors.New("запись уже существует")
	// ErrNotPending — нота уже вышла из PENDENTE, условный UPDATE ничего не изменил.
	ErrNotPending = errors.New("нота не в статусе PENDENTE")
)

// SQLSTATE, которые репозитории переводят в доменные ошибки.
const (
	sqlStateUniqueViolation = "23505"
)

// DBTX — общее подмножество *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner открывает транзакцию; у pgx.Tx это savepoint.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// inTx выполняет fn в транзакции: commit при nil, rollback при ошибке или панике.
func inTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db, fn)
}

// sqlState возвращает SQLSTATE ошибки PostgreSQL или "".
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}
