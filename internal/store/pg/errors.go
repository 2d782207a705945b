package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
)

// mapErr traduce errores de pgx a los sentinels del dominio.
// 23505 (unique) y 23503 (fk) son conflictos; timeouts y caídas de conexión
// son transitorios (el scheduler reintenta en el próximo tick).
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503":
			return repository.ErrConflict
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return repository.ErrUnavailable
	}
	return err
}
