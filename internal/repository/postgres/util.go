package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// unavailable tags err with the given sentinel so callers can map it to a
// retryable infrastructure failure without inspecting driver errors.
func unavailable(sentinel error, op string, err error) error {
	return fmt.Errorf("%w: %s: %v", sentinel, op, err)
}
