package postgres

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// SQLSTATE classes treated as transient: 08 connection exceptions,
// 40001/40P01 serialization and deadlock, 57 operator intervention
// (includes statement timeout).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		case strings.HasPrefix(pgErr.Code, "57"):
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// pgError tags transient failures with domain.ErrTransient so callers
// can decide on a local retry without importing pg internals.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}
