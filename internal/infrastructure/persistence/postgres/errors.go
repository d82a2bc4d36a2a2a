package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// SQLSTATE codes that are safe to retry as a whole transaction.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// translateError maps driver errors to domain error kinds. Domain errors
// pass through untouched, unknown errors are wrapped with the operation name.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTransient(err) {
		return shared.WrapError("postgres", op, shared.ErrStoreUnavailable, "store unavailable", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return shared.WrapError("postgres", op, shared.ErrAlreadyExists, "duplicate key", err)
	}

	return fmt.Errorf("postgres: %s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, ErrConnectionClosed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeTooManyConnections,
			codeAdminShutdown, codeCannotConnectNow:
			return true
		}
		// Class 08: connection exception
		return strings.HasPrefix(pgErr.Code, "08")
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
