// Package apperr defines the error taxonomy shared by the ledger services.
//
// Callers classify failures with errors.Is against the sentinels below; the
// constructors only add context.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfig marks malformed configuration or key material. Fatal at startup.
	ErrConfig = errors.New("configuration error")
	// ErrCrypto marks an encryption or strict-mode decryption failure.
	ErrCrypto = errors.New("crypto failure")
	// ErrValidation marks input rejected before any persistence happens.
	ErrValidation = errors.New("validation error")
	// ErrDomain marks a violated business rule.
	ErrDomain = errors.New("domain rule violation")
	// ErrNotFound marks a missing referenced entity. It always matches ErrDomain too.
	ErrNotFound = errors.New("not found")
)

func Config(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func Crypto(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCrypto, op, err)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ValidationFrom wraps an aggregated error (for example an errsx.Map) so that it
// matches ErrValidation while keeping the original value reachable.
func ValidationFrom(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func Domain(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDomain, fmt.Sprintf(format, args...))
}

func NotFound(resource string, id any) error {
	return fmt.Errorf("%w: %w: %s %v", ErrDomain, ErrNotFound, resource, id)
}

// HTTPStatus maps an error to the status code the handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrDomain):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
