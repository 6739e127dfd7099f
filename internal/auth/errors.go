package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalidInput    = errors.New("auth: invalid input")

	// ErrInvalidToken and ErrTokenExpired are distinguished so the audit trail
	// can record which failure occurred. Handlers surface both with the same
	// opaque message.
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")

	errMissingSecret = errors.New("auth: signing secret is not configured")
)
