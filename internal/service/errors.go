package service

import "errors"

// Authentication failures are sentinels so callers can branch with
// errors.Is. Anything not wrapped in one of these is an internal failure
// (store unreachable and the like) and means "the system is broken", not
// "you are not authenticated".
var (
	// ErrInvalidCredential covers malformed, unverifiable and
	// inactive-identity access credentials. Never worth retrying.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrExpiredCredential is surfaced distinctly so callers can attempt
	// a refresh before forcing re-authentication.
	ErrExpiredCredential = errors.New("credential expired")
	// ErrProviderUnavailable is transient; callers may retry with backoff.
	// It must never be conflated with ErrInvalidCredential.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	ErrRefreshInvalid = errors.New("refresh token invalid")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshRevoked = errors.New("refresh token revoked")
)
