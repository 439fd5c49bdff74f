// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an account with the same id already exists.
	ErrConflict = errors.New("already exists")

	// ErrUnauthorized indicates failed credential verification.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnverified indicates the account has not completed email verification.
	ErrUnverified = errors.New("account not verified")

	// ErrTokenExpired indicates the verification token's expiry instant has passed.
	ErrTokenExpired = errors.New("verification token expired")

	// ErrDeliveryUncertain indicates a persistence or publish attempt failed
	// while handling an inbound message; the message may not reach its
	// recipient or the history log.
	ErrDeliveryUncertain = errors.New("delivery uncertain")
)
