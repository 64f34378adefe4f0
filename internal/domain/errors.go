package domain

import "errors"

var (
	ErrValidation            = errors.New("validation failed")
	ErrChallengeExpired      = errors.New("challenge expired")
	ErrChallengeInvalid      = errors.New("challenge invalid")
	ErrContentChanged        = errors.New("content changed since challenge was issued")
	ErrAuthentication        = errors.New("authentication failed")
	ErrTimeSourceUnavailable = errors.New("no trusted time source available")
	ErrHash                  = errors.New("content not canonicalizable")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRateLimited           = errors.New("rate limited")
	ErrSignatureInvalidated  = errors.New("signature already invalidated")
)
