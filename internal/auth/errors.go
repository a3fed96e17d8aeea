package auth

import "errors"

// ErrInvalidToken is returned when a bearer token fails signature, expiry, or subject validation.
var ErrInvalidToken = errors.New("invalid or expired token")
