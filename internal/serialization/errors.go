package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrInvalidToken = errors.New("token must be non-empty and contain no whitespace")
	ErrBadSizeByte  = errors.New("unexpected size byte for basic type")
	ErrBadBool      = errors.New("expected 'T' or 'F' for boolean")
	ErrClosed       = errors.New("stream is closed")
)

// TokenError reports a token that did not match what the reader expected.
type TokenError struct {
	Expected string
	Got      string
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	return fmt.Sprintf("expected token %q, got %q", e.Expected, e.Got)
}
