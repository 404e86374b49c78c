// Package validate provides centralized input validation for the audit
// pipeline API: identifier charsets and webhook URL safety checks.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Identifier validation errors
var (
	ErrEmpty             = errors.New("value is empty")
	ErrTooLong           = errors.New("value is too long")
	ErrInvalidCharacters = errors.New("value contains invalid characters")
)

// MaxIdentifierLength bounds tenant and entity identifiers.
const MaxIdentifierLength = 128

// identifierPattern matches the safe identifier charset. Identifiers
// end up in Redis keys and object storage paths, so path separators
// and whitespace are rejected outright.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Identifier validates a tenant, user, or entity identifier.
// Returns the trimmed identifier.
func Identifier(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if len(s) > MaxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrTooLong, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(s) {
		return "", ErrInvalidCharacters
	}
	return s, nil
}
