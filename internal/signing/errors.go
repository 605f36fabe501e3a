package signing

import (
	"errors"
	"fmt"
)

// AuthCode classifies an authentication failure.
type AuthCode string

const (
	CodeMalformedHeader      AuthCode = "MALFORMED_HEADER"
	CodeSignatureExpired     AuthCode = "SIGNATURE_EXPIRED"
	CodeUnsupportedAlgorithm AuthCode = "UNSUPPORTED_ALGORITHM"
	CodeKeyNotFound          AuthCode = "KEY_NOT_FOUND"
	CodeSignatureInvalid     AuthCode = "SIGNATURE_INVALID"
)

// AuthError rejects a request at the boundary. It is never retried.
type AuthError struct {
	Code    AuthCode
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

func newAuthError(code AuthCode, msg string, err error) *AuthError {
	return &AuthError{Code: code, Message: msg, Err: err}
}

// AsAuthError extracts an AuthError from err.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
