package wire

import (
	"errors"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

// Stable error codes carried across the HTTP and websocket boundary.
const (
	CodeEmailInUse    = "email_in_use"
	CodeInvalidEmail  = "invalid_email"
	CodeWeakPassword  = "weak_password"
	CodeUserNotFound  = "user_not_found"
	CodeWrongPassword = "wrong_password"
	CodeUserDisabled  = "user_disabled"
	CodeNotFound      = "not_found"
	CodeUnknown       = "unknown"
)

var errToCode = map[error]string{
	backend.ErrEmailInUse:    CodeEmailInUse,
	backend.ErrInvalidEmail:  CodeInvalidEmail,
	backend.ErrWeakPassword:  CodeWeakPassword,
	backend.ErrUserNotFound:  CodeUserNotFound,
	backend.ErrWrongPassword: CodeWrongPassword,
	backend.ErrUserDisabled:  CodeUserDisabled,
	backend.ErrNotFound:      CodeNotFound,
}

var codeToErr = map[string]error{
	CodeEmailInUse:    backend.ErrEmailInUse,
	CodeInvalidEmail:  backend.ErrInvalidEmail,
	CodeWeakPassword:  backend.ErrWeakPassword,
	CodeUserNotFound:  backend.ErrUserNotFound,
	CodeWrongPassword: backend.ErrWrongPassword,
	CodeUserDisabled:  backend.ErrUserDisabled,
	CodeNotFound:      backend.ErrNotFound,
}

// ErrorCode maps a backend error to its wire code.
func ErrorCode(err error) string {
	for e, code := range errToCode {
		if errors.Is(err, e) {
			return code
		}
	}
	return CodeUnknown
}

// ErrorFromCode maps a wire code back to its backend sentinel, or nil
// for unknown codes.
func ErrorFromCode(code string) error {
	return codeToErr[code]
}
