package backend

import "errors"

// Error kinds surfaced across the auth and document store boundary.
// Implementations wrap these so callers can classify with errors.Is.
var (
	ErrNotFound      = errors.New("document not found")
	ErrEmailInUse    = errors.New("email already in use")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrWeakPassword  = errors.New("password is too weak")
	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrUserDisabled  = errors.New("account has been disabled")
	ErrNotSignedIn   = errors.New("not signed in")
)
