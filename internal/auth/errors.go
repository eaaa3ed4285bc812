package auth

import "fmt"

// Error codes reported by the auth service.
const (
	CodeWrongPassword     = "auth/wrong-password"
	CodeUserNotFound      = "auth/user-not-found"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeEmailAlreadyInUse = "auth/email-already-in-use"
	CodeWeakPassword      = "auth/weak-password"
	CodeInvalidToken      = "auth/invalid-token"
	CodeTooManyRequests   = "auth/too-many-requests"
)

// Error is a coded auth failure. Two Errors match under errors.Is when
// their codes are equal.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrWrongPassword   = &Error{Code: CodeWrongPassword, Message: "The password is invalid."}
	ErrUserNotFound    = &Error{Code: CodeUserNotFound, Message: "There is no user record corresponding to this identifier."}
	ErrInvalidEmail    = &Error{Code: CodeInvalidEmail, Message: "The email address is badly formatted."}
	ErrEmailInUse      = &Error{Code: CodeEmailAlreadyInUse, Message: "The email address is already in use by another account."}
	ErrWeakPassword    = &Error{Code: CodeWeakPassword, Message: "Password should be at least 6 characters."}
	ErrInvalidToken    = &Error{Code: CodeInvalidToken, Message: "The session token is invalid or has expired."}
	ErrTooManyRequests = &Error{Code: CodeTooManyRequests, Message: "Too many attempts. Try again later."}
)
