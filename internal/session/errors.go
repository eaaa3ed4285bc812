package session

import (
	"errors"

	"github.com/vcmarket/apiserver/internal/auth"
)

var (
	// ErrBusy is returned while another sign-in or registration for the same
	// controller or email is in flight.
	ErrBusy = errors.New("session: request already in progress")

	ErrEmptyInput    = errors.New("session: username or email required")
	ErrWrongPassword = errors.New("session: wrong password")
	ErrUserNotFound  = errors.New("session: user not found")
	ErrInvalidEmail  = errors.New("session: invalid email or username")
	ErrNotSignedIn   = errors.New("session: not signed in")
	ErrBanned        = errors.New("session: account banned")
)

// AuthError carries an unrecognised auth backend failure.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// mapAuthError folds provider failures into the session taxonomy.
func mapAuthError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrWrongPassword):
		return ErrWrongPassword
	case errors.Is(err, auth.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, auth.ErrInvalidEmail):
		return ErrInvalidEmail
	}
	var coded *auth.Error
	if errors.As(err, &coded) {
		return &AuthError{Code: coded.Code, Message: coded.Message}
	}
	return &AuthError{Message: err.Error()}
}

// Message returns the toast text for a session error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrWrongPassword):
		return "Invalid Password."
	case errors.Is(err, ErrUserNotFound):
		return "User not found."
	case errors.Is(err, ErrInvalidEmail):
		return "Invalid email or username format."
	case errors.Is(err, ErrEmptyInput):
		return "Please enter a username or email."
	case errors.Is(err, ErrBusy):
		return "Please wait..."
	case errors.Is(err, ErrBanned):
		return "You have been banned."
	case errors.Is(err, ErrNotSignedIn):
		return "Please log in."
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Something went wrong."
}
