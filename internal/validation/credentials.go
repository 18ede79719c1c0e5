package validation

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Password limits. bcrypt ignores input past 72 bytes, so longer
// passwords are rejected rather than silently truncated.
const (
	MinPasswordLength = 8
	MaxPasswordBytes  = 72
)

// Credential validation errors. Their messages are shown to the user.
var (
	ErrMissingCredentials = errors.New("Please enter email and password.")
	ErrMissingFields      = errors.New("Please fill out all fields.")
	ErrInvalidEmail       = errors.New("Please enter a valid email address.")
	ErrPasswordMismatch   = errors.New("Passwords do not match. Please check and try again.")
	ErrPasswordTooShort   = fmt.Errorf("Password must be at least %d characters.", MinPasswordLength)
	ErrPasswordTooLong    = fmt.Errorf("Password must be at most %d bytes.", MaxPasswordBytes)
)

// ValidateLogin checks a sign-in form. email should already be normalized.
func ValidateLogin(email, password string) error {
	if email == "" || password == "" {
		return ErrMissingCredentials
	}
	if !IsValidEmail(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateRegistration checks a sign-up form. email should already be
// normalized.
func ValidateRegistration(email, password, confirm string) error {
	if email == "" || password == "" || confirm == "" {
		return ErrMissingFields
	}
	if !IsValidEmail(email) {
		return ErrInvalidEmail
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}
