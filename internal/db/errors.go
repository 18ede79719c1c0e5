package db

import "errors"

// Sentinel errors for type-safe error checking
// Use errors.Is() instead of string comparison
var (
	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("an account with this email already exists")

	// Web session errors
	ErrSessionNotFound = errors.New("session not found or expired")

	// Focus session errors
	ErrFocusSessionNotFound = errors.New("focus session not found")

	// Block errors
	ErrBlockNotFound = errors.New("block not found")
)
