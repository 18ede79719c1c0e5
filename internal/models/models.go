package models

import "time"

// UserStatus represents the status of a user account
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// User represents an Unwatch account (email + password identity)
type User struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Name      *string    `json:"name,omitempty"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// WebSession represents a signed-in device. The ID doubles as the bearer token.
type WebSession struct {
	ID         string     `json:"-"`
	UserID     int64      `json:"user_id"`
	UserEmail  string     `json:"user_email"`
	UserStatus UserStatus `json:"user_status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// FocusSession is a stored focus session record.
// FocusMinutes and TotalMinutes override the raw duration when set.
type FocusSession struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"-"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	FocusMinutes *int      `json:"focus_minutes,omitempty"`
	TotalMinutes *int      `json:"total_minutes,omitempty"`
	BlockType    *string   `json:"block_type,omitempty"`
	Name         *string   `json:"name,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	Mood         *string   `json:"mood,omitempty"`
	Category     *string   `json:"category,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewFocusSession is the write payload for a focus session
type NewFocusSession struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	FocusMinutes *int      `json:"focus_minutes,omitempty"`
	TotalMinutes *int      `json:"total_minutes,omitempty"`
	BlockType    *string   `json:"block_type,omitempty"`
	Name         *string   `json:"name,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	Mood         *string   `json:"mood,omitempty"`
	Category     *string   `json:"category,omitempty"`
}

// Block is a recurring focus window. StartTime and EndTime are "HH:MM".
type Block struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Apps        []string  `json:"apps"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewBlock is the write payload for a focus block
type NewBlock struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Apps        []string `json:"apps,omitempty"`
}
