// Package model defines the core domain types for the relay.
package model

import (
	"errors"
	"fmt"
	"time"
	"unicode"
)

const (
	MaxUsernameLength  = 32
	MaxGroupNameLength = 64
	MaxContentLength   = 2000
)

var (
	ErrUsernameEmpty        = errors.New("username must not be empty")
	ErrUsernameTooLong      = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
	ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")

	ErrGroupNameEmpty        = errors.New("group name must not be empty")
	ErrGroupNameTooLong      = fmt.Errorf("group name must not exceed %d characters", MaxGroupNameLength)
	ErrGroupNameInvalidChars = errors.New("group name must not contain control characters")

	ErrContentEmpty   = errors.New("message content must not be empty")
	ErrContentTooLong = fmt.Errorf("message content must not exceed %d characters", MaxContentLength)
)

// User represents a registered account.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Group represents a named chat group.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one stored chat message. To holds a username for direct
// messages and a group name for group messages.
type Message struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterOutcome is the result of a registration attempt.
type RegisterOutcome int

const (
	RegisterOK RegisterOutcome = iota
	RegisterDuplicate
	RegisterFailed
)

// Message returns the wire-level outcome text. The duplicate and failure
// strings are part of the protocol: clients match on them verbatim.
func (o RegisterOutcome) Message() string {
	switch o {
	case RegisterOK:
		return "Registration successful"
	case RegisterDuplicate:
		return "The user already exists"
	default:
		return "Registration error"
	}
}

// OK reports whether the outcome is a successful registration.
func (o RegisterOutcome) OK() bool {
	return o == RegisterOK
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// ValidateGroupName checks that a group name is 1-64 printable characters.
func ValidateGroupName(name string) error {
	if len(name) == 0 {
		return ErrGroupNameEmpty
	}
	if len(name) > MaxGroupNameLength {
		return ErrGroupNameTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrGroupNameInvalidChars
		}
	}
	return nil
}

// ValidateContent checks message body length bounds.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return ErrContentEmpty
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
