// Package domain holds the relay entities and their validation rules:
// display names, chat text and negotiation kinds.
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxDisplayNameLen  = 36
	DefaultDisplayName = "guest"
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

// User is the chat identity attached to a connection. The authentication
// collaborator owns the real profile; here the name is an opaque label.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, displayName string) (*User, error) {
	name, err := NormalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	return &User{ID: id, DisplayName: name}, nil
}

func (u *User) SetDisplayName(displayName string) error {
	name, err := NormalizeDisplayName(displayName)
	if err != nil {
		return err
	}
	u.DisplayName = name
	return nil
}

// NormalizeDisplayName trims surrounding space and checks the length in runes.
func NormalizeDisplayName(displayName string) (string, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "", ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}
