// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxDisplayNameLen  = 36
	DefaultDisplayName = "guest"
)

var ErrDisplayNameTooLong = errors.New("display name too long")

// NormalizeDisplayName trims surrounding space and falls back to
// DefaultDisplayName for empty names.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultDisplayName, nil
	}
	if len(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}
