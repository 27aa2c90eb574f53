package account

import (
	"net/mail"
	"strings"
)

const (
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email is invalid")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return invalid("password is required")
	}
	if len(password) < minPasswordLen {
		return invalid("password must be at least 8 characters")
	}
	if len(password) > maxPasswordLen {
		return invalid("password must be at most 72 bytes")
	}
	return nil
}
