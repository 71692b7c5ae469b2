package utils

import (
	"errors"
	"fmt"
	netmail "net/mail"
	"regexp"
	"strings"
)

// PasswordSymbols is the fixed set a password must draw at least one symbol from.
const PasswordSymbols = "@$!%*?&"

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	uppercase       = regexp.MustCompile(`[A-Z]`)
	lowercase       = regexp.MustCompile(`[a-z]`)
	digit           = regexp.MustCompile(`\d`)
	specialChar     = regexp.MustCompile(`[` + regexp.QuoteMeta(PasswordSymbols) + `]`)
)

func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("Username is required")
	}
	if len(username) < 3 {
		return errors.New("Username must be at least 3 characters long")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("Username can only contain letters, numbers and underscore")
	}
	return nil
}

// ValidateEmail accepts a bare address only; display names and angle brackets are rejected.
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("Email is required")
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != strings.TrimSpace(email) {
		return errors.New("Valid Email required")
	}
	if _, domain, _ := strings.Cut(addr.Address, "@"); !strings.Contains(domain, ".") {
		return errors.New("Valid Email required")
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address so lookups and the unique index
// see one spelling.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidatePassword(password string) error {
	if password == "" {
		return errors.New("Password is required")
	}
	// Ensure password length is at least 8 characters
	if len(password) < 8 {
		return fmt.Errorf("Password must be at least 8 characters long")
	}
	// bcrypt only reads the first 72 bytes
	if len(password) > 72 {
		return fmt.Errorf("Password must be at most 72 bytes long")
	}

	if !uppercase.MatchString(password) || !lowercase.MatchString(password) ||
		!digit.MatchString(password) || !specialChar.MatchString(password) {
		return fmt.Errorf("Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character (%s)", PasswordSymbols)
	}

	return nil
}
