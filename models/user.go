package models

import "time"

type PasswordKind string

const (
	PasswordPlaintext PasswordKind = "plaintext"
	PasswordBcrypt    PasswordKind = "bcrypt"
)

type EmailStatus string

const (
	EmailNotVerified EmailStatus = "not_verified"
	EmailVerified    EmailStatus = "verified"
)

type User struct {
	ID           int64        `db:"id"`
	Username     string       `db:"username"`
	Email        string       `db:"email"`
	Password     string       `db:"password"`
	PasswordKind PasswordKind `db:"password_kind"`
	EmailStatus  EmailStatus  `db:"email_status"`
	CreatedAt    time.Time    `db:"created_at"`
}

// IsVerified reports whether the account finished email verification.
func (u *User) IsVerified() bool {
	return u.EmailStatus == EmailVerified
}
