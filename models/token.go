package models

import "time"

// VerificationToken is the stored half of an email verification token. Only the
// SHA-256 digest of the mailed token is kept.
type VerificationToken struct {
	UserID     int64      `db:"user_id"`
	TokenHash  string     `db:"token_hash"`
	ExpiresAt  time.Time  `db:"expires_at"`
	ConsumedAt *time.Time `db:"consumed_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (t *VerificationToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// Expired reports whether the token can no longer be used at now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
