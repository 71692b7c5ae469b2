package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hospital/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

var ErrNotFound = errors.New("not found")

// DuplicateError is returned by InsertUser when a unique constraint rejects the row.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already in use", e.Field)
}

// DBTX is the part of pgx shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

func OpenDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	// Parse the connection string into a pgxpool.Config
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("error parsing DSN: %w", err)
	}

	config.MaxConns = 50
	config.MinConns = 2
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test the connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// CredentialStore persists user accounts and their verification tokens. No
// operation applies its effect partially.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	InsertUser(ctx context.Context, u *models.User) (int64, error)
	UpdatePassword(ctx context.Context, id int64, hash string) (bool, error)
	SetTokenForUser(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	FindTokenByUserID(ctx context.Context, userID int64) (*models.VerificationToken, error)
	ConsumeToken(ctx context.Context, userID int64) error
	SetVerified(ctx context.Context, userID int64) error
	InTx(ctx context.Context, fn func(tx CredentialStore) error) error
}

// Store is the Postgres-backed credential store.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const userColumns = "id, username, email, password, password_kind, email_status, created_at"

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.PasswordKind, &u.EmailStatus, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	stmt := "SELECT " + userColumns + " FROM users WHERE lower(username) = lower($1);"
	return scanUser(s.db.QueryRow(ctx, stmt, username))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	stmt := "SELECT " + userColumns + " FROM users WHERE email = $1;"
	return scanUser(s.db.QueryRow(ctx, stmt, email))
}

func (s *Store) FindByID(ctx context.Context, id int64) (*models.User, error) {
	stmt := "SELECT " + userColumns + " FROM users WHERE id = $1;"
	return scanUser(s.db.QueryRow(ctx, stmt, id))
}

// InsertUser creates the row and returns its id. The unique indexes on lower(username)
// and email are the authoritative duplicate check.
func (s *Store) InsertUser(ctx context.Context, u *models.User) (int64, error) {
	stmt := `INSERT INTO users (username, email, password, password_kind, email_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;`

	var id int64
	err := s.db.QueryRow(ctx, stmt, u.Username, u.Email, u.Password, u.PasswordKind, u.EmailStatus).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return 0, &DuplicateError{Field: "email"}
			case "users_username_key", "users_username_lower_key":
				return 0, &DuplicateError{Field: "username"}
			}
			return 0, &DuplicateError{Field: "account"}
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// UpdatePassword replaces a legacy plaintext password with a bcrypt hash. Rows that
// were already upgraded are left alone; the returned bool reports whether a row changed.
func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string) (bool, error) {
	stmt := `UPDATE users SET password = $1, password_kind = $2
		WHERE id = $3 AND password_kind = $4;`

	tag, err := s.db.Exec(ctx, stmt, hash, models.PasswordBcrypt, id, models.PasswordPlaintext)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetTokenForUser(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	stmt := `INSERT INTO verification_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at,
			consumed_at = NULL, created_at = NOW();`

	if _, err := s.db.Exec(ctx, stmt, userID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) FindTokenByUserID(ctx context.Context, userID int64) (*models.VerificationToken, error) {
	stmt := `SELECT user_id, token_hash, expires_at, consumed_at, created_at
		FROM verification_tokens WHERE user_id = $1;`

	t := &models.VerificationToken{}
	err := s.db.QueryRow(ctx, stmt, userID).Scan(&t.UserID, &t.TokenHash, &t.ExpiresAt, &t.ConsumedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (s *Store) ConsumeToken(ctx context.Context, userID int64) error {
	stmt := "UPDATE verification_tokens SET consumed_at = NOW() WHERE user_id = $1 AND consumed_at IS NULL;"
	if _, err := s.db.Exec(ctx, stmt, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) SetVerified(ctx context.Context, userID int64) error {
	stmt := "UPDATE users SET email_status = $1 WHERE id = $2;"
	tag, err := s.db.Exec(ctx, stmt, models.EmailVerified, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InTx runs fn against a store bound to a single transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx CredentialStore) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(NewStore(tx))
	})
}
