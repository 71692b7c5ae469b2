package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hospital/models"
)

// InvalidCredentialsMessage is shown for both unknown users and wrong passwords.
const InvalidCredentialsMessage = "Invalid credentials. Please try again."

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrVerificationFailed = errors.New("verification failed")
)

// ValidationError lists every rejected field of a form.
type ValidationError struct {
	Fields []models.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field string, err error) {
	if err != nil {
		e.Fields = append(e.Fields, models.FieldError{Field: field, Message: err.Error()})
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ConflictError reports that the username or email already belongs to an account.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return e.Field + " already registered"
}

// Message is the text rendered next to the form.
func (e *ConflictError) Message() string {
	if e.Field == "username" {
		return "Username already taken. Please choose a different username."
	}
	return "Email already registered. Please use a different email."
}

type RateLimitError struct {
	RetryAfter time.Duration
	// Attempts names what was throttled; empty means login attempts.
	Attempts string
}

func (e *RateLimitError) attempts() string {
	if e.Attempts == "" {
		return "login attempts"
	}
	return e.Attempts
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many %s, retry after %s", e.attempts(), e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Message() string {
	minutes := int(e.RetryAfter.Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Too many %s, please try again after %d minutes", e.attempts(), minutes)
}

// DeliveryError wraps a failed verification mail. The account it belongs to exists.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "verification email not delivered: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
