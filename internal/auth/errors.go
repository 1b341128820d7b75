package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrForbidden     = errors.New("auth: forbidden")
	ErrReservedEmail = errors.New("auth: email is reserved")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrTokenTampered = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	ErrLocked        = errors.New("auth: account locked")
	ErrRejected      = errors.New("auth: invalid credentials")
)

// LockedError reports an account that cannot sign in until Until.
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked, try again in %d minute(s)", e.RemainingMinutes)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// RejectedError reports failed credentials and how many attempts remain
// before the account locks.
type RejectedError struct {
	RemainingAttempts int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("auth: invalid credentials, %d attempt(s) remaining", e.RemainingAttempts)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// ValidationError lists the offending input fields.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "auth: invalid input: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}
