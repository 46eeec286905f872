package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup by natural key matches no rows
var ErrNotFound = errors.New("record not found")

// FetchError is a network or HTTP failure talking to the scoreboard feed
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("feed fetch %s failed (status=%d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed fetch %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is a malformed or inconsistent feed payload
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("invalid feed field %s=%q", e.Field, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// DuplicateKeyError means more than one row exists for a key that must be unique.
// It signals a data-integrity bug and is never swallowed.
type DuplicateKeyError struct {
	Table string
	Key   string
	Count int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("integrity violation: %d rows in %s for key %s", e.Count, e.Table, e.Key)
}

// InvalidDateError is a date component outside the feed's two-digit range
type InvalidDateError struct {
	Component string
	Value     int
}

func (e *InvalidDateError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("invalid date component %d", e.Value)
	}
	return fmt.Sprintf("invalid date: %s=%d", e.Component, e.Value)
}

// PersistenceError is a generic store failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorKind classifies an error for metrics labels
func ErrorKind(err error) string {
	var (
		fetchErr   *FetchError
		parseErr   *ParseError
		dupErr     *DuplicateKeyError
		dateErr    *InvalidDateError
		persistErr *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &dupErr):
		return "duplicate_key"
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &dateErr):
		return "invalid_date"
	case errors.As(err, &persistErr):
		return "persistence"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
