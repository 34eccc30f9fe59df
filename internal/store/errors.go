package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a student roll number is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned by operations that need an existing row.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable wraps every backend I/O failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalid is returned for empty keys and malformed input.
	ErrInvalid = errors.New("invalid argument")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// unavailable tags a backend failure as ErrStorageUnavailable unless it already
// carries one of the store's own errors.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalid) || errors.Is(err, ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func invalid(op, msg string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrInvalid, msg)
}
