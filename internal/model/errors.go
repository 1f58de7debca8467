package model

import (
	"errors"
)

var (
	// ErrUnauthorized is returned when a token is missing or not yet authenticated.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownToken is returned when a token id was never issued or has expired.
	ErrUnknownToken = errors.New("unknown token")

	// ErrAlreadyAuthenticated is returned when a token bound to one login is
	// presented again for a different login.
	ErrAlreadyAuthenticated = errors.New("token is bound to another identity")

	// ErrNotLockHolder is returned when a lock is released by a token that does not hold it.
	ErrNotLockHolder = errors.New("not the lock holder")

	// ErrLockRequired is returned when a file is written without holding its lock.
	ErrLockRequired = errors.New("lock required")

	// ErrDuplicateRepository is returned when a repository slug is already taken.
	ErrDuplicateRepository = errors.New("repository already exists")

	// ErrRepositoryNotFound is returned when a slug does not name a known repository.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrInvalidName is returned for empty or malformed logins, repository names and paths.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidMarker is returned when a poll request carries a marker that is not an integer.
	ErrInvalidMarker = errors.New("invalid change marker")

	// ErrContentTooLarge is returned when a request body exceeds the configured limit.
	ErrContentTooLarge = errors.New("content too large")
)
