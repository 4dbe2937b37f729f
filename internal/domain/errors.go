// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidZone is returned when a zone profile violates the policy rules.
	ErrInvalidZone = errors.New("invalid zone profile")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrUnauthenticated is returned when a request carries no valid credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
)
