package app

import (
	"errors"

	"github.com/loadline/negotiator/internal/domain"
)

var (
	// ErrNotFound is returned when a negotiation, configuration or notification does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthenticated is returned when a human action carries no caller identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUnauthorized is returned when the caller does not own the negotiation.
	ErrUnauthorized = errors.New("not authorized for this negotiation")
	// ErrInvalidInput is returned for malformed human-action arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned by NegotiationRepository.Save when the stored negotiation
	// changed since it was loaded.
	ErrConflict = errors.New("negotiation changed concurrently")

	ErrNegotiationClosed = domain.ErrNegotiationClosed
	ErrAgentNotActive    = domain.ErrAgentNotActive
)
