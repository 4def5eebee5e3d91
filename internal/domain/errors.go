package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotLoggedIn         = errors.New("session has no token")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrRetriesExhausted    = errors.New("reconnect retries exhausted")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrLockHeld            = errors.New("lock held by another owner")
)

// DomainError is a server-side rejection reported with status "ERROR" in an
// otherwise successful HTTP response.
type DomainError struct {
	Op          string
	Message     string
	Description string
}

func (e *DomainError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// AuthError is a non-2xx answer to a login or logout request.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed (HTTP %d): %s", e.StatusCode, e.Body)
}

// Is reports AuthError as ErrUnauthorized.
func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// DecodeError wraps a malformed JSON payload or frame.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Op, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError wraps connection, DNS and TLS failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
