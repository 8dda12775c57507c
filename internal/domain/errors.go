package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by commands that need a live connection.
	ErrNotConnected = errors.New("session is not connected")
	// ErrNotAvailable is returned when no valid pairing artifact exists.
	ErrNotAvailable = errors.New("pairing artifact not available")
	// ErrReconnectBudgetExhausted marks a session terminated after too
	// many failed reconnect attempts.
	ErrReconnectBudgetExhausted = errors.New("reconnect budget exhausted")
	// ErrSessionNotFound is returned for commands on unknown accounts.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidChatKey rejects chat keys that are not one-to-one chats.
	ErrInvalidChatKey = errors.New("chat key must address a one-to-one chat")
	// ErrRateLimited is returned when the per-account send budget cannot
	// admit a message before the send deadline.
	ErrRateLimited = errors.New("send rate limit exceeded")
)

// ProtocolError wraps a failure reported by the protocol client.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failure reported by the persistence gateway.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
