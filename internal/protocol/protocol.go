// Package protocol is the boundary between the session core and the
// WhatsApp protocol client. The core only sees these interfaces and the
// typed events a Handle emits; pkg/whatsapp provides the real client.
package protocol

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// Connector opens protocol connections for accounts.
type Connector interface {
	// Connect restores the account's credentials (or starts a fresh
	// device) and opens the socket. Events for the new connection are
	// delivered on the returned Handle.
	Connect(ctx context.Context, accountID string) (Handle, error)
}

// Handle is one live connection. Its event channel is closed after Close.
type Handle interface {
	Events() <-chan Event
	Send(ctx context.Context, to types.JID, body string) (SendAck, error)
	Logout(ctx context.Context) error
	// Identity reports the authenticated device, if any.
	Identity() (Identity, bool)
	Close()
}

// Identity of the linked device.
type Identity struct {
	JID         types.JID
	PhoneNumber string
	PushName    string
}

// SendAck is returned once the server accepts an outbound message.
type SendAck struct {
	MessageID string
	Timestamp time.Time
	Sender    types.JID
}

// Event is any of ConnectionUpdate, MessagesUpsert or ChatsUpsert.
type Event interface {
	isEvent()
}

type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StatePairing
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePairing:
		return "pairing"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type DisconnectReason string

const (
	ReasonConnectionLost DisconnectReason = "connection_lost"
	ReasonPairingTimeout DisconnectReason = "pairing_timeout"
	ReasonConnectFailure DisconnectReason = "connect_failure"
	ReasonLoggedOut      DisconnectReason = "logged_out"
	ReasonReplaced       DisconnectReason = "replaced"
	ReasonBanned         DisconnectReason = "banned"
)

// LoggedOut reports whether the credentials are no longer usable, so
// reconnecting cannot help.
func (r DisconnectReason) LoggedOut() bool {
	switch r {
	case ReasonLoggedOut, ReasonReplaced, ReasonBanned:
		return true
	}
	return false
}

// ConnectionUpdate reports a change of the socket or pairing state.
type ConnectionUpdate struct {
	State  ConnectionState
	Reason DisconnectReason
	Detail string

	// Set with StatePairing.
	PairingToken string
	PairingTTL   time.Duration

	// Set with StateOpen when the device identity is known.
	Identity *Identity
}

// MessagesUpsert carries messages observed on the connection.
type MessagesUpsert struct {
	Messages []RawMessage
}

// ChatsUpsert carries chat and contact metadata.
type ChatsUpsert struct {
	Chats []RawChat
}

func (ConnectionUpdate) isEvent() {}
func (MessagesUpsert) isEvent()   {}
func (ChatsUpsert) isEvent()      {}

// RawMessage is a message as the protocol client delivers it.
type RawMessage struct {
	ID        string
	Chat      types.JID
	Sender    types.JID
	FromMe    bool
	PushName  string
	Timestamp time.Time
	Payload   *waE2E.Message
}

// RawChat is chat metadata as the protocol client delivers it.
type RawChat struct {
	JID         types.JID
	Name        string
	PushName    string
	UnreadCount int
	AvatarRef   string
	ObservedAt  time.Time
}
