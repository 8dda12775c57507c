// Package events defines what the session core publishes to the outside
// world and the fan-out used to deliver it.
package events

import "time"

type Type string

const (
	TypeQR           Type = "qr"
	TypeConnected    Type = "connected"
	TypeDisconnected Type = "disconnected"
	TypeMessage      Type = "message"
	TypeContact      Type = "contact"
)

// Envelope is the JSON body every publisher delivers.
type Envelope struct {
	Type      Type      `json:"event_type"`
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher delivers envelopes fire-and-forget. Implementations must not
// block the caller on slow consumers.
type Publisher interface {
	Publish(e Envelope)
}

// QRData is the payload of TypeQR.
type QRData struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	Image     string    `json:"image"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConnectedData is the payload of TypeConnected.
type ConnectedData struct {
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// DisconnectedData is the payload of TypeDisconnected.
type DisconnectedData struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Reason    string `json:"reason"`
}

// Multi fans an envelope out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(e Envelope) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Publish(Envelope) {}
