// Package domain holds the canonical records exchanged between the
// session core, the persistence gateway and the event publishers.
package domain

import "time"

// Phase is the connection lifecycle phase of one account session.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseInitializing    Phase = "initializing"
	PhaseAwaitingPairing Phase = "awaiting_pairing"
	PhaseConnected       Phase = "connected"
	PhaseReconnecting    Phase = "reconnecting"
	PhaseTerminated      Phase = "terminated"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseIdle,
	PhaseInitializing,
	PhaseAwaitingPairing,
	PhaseConnected,
	PhaseReconnecting,
	PhaseTerminated,
}

// Active reports whether a session in this phase owns, or is about to
// own, a live protocol connection.
func (p Phase) Active() bool {
	switch p {
	case PhaseInitializing, PhaseAwaitingPairing, PhaseConnected, PhaseReconnecting:
		return true
	}
	return false
}

func (p Phase) String() string {
	return string(p)
}

// PairingArtifact is the short-lived token a user scans to link the
// account, plus its rendered image.
type PairingArtifact struct {
	Token     string    `json:"token"`
	Image     string    `json:"image"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the artifact can no longer be used at now.
func (a *PairingArtifact) Expired(now time.Time) bool {
	return a == nil || !now.Before(a.ExpiresAt)
}

// SessionStatus is the durable mirror and the query snapshot of a
// session.
type SessionStatus struct {
	AccountID         string           `json:"account_id"`
	SessionID         string           `json:"session_id"`
	Phase             Phase            `json:"phase"`
	DeviceJID         string           `json:"-"`
	PhoneNumber       string           `json:"phone_number,omitempty"`
	DisplayName       string           `json:"display_name,omitempty"`
	Pairing           *PairingArtifact `json:"-"`
	ReconnectAttempts int              `json:"reconnect_attempts"`
	LastError         string           `json:"last_error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// MessageKind classifies the payload of a canonical message.
type MessageKind string

const (
	KindText         MessageKind = "text"
	KindImage        MessageKind = "image"
	KindVideo        MessageKind = "video"
	KindAudio        MessageKind = "audio"
	KindDocument     MessageKind = "document"
	KindSticker      MessageKind = "sticker"
	KindContact      MessageKind = "contact"
	KindLocation     MessageKind = "location"
	KindLiveLocation MessageKind = "live_location"
	KindPoll         MessageKind = "poll"
	KindUnknown      MessageKind = "unknown"
)

// HasMedia reports whether messages of this kind carry a media reference.
func (k MessageKind) HasMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	}
	return false
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type DeliveryStatus string

const (
	DeliverySent     DeliveryStatus = "sent"
	DeliveryReceived DeliveryStatus = "received"
)

// OwnSenderLabel is the display name of messages sent by the account itself.
const OwnSenderLabel = "Me"

// UnsupportedBody is the body given to messages whose payload type is
// not recognised.
const UnsupportedBody = "[unsupported message]"

// Message is the canonical form of a one-to-one chat message.
type Message struct {
	AccountID         string         `json:"account_id"`
	ProtocolMessageID string         `json:"protocol_message_id"`
	ChatKey           string         `json:"chat_key"`
	SenderKey         string         `json:"sender_key"`
	SenderName        string         `json:"sender_name"`
	Body              string         `json:"body"`
	Kind              MessageKind    `json:"kind"`
	Direction         Direction      `json:"direction"`
	Status            DeliveryStatus `json:"status"`
	MediaReference    string         `json:"media_reference,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Contact is the canonical form of a chat counterpart.
type Contact struct {
	AccountID       string    `json:"account_id"`
	ChatKey         string    `json:"chat_key"`
	DisplayName     string    `json:"display_name,omitempty"`
	PhoneNumber     string    `json:"phone_number,omitempty"`
	IsGroup         bool      `json:"is_group"`
	UnreadCount     int       `json:"unread_count"`
	AvatarReference string    `json:"avatar_reference,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
}

// Stats summarises the registry.
type Stats struct {
	Total     int           `json:"total_sessions"`
	Connected int           `json:"connected_sessions"`
	ByPhase   map[Phase]int `json:"by_phase"`
}
