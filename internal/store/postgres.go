// Package store is the persistence gateway: the Postgres mirror of
// sessions, contacts and messages plus the pairing-artifact cache.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
)

// Postgres persists canonical records. Every write is an idempotent upsert
// so at-least-once delivery from the session core is safe.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

const upsertSessionSQL = `
	INSERT INTO wa_sessions (
		account_id, session_id, phase, device_jid, phone_number, display_name,
		pairing_token, pairing_image, pairing_expires_at,
		reconnect_attempts, last_error, created_at, updated_at
	)
	VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
	ON CONFLICT (account_id) DO UPDATE SET
		session_id = EXCLUDED.session_id,
		phase = EXCLUDED.phase,
		device_jid = COALESCE(EXCLUDED.device_jid, wa_sessions.device_jid),
		phone_number = COALESCE(EXCLUDED.phone_number, wa_sessions.phone_number),
		display_name = COALESCE(EXCLUDED.display_name, wa_sessions.display_name),
		pairing_token = EXCLUDED.pairing_token,
		pairing_image = EXCLUDED.pairing_image,
		pairing_expires_at = EXCLUDED.pairing_expires_at,
		reconnect_attempts = EXCLUDED.reconnect_attempts,
		last_error = EXCLUDED.last_error,
		updated_at = EXCLUDED.updated_at`

// UpsertSessionStatus mirrors s. The pairing columns are written only
// while the session awaits pairing and are nulled otherwise.
func (p *Postgres) UpsertSessionStatus(ctx context.Context, s domain.SessionStatus) error {
	var token, image sql.NullString
	var expires sql.NullTime
	if s.Phase == domain.PhaseAwaitingPairing && s.Pairing != nil {
		token = sql.NullString{String: s.Pairing.Token, Valid: true}
		image = sql.NullString{String: s.Pairing.Image, Valid: true}
		expires = sql.NullTime{Time: s.Pairing.ExpiresAt, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, upsertSessionSQL,
		s.AccountID, s.SessionID, string(s.Phase), s.DeviceJID, s.PhoneNumber, s.DisplayName,
		token, image, expires,
		s.ReconnectAttempts, s.LastError, s.CreatedAt, s.UpdatedAt,
	)
	return persistErr("upsert session status", err)
}

// LoadRecentSessions returns non-terminated sessions updated at or after
// since, most recent first.
func (p *Postgres) LoadRecentSessions(ctx context.Context, since time.Time) ([]domain.SessionStatus, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT account_id, session_id, phase, COALESCE(device_jid, ''), COALESCE(phone_number, ''),
			COALESCE(display_name, ''), reconnect_attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM wa_sessions
		WHERE updated_at >= $1 AND phase <> $2
		ORDER BY updated_at DESC
	`, since, string(domain.PhaseTerminated))
	if err != nil {
		return nil, persistErr("load recent sessions", err)
	}
	defer rows.Close()

	var sessions []domain.SessionStatus
	for rows.Next() {
		var s domain.SessionStatus
		var phase string
		if err := rows.Scan(&s.AccountID, &s.SessionID, &phase, &s.DeviceJID, &s.PhoneNumber,
			&s.DisplayName, &s.ReconnectAttempts, &s.LastError, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, persistErr("load recent sessions", err)
		}
		s.Phase = domain.Phase(phase)
		sessions = append(sessions, s)
	}
	return sessions, persistErr("load recent sessions", rows.Err())
}

// DeviceJID returns the linked device of accountID, or "" when none is
// recorded.
func (p *Postgres) DeviceJID(ctx context.Context, accountID string) (string, error) {
	var jid string
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(device_jid, '') FROM wa_sessions WHERE account_id = $1`, accountID,
	).Scan(&jid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return jid, persistErr("lookup device", err)
}

// UpsertContact applies last-write-wins keyed on observed_at, so a
// redelivered older observation never overwrites a newer one. Empty
// fields keep the stored value.
func (p *Postgres) UpsertContact(ctx context.Context, c domain.Contact) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wa_contacts (
			account_id, chat_key, display_name, phone_number, is_group,
			unread_count, avatar_reference, observed_at, updated_at
		)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, NOW())
		ON CONFLICT (account_id, chat_key) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, wa_contacts.display_name),
			phone_number = COALESCE(EXCLUDED.phone_number, wa_contacts.phone_number),
			is_group = EXCLUDED.is_group,
			unread_count = EXCLUDED.unread_count,
			avatar_reference = COALESCE(EXCLUDED.avatar_reference, wa_contacts.avatar_reference),
			observed_at = EXCLUDED.observed_at,
			updated_at = NOW()
		WHERE wa_contacts.observed_at <= EXCLUDED.observed_at
	`, c.AccountID, c.ChatKey, c.DisplayName, c.PhoneNumber, c.IsGroup,
		c.UnreadCount, c.AvatarReference, c.ObservedAt)
	return persistErr("upsert contact", err)
}

// InsertMessage stores m once per (account, protocol message id). It
// reports false when the message was already stored.
func (p *Postgres) InsertMessage(ctx context.Context, m domain.Message) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO wa_messages (
			account_id, protocol_message_id, chat_key, sender_key, sender_name, body,
			kind, direction, delivery_status, media_reference, sent_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
		ON CONFLICT (account_id, protocol_message_id) DO NOTHING
	`, m.AccountID, m.ProtocolMessageID, m.ChatKey, m.SenderKey, m.SenderName, m.Body,
		string(m.Kind), string(m.Direction), string(m.Status), m.MediaReference, m.Timestamp)
	if err != nil {
		return false, persistErr("insert message", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("insert message", err)
	}
	return n > 0, nil
}

// PurgeExpiredPairingArtifacts nulls pairing columns whose expiry is at
// or before now and returns how many rows changed.
func (p *Postgres) PurgeExpiredPairingArtifacts(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE wa_sessions
		SET pairing_token = NULL, pairing_image = NULL, pairing_expires_at = NULL
		WHERE pairing_expires_at IS NOT NULL AND pairing_expires_at <= $1
	`, now)
	if err != nil {
		return 0, persistErr("purge pairing artifacts", err)
	}
	n, err := res.RowsAffected()
	return n, persistErr("purge pairing artifacts", err)
}
