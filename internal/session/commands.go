package session

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/normalize"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

const reasonDisconnected = "disconnected"

// SendMessage sends a text message to a one-to-one chat and returns the
// canonical record of the sent message.
func (r *Registry) SendMessage(ctx context.Context, accountID, chatKey, body string) (domain.Message, error) {
	to, err := normalize.ParseChatKey(chatKey)
	if err != nil {
		return domain.Message{}, err
	}

	s := r.lookup(accountID)
	if s == nil || r.GetStatus(accountID).Phase != domain.PhaseConnected {
		return domain.Message{}, domain.ErrNotConnected
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	if err := s.limiter.Wait(sctx); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil || sess.status.Phase != domain.PhaseConnected || sess.handle == nil {
		return domain.Message{}, domain.ErrNotConnected
	}

	ack, err := sess.handle.Send(sctx, to, body)
	if err != nil {
		return domain.Message{}, &domain.ProtocolError{Op: "send", Err: err}
	}

	sender := ack.Sender
	if sender.IsEmpty() && sess.status.DeviceJID != "" {
		sender, _ = types.ParseJID(sess.status.DeviceJID)
	}
	timestamp := ack.Timestamp
	if timestamp.IsZero() {
		timestamp = r.clock.Now()
	}

	msg, ok := normalize.Message(accountID, protocol.RawMessage{
		ID:        ack.MessageID,
		Chat:      to,
		Sender:    sender,
		FromMe:    true,
		Timestamp: timestamp,
		Payload:   &waE2E.Message{Conversation: proto.String(body)},
	}, nil)
	if !ok {
		return domain.Message{}, &domain.ProtocolError{Op: "send", Err: errors.New("send acknowledged without a message id")}
	}

	r.storeMessage(s, msg)
	return msg, nil
}

// Disconnect logs the account out, best effort, and forgets its session.
// It succeeds for accounts without a session.
func (r *Registry) Disconnect(ctx context.Context, accountID string) error {
	s := r.lookup(accountID)
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	r.teardown(ctx, s, reasonDisconnected)
	return nil
}

// teardown logs out, persists Terminated and removes the session and its
// slot from the registry. Caller holds s.mu.
func (r *Registry) teardown(ctx context.Context, s *slot, reason string) {
	sess := s.sess
	r.stopProbe(sess)
	r.scheduler.Reset(s.accountID)

	if sess.handle != nil {
		lctx, cancel := context.WithTimeout(ctx, r.cfg.LogoutTimeout)
		if err := sess.handle.Logout(lctx); err != nil {
			log.Session(s.accountID).WithError(err).Warn("logout failed")
		}
		cancel()
	}
	r.dropHandle(sess)

	previous := sess.status.Phase
	sess.status.Phase = domain.PhaseTerminated
	sess.status.Pairing = nil
	r.commit(s)

	if previous != domain.PhaseTerminated {
		r.publish(s.accountID, events.TypeDisconnected, events.DisconnectedData{
			SessionID: sess.status.SessionID,
			Phase:     string(domain.PhaseTerminated),
			Reason:    reason,
		})
	}
	log.Session(s.accountID).WithField("reason", reason).Info("session removed")

	s.sess = nil
	s.status.Store(nil)
	r.evict(s)
}

// ForceReconnect replaces the account's connection now, cancelling any
// pending retry. A failed attempt is returned to the caller and is not
// rescheduled.
func (r *Registry) ForceReconnect(ctx context.Context, accountID string) error {
	s := r.lookup(accountID)
	if s == nil {
		return domain.ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil || sess.status.Phase == domain.PhaseTerminated {
		return domain.ErrSessionNotFound
	}

	r.stopProbe(sess)
	r.scheduler.Reset(accountID)

	if err := r.connect(ctx, s); err != nil {
		log.Session(accountID).WithError(err).Warn("forced reconnect failed")
		r.terminate(s, string(protocol.ReasonConnectFailure), err.Error())
		return err
	}

	sess.status.Phase = domain.PhaseInitializing
	sess.status.Pairing = nil
	sess.status.ReconnectAttempts = 0
	sess.status.LastError = ""
	r.commit(s)
	log.Session(accountID).Info("forced reconnect started")
	return nil
}
