package session

import (
	"context"
	"errors"
	"time"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/normalize"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

const reasonBudgetExhausted = "reconnect_budget_exhausted"

// run drains one handle's events in order until the handle is closed.
func (r *Registry) run(s *slot, gen uint64, h protocol.Handle) {
	defer r.wg.Done()
	for evt := range h.Events() {
		r.dispatch(s, gen, evt)
	}
}

func (r *Registry) dispatch(s *slot, gen uint64, evt protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil || sess.gen != gen || sess.handle == nil {
		return
	}

	switch e := evt.(type) {
	case protocol.ConnectionUpdate:
		switch e.State {
		case protocol.StatePairing:
			r.enterAwaitingPairing(s, e.PairingToken, e.PairingTTL)
		case protocol.StateOpen:
			r.enterConnected(s, e.Identity)
		case protocol.StateClosed:
			r.closed(s, e.Reason, e.Detail)
		}
	case protocol.MessagesUpsert:
		for _, raw := range e.Messages {
			r.ingestMessage(s, raw)
		}
	case protocol.ChatsUpsert:
		for _, raw := range e.Chats {
			r.ingestContact(s, raw)
		}
	}
}

func (r *Registry) enterAwaitingPairing(s *slot, token string, ttl time.Duration) {
	sess := s.sess
	switch sess.status.Phase {
	case domain.PhaseInitializing, domain.PhaseAwaitingPairing:
	default:
		return
	}
	if token == "" {
		return
	}
	if ttl <= 0 || ttl > r.cfg.PairingTTL {
		ttl = r.cfg.PairingTTL
	}

	artifact := domain.PairingArtifact{
		Token:     token,
		ExpiresAt: r.clock.Now().Add(ttl),
	}
	if r.cfg.RenderPairing != nil {
		image, err := r.cfg.RenderPairing(token)
		if err != nil {
			log.Session(s.accountID).WithError(err).Warn("render pairing artifact failed")
		}
		artifact.Image = image
	}

	sess.status.Phase = domain.PhaseAwaitingPairing
	sess.status.Pairing = &artifact
	r.commit(s)

	log.Session(s.accountID).WithField("expires_at", artifact.ExpiresAt).Info("waiting for pairing")
	r.publish(s.accountID, events.TypeQR, events.QRData{
		SessionID: sess.status.SessionID,
		Token:     artifact.Token,
		Image:     artifact.Image,
		ExpiresAt: artifact.ExpiresAt,
	})
}

func (r *Registry) enterConnected(s *slot, id *protocol.Identity) {
	sess := s.sess
	if sess.status.Phase == domain.PhaseTerminated {
		return
	}
	already := sess.status.Phase == domain.PhaseConnected
	if already && id == nil {
		return
	}

	r.stopProbe(sess)
	r.scheduler.Reset(s.accountID)

	sess.status.Phase = domain.PhaseConnected
	sess.status.Pairing = nil
	sess.status.ReconnectAttempts = 0
	sess.status.LastError = ""
	if id != nil {
		sess.status.DeviceJID = id.JID.String()
		if id.PhoneNumber != "" {
			sess.status.PhoneNumber = id.PhoneNumber
		}
		if id.PushName != "" {
			sess.status.DisplayName = id.PushName
		}
	}
	r.commit(s)

	if already {
		return
	}
	log.Session(s.accountID).WithField("phone", log.MaskJID(sess.status.PhoneNumber)).Info("session connected")
	r.publish(s.accountID, events.TypeConnected, events.ConnectedData{
		SessionID:   sess.status.SessionID,
		PhoneNumber: sess.status.PhoneNumber,
		DisplayName: sess.status.DisplayName,
	})
}

func (r *Registry) closed(s *slot, reason protocol.DisconnectReason, detail string) {
	sess := s.sess
	if sess.status.Phase == domain.PhaseTerminated || sess.status.Phase == domain.PhaseReconnecting {
		return
	}
	if reason.LoggedOut() {
		r.terminate(s, string(reason), detail)
		return
	}

	r.release(sess)
	r.scheduleRetry(s, string(reason), detail)
}

// scheduleRetry moves the session to Reconnecting with the next attempt
// armed, or terminates it once the attempt budget is spent.
func (r *Registry) scheduleRetry(s *slot, reason, detail string) {
	sess := s.sess
	attempt, err := r.scheduler.Schedule(s.accountID, func(token uint64) {
		r.retry(s, token)
	})
	if errors.Is(err, domain.ErrReconnectBudgetExhausted) {
		r.terminate(s, reasonBudgetExhausted, err.Error())
		return
	}

	sess.status.Phase = domain.PhaseReconnecting
	sess.status.Pairing = nil
	sess.status.ReconnectAttempts = attempt.Number
	sess.status.LastError = lastError(reason, detail)
	r.commit(s)

	log.Session(s.accountID).WithFields(map[string]interface{}{
		"reason":  reason,
		"attempt": attempt.Number,
		"delay":   attempt.Delay.String(),
	}).Warn("session disconnected, reconnect scheduled")
	r.publish(s.accountID, events.TypeDisconnected, events.DisconnectedData{
		SessionID: sess.status.SessionID,
		Phase:     string(domain.PhaseReconnecting),
		Reason:    reason,
	})
}

func (r *Registry) retry(s *slot, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil || sess.status.Phase != domain.PhaseReconnecting || !r.scheduler.Current(s.accountID, token) {
		return
	}

	if err := r.connect(context.Background(), s); err != nil {
		log.Session(s.accountID).WithError(err).Warn("reconnect attempt failed")
		r.scheduleRetry(s, string(protocol.ReasonConnectFailure), err.Error())
		return
	}

	sess.status.Phase = domain.PhaseInitializing
	r.commit(s)
}

// terminate leaves the session Terminated in the registry so status
// queries can still report why.
func (r *Registry) terminate(s *slot, reason, detail string) {
	sess := s.sess
	r.release(sess)
	r.scheduler.Reset(s.accountID)

	sess.status.Phase = domain.PhaseTerminated
	sess.status.Pairing = nil
	sess.status.LastError = lastError(reason, detail)
	r.commit(s)

	log.Session(s.accountID).WithField("reason", reason).Warn("session terminated")
	r.publish(s.accountID, events.TypeDisconnected, events.DisconnectedData{
		SessionID: sess.status.SessionID,
		Phase:     string(domain.PhaseTerminated),
		Reason:    reason,
	})
}

func (r *Registry) startProbe(s *slot) {
	sess := s.sess
	r.stopProbe(sess)
	if r.cfg.ProbeInterval <= 0 {
		return
	}
	gen := sess.gen
	sess.probe = r.clock.AfterFunc(r.cfg.ProbeInterval, func() { r.probe(s, gen) })
}

// probe promotes the session to Connected when the handle reports an
// identity even though no open event arrived.
func (r *Registry) probe(s *slot, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil || sess.gen != gen || sess.handle == nil {
		return
	}
	switch sess.status.Phase {
	case domain.PhaseInitializing, domain.PhaseAwaitingPairing:
	default:
		sess.probe = nil
		return
	}

	if id, ok := sess.handle.Identity(); ok {
		log.Session(s.accountID).Debug("liveness probe found an authenticated client")
		r.enterConnected(s, &id)
		return
	}
	sess.probe = r.clock.AfterFunc(r.cfg.ProbeInterval, func() { r.probe(s, gen) })
}

func (r *Registry) ingestMessage(s *slot, raw protocol.RawMessage) {
	sess := s.sess
	msg, ok := normalize.Message(s.accountID, raw, normalize.NamesFunc(func(key string) string {
		return sess.names[key]
	}))
	if !ok {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.clock.Now()
	}
	r.storeMessage(s, msg)
}

// storeMessage persists msg and publishes it unless it is a duplicate.
// A failed write is logged and the message is still published.
func (r *Registry) storeMessage(s *slot, msg domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()

	inserted, err := r.gateway.InsertMessage(ctx, msg)
	if err != nil {
		log.Session(s.accountID).WithError(err).WithField("message_id", msg.ProtocolMessageID).Error("persist message failed")
	} else if !inserted {
		log.Session(s.accountID).WithField("message_id", msg.ProtocolMessageID).Debug("duplicate message ignored")
		return
	}

	log.Session(s.accountID).WithFields(map[string]interface{}{
		"kind":      msg.Kind,
		"direction": msg.Direction,
		"chat":      log.MaskJID(msg.ChatKey),
		"preview":   log.Preview(msg.Body, 32),
	}).Debug("message")
	r.publish(s.accountID, events.TypeMessage, msg)
}

func (r *Registry) ingestContact(s *slot, raw protocol.RawChat) {
	contact, ok := normalize.Contact(s.accountID, raw)
	if !ok {
		return
	}
	if contact.ObservedAt.IsZero() {
		contact.ObservedAt = r.clock.Now()
	}
	if contact.DisplayName != "" {
		s.sess.names[contact.ChatKey] = contact.DisplayName
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()
	if err := r.gateway.UpsertContact(ctx, contact); err != nil {
		log.Session(s.accountID).WithError(err).WithField("chat", log.MaskJID(contact.ChatKey)).Error("persist contact failed")
	}
	r.publish(s.accountID, events.TypeContact, contact)
}

func lastError(reason, detail string) string {
	if detail == "" {
		return reason
	}
	if reason == "" {
		return detail
	}
	return reason + ": " + detail
}
