package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
)

const acct = "acct-1"

func (h *harness) waitPhase(t *testing.T, accountID string, phase domain.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.reg.GetStatus(accountID).Phase == phase
	}, 2*time.Second, 5*time.Millisecond, "phase never became %s", phase)
}

func (h *harness) connected(t *testing.T, accountID string) *fakeHandle {
	t.Helper()
	_, err := h.reg.CreateSession(context.Background(), accountID)
	require.NoError(t, err)
	handle := h.conn.last()
	handle.emit(protocol.ConnectionUpdate{
		State:    protocol.StateOpen,
		Identity: &protocol.Identity{JID: selfJID, PhoneNumber: selfJID.User, PushName: "Toko Maju"},
	})
	h.waitPhase(t, accountID, domain.PhaseConnected)
	return handle
}

func text(id string, body string) protocol.RawMessage {
	return protocol.RawMessage{
		ID:        id,
		Chat:      customer,
		Sender:    customer,
		Timestamp: epoch,
		Payload:   &waE2E.Message{Conversation: proto.String(body)},
	}
}

func TestCreateSessionPairingThenConnected(t *testing.T) {
	h := newHarness(t)

	res, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, domain.PhaseInitializing, res.Phase)
	assert.Equal(t, domain.PhaseInitializing, h.reg.GetStatus(acct).Phase)

	_, err = h.reg.GetPairingArtifact(acct)
	assert.ErrorIs(t, err, domain.ErrNotAvailable)

	handle := h.conn.last()
	handle.emit(protocol.ConnectionUpdate{State: protocol.StatePairing, PairingToken: "2@token", PairingTTL: 20 * time.Second})
	h.waitPhase(t, acct, domain.PhaseAwaitingPairing)

	artifact, err := h.reg.GetPairingArtifact(acct)
	require.NoError(t, err)
	assert.Equal(t, "2@token", artifact.Token)
	assert.Equal(t, "img:2@token", artifact.Image)
	assert.Equal(t, epoch.Add(20*time.Second), artifact.ExpiresAt)
	assert.Equal(t, 1, h.pub.count(events.TypeQR))

	again, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	assert.True(t, again.Existing)
	require.NotNil(t, again.Pairing)
	assert.Equal(t, "2@token", again.Pairing.Token)

	handle.emit(protocol.ConnectionUpdate{
		State:    protocol.StateOpen,
		Identity: &protocol.Identity{JID: selfJID, PhoneNumber: selfJID.User, PushName: "Toko Maju"},
	})
	h.waitPhase(t, acct, domain.PhaseConnected)

	_, err = h.reg.GetPairingArtifact(acct)
	assert.ErrorIs(t, err, domain.ErrNotAvailable)
	_, cached := h.gw.PairingArtifact(acct)
	assert.False(t, cached)

	persisted, ok := h.gw.lastStatus(acct)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseConnected, persisted.Phase)
	assert.Nil(t, persisted.Pairing)
	assert.Equal(t, selfJID.String(), persisted.DeviceJID)

	status := h.reg.GetStatus(acct)
	assert.Equal(t, "628999000111", status.PhoneNumber)
	assert.Equal(t, "Toko Maju", status.DisplayName)
	assert.Equal(t, res.SessionID, status.SessionID)

	connected, ok := h.pub.last(events.TypeConnected)
	require.True(t, ok)
	assert.Equal(t, acct, connected.AccountID)
	assert.Equal(t, 1, h.conn.connects())
}

func TestCreateSessionIsIdempotentUnderConcurrency(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.reg.CreateSession(context.Background(), acct)
			assert.NoError(t, err)
			ids[i] = res.SessionID
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.conn.connects())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCreateSessionWhileConnectedDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	h.connected(t, acct)

	res, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Equal(t, domain.PhaseConnected, res.Phase)
	assert.Equal(t, 1, h.conn.connects())
}

func TestCreateSessionConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.conn.setErr(errors.New("dial tcp: refused"))

	_, err := h.reg.CreateSession(context.Background(), acct)
	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "connect", perr.Op)
	assert.Equal(t, domain.PhaseIdle, h.reg.GetStatus(acct).Phase)
	assert.Nil(t, h.reg.lookup(acct))

	persisted, _ := h.gw.lastStatus(acct)
	assert.Equal(t, domain.PhaseTerminated, persisted.Phase)

	h.conn.setErr(nil)
	res, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	assert.False(t, res.Existing)
}

func TestReconnectBackoffUntilBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)

	h.conn.setErr(errors.New("network unreachable"))
	handle.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonConnectionLost})
	h.waitPhase(t, acct, domain.PhaseReconnecting)
	assert.True(t, handle.isClosed())
	assert.Equal(t, 1, h.reg.GetStatus(acct).ReconnectAttempts)

	delays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range delays {
		h.clk.Advance(d - time.Millisecond)
		assert.Equal(t, 1+i, h.conn.connects(), "attempt %d fired early", i+1)
		h.clk.Advance(time.Millisecond)
		assert.Equal(t, 2+i, h.conn.connects())

		status := h.reg.GetStatus(acct)
		assert.Equal(t, domain.PhaseReconnecting, status.Phase)
		assert.Equal(t, i+2, status.ReconnectAttempts)
	}

	h.clk.Advance(32 * time.Second)
	assert.Equal(t, 6, h.conn.connects())

	status := h.reg.GetStatus(acct)
	assert.Equal(t, domain.PhaseTerminated, status.Phase)
	assert.Contains(t, status.LastError, reasonBudgetExhausted)
	assert.Zero(t, h.reg.scheduler.Attempts(acct))

	last, ok := h.pub.last(events.TypeDisconnected)
	require.True(t, ok)
	assert.Equal(t, events.DisconnectedData{
		SessionID: status.SessionID,
		Phase:     string(domain.PhaseTerminated),
		Reason:    reasonBudgetExhausted,
	}, last.Data)

	h.clk.Advance(time.Hour)
	assert.Equal(t, 6, h.conn.connects())
}

func TestReconnectSuccessResetsAttempts(t *testing.T) {
	h := newHarness(t)
	first := h.connected(t, acct)

	first.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonConnectionLost})
	h.waitPhase(t, acct, domain.PhaseReconnecting)

	h.clk.Advance(2 * time.Second)
	assert.Equal(t, 2, h.conn.connects())
	assert.Equal(t, domain.PhaseInitializing, h.reg.GetStatus(acct).Phase)

	second := h.conn.last()
	require.NotSame(t, first, second)
	second.emit(protocol.ConnectionUpdate{State: protocol.StateOpen})
	h.waitPhase(t, acct, domain.PhaseConnected)

	assert.Zero(t, h.reg.GetStatus(acct).ReconnectAttempts)
	assert.Zero(t, h.reg.scheduler.Attempts(acct))
	assert.Equal(t, "628999000111", h.reg.GetStatus(acct).PhoneNumber)
}

func TestLoggedOutTerminatesWithoutRetry(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)
	before := h.reg.GetStatus(acct).SessionID

	handle.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonLoggedOut})
	h.waitPhase(t, acct, domain.PhaseTerminated)
	assert.True(t, handle.isClosed())
	assert.Zero(t, h.reg.scheduler.Attempts(acct))

	h.clk.Advance(time.Hour)
	assert.Equal(t, 1, h.conn.connects())

	res, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.NotEqual(t, before, res.SessionID)
	assert.Equal(t, 2, h.conn.connects())
}

func TestPairingTimeoutReconnects(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	handle := h.conn.last()

	handle.emit(protocol.ConnectionUpdate{State: protocol.StatePairing, PairingToken: "2@a"})
	h.waitPhase(t, acct, domain.PhaseAwaitingPairing)
	handle.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonPairingTimeout})
	h.waitPhase(t, acct, domain.PhaseReconnecting)

	_, err = h.reg.GetPairingArtifact(acct)
	assert.ErrorIs(t, err, domain.ErrNotAvailable)
	_, cached := h.gw.PairingArtifact(acct)
	assert.False(t, cached)
}

func TestLivenessProbePromotesToConnected(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	handle := h.conn.last()

	h.clk.Advance(2 * time.Second)
	assert.Equal(t, domain.PhaseInitializing, h.reg.GetStatus(acct).Phase)

	handle.setIdentity(protocol.Identity{JID: selfJID, PhoneNumber: selfJID.User})
	h.clk.Advance(2 * time.Second)
	assert.Equal(t, domain.PhaseConnected, h.reg.GetStatus(acct).Phase)
	assert.Equal(t, 1, h.pub.count(events.TypeConnected))
	assert.Zero(t, h.clk.Pending())
}

func TestSendMessageRequiresConnected(t *testing.T) {
	h := newHarness(t)

	_, err := h.reg.SendMessage(context.Background(), acct, customer.User, "hi")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	handle := h.connected(t, acct)
	handle.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonConnectionLost})
	h.waitPhase(t, acct, domain.PhaseReconnecting)

	_, err = h.reg.SendMessage(context.Background(), acct, customer.User, "hi")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Zero(t, handle.sentCount())
}

func TestSendMessagePersistsAndPublishesEcho(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)

	msg, err := h.reg.SendMessage(context.Background(), acct, "+628111222333", "Pesanan sudah dikirim")
	require.NoError(t, err)
	assert.Equal(t, 1, handle.sentCount())
	assert.Equal(t, "OUT-1", msg.ProtocolMessageID)
	assert.Equal(t, customer.String(), msg.ChatKey)
	assert.Equal(t, selfJID.String(), msg.SenderKey)
	assert.Equal(t, domain.OwnSenderLabel, msg.SenderName)
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
	assert.Equal(t, domain.DeliverySent, msg.Status)
	assert.Equal(t, domain.KindText, msg.Kind)

	assert.Equal(t, 1, h.gw.messageCount())
	published, ok := h.pub.last(events.TypeMessage)
	require.True(t, ok)
	assert.Equal(t, msg, published.Data)

	_, err = h.reg.SendMessage(context.Background(), acct, group.String(), "hi")
	assert.ErrorIs(t, err, domain.ErrInvalidChatKey)
}

func TestSendMessageProtocolFailure(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)
	handle.sendErr = errors.New("server rejected")

	_, err := h.reg.SendMessage(context.Background(), acct, customer.User, "hi")
	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "send", perr.Op)
	assert.Equal(t, domain.PhaseConnected, h.reg.GetStatus(acct).Phase)
}

func TestInboundEventsAreNormalizedAndDeduplicated(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)

	groupMsg := text("G-1", "hello group")
	groupMsg.Chat = group
	reaction := text("R-1", "")
	reaction.Payload = &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")}}

	handle.emit(protocol.ChatsUpsert{Chats: []protocol.RawChat{
		{JID: customer, Name: "Budi Santoso"},
		{JID: group, Name: "Reseller"},
	}})
	handle.emit(protocol.MessagesUpsert{Messages: []protocol.RawMessage{
		groupMsg,
		reaction,
		text("M-1", "Halo, stok ada?"),
		text("M-1", "Halo, stok ada?"),
	}})
	handle.emit(protocol.ChatsUpsert{Chats: []protocol.RawChat{{JID: selfJID, PushName: "marker"}}})

	require.Eventually(t, func() bool { return h.gw.contactCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.gw.messageCount())
	assert.Equal(t, 1, h.pub.count(events.TypeMessage))
	assert.Equal(t, 2, h.pub.count(events.TypeContact))

	published, ok := h.pub.last(events.TypeMessage)
	require.True(t, ok)
	msg := published.Data.(domain.Message)
	assert.Equal(t, "M-1", msg.ProtocolMessageID)
	assert.Equal(t, "Budi Santoso", msg.SenderName)
	assert.Equal(t, domain.DirectionInbound, msg.Direction)
	assert.Equal(t, domain.DeliveryReceived, msg.Status)
}

func TestPersistenceFailureStillPublishes(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)
	h.gw.mu.Lock()
	h.gw.insertErr = &domain.PersistenceError{Op: "insert message", Err: errors.New("connection reset")}
	h.gw.mu.Unlock()

	handle.emit(protocol.MessagesUpsert{Messages: []protocol.RawMessage{text("M-9", "hi")}})
	require.Eventually(t, func() bool { return h.pub.count(events.TypeMessage) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.PhaseConnected, h.reg.GetStatus(acct).Phase)
}

func TestDisconnectRemovesSession(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)

	require.NoError(t, h.reg.Disconnect(context.Background(), acct))
	assert.Equal(t, 1, handle.logoutCount())
	assert.True(t, handle.isClosed())
	assert.Equal(t, domain.PhaseIdle, h.reg.GetStatus(acct).Phase)

	persisted, _ := h.gw.lastStatus(acct)
	assert.Equal(t, domain.PhaseTerminated, persisted.Phase)
	last, ok := h.pub.last(events.TypeDisconnected)
	require.True(t, ok)
	assert.Equal(t, reasonDisconnected, last.Data.(events.DisconnectedData).Reason)

	assert.NoError(t, h.reg.Disconnect(context.Background(), acct))
	assert.NoError(t, h.reg.Disconnect(context.Background(), "nobody"))
	assert.Zero(t, h.reg.Stats().Total)
	assert.Empty(t, h.reg.allSlots())
}

func TestEvictedSlotIsNotReused(t *testing.T) {
	h := newHarness(t)
	h.connected(t, acct)

	stale := h.reg.lookup(acct)
	require.NoError(t, h.reg.Disconnect(context.Background(), acct))
	require.True(t, stale.evicted)

	_, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	live := h.reg.lookup(acct)
	require.NotNil(t, live)
	assert.NotSame(t, stale, live)
	assert.Nil(t, stale.sess)
	assert.Equal(t, domain.PhaseInitializing, h.reg.GetStatus(acct).Phase)
}

func TestCreateAndDisconnectConcurrently(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.reg.CreateSession(context.Background(), acct)
		}()
		go func() {
			defer wg.Done()
			_ = h.reg.Disconnect(context.Background(), acct)
		}()
	}
	wg.Wait()

	_, err := h.reg.CreateSession(context.Background(), acct)
	require.NoError(t, err)
	assert.NotEqual(t, domain.PhaseIdle, h.reg.GetStatus(acct).Phase)
	assert.Len(t, h.reg.allSlots(), 1)
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)

	handle.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonConnectionLost})
	h.waitPhase(t, acct, domain.PhaseReconnecting)

	require.NoError(t, h.reg.Disconnect(context.Background(), acct))
	h.clk.Advance(time.Hour)
	assert.Equal(t, 1, h.conn.connects())
	assert.Equal(t, domain.PhaseIdle, h.reg.GetStatus(acct).Phase)
}

func TestForceReconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)

	handle.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonConnectionLost})
	h.waitPhase(t, acct, domain.PhaseReconnecting)

	require.NoError(t, h.reg.ForceReconnect(context.Background(), acct))
	require.NoError(t, h.reg.ForceReconnect(context.Background(), acct))
	assert.Equal(t, 3, h.conn.connects())
	assert.Equal(t, domain.PhaseInitializing, h.reg.GetStatus(acct).Phase)
	assert.Zero(t, h.reg.GetStatus(acct).ReconnectAttempts)

	h.conn.mu.Lock()
	second := h.conn.handles[1]
	h.conn.mu.Unlock()
	assert.True(t, second.isClosed())

	h.clk.Advance(time.Minute)
	assert.Equal(t, 3, h.conn.connects())
}

func TestForceReconnectSurfacesFailure(t *testing.T) {
	h := newHarness(t)
	h.connected(t, acct)

	assert.ErrorIs(t, h.reg.ForceReconnect(context.Background(), "nobody"), domain.ErrSessionNotFound)

	h.conn.setErr(errors.New("tls handshake timeout"))
	err := h.reg.ForceReconnect(context.Background(), acct)
	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.PhaseTerminated, h.reg.GetStatus(acct).Phase)

	h.clk.Advance(time.Hour)
	assert.Equal(t, 2, h.conn.connects())
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.connected(t, acct)
	_, err := h.reg.CreateSession(context.Background(), "acct-2")
	require.NoError(t, err)

	stats := h.reg.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Connected)
	assert.Equal(t, 1, stats.ByPhase[domain.PhaseConnected])
	assert.Equal(t, 1, stats.ByPhase[domain.PhaseInitializing])
}

func TestGetStatusUnknownAccountIsIdle(t *testing.T) {
	h := newHarness(t)
	status := h.reg.GetStatus("nobody")
	assert.Equal(t, domain.PhaseIdle, status.Phase)
	assert.Equal(t, "nobody", status.AccountID)
}

func TestSendMessageRateLimited(t *testing.T) {
	h := newHarness(t)
	handle := h.connected(t, acct)
	h.reg.slotFor(acct).limiter.SetLimit(rate.Every(time.Hour))

	_, err := h.reg.SendMessage(context.Background(), acct, customer.User, "first")
	require.NoError(t, err)

	_, err = h.reg.SendMessage(context.Background(), acct, customer.User, "second")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 1, handle.sentCount())
}
