package whatsapp

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

var ErrNotPaired = errors.New("whatsapp client is not paired")

type handle struct {
	accountID string
	client    *whatsmeow.Client
	cfg       ConnectorConfig
	qrCancel  context.CancelFunc

	events    chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

func newHandle(accountID string, client *whatsmeow.Client, cfg ConnectorConfig) *handle {
	return &handle{
		accountID: accountID,
		client:    client,
		cfg:       cfg,
		events:    make(chan protocol.Event, cfg.EventBuffer),
		done:      make(chan struct{}),
	}
}

func (h *handle) Events() <-chan protocol.Event {
	return h.events
}

func (h *handle) Send(ctx context.Context, to types.JID, body string) (protocol.SendAck, error) {
	if h.client.Store.ID == nil {
		return protocol.SendAck{}, ErrNotPaired
	}

	extra := whatsmeow.SendRequestExtra{ID: h.client.GenerateMessageID()}
	resp, err := h.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(body),
	}, extra)
	if err != nil {
		return protocol.SendAck{}, err
	}

	ack := protocol.SendAck{
		MessageID: resp.ID,
		Timestamp: resp.Timestamp,
		Sender:    h.client.Store.ID.ToNonAD(),
	}
	if ack.MessageID == "" {
		ack.MessageID = extra.ID
	}
	return ack, nil
}

// Logout unlinks the device. When the server cannot be reached the local
// credentials are deleted instead.
func (h *handle) Logout(ctx context.Context) error {
	if h.client.Store.ID == nil {
		return nil
	}
	if err := h.client.Logout(ctx); err != nil {
		log.Session(h.accountID).WithError(err).Warn("server logout failed, deleting local credentials")
		h.client.Disconnect()
		return h.client.Store.Delete(ctx)
	}
	return nil
}

func (h *handle) Identity() (protocol.Identity, bool) {
	if h.client.Store.ID == nil || !h.client.IsLoggedIn() {
		return protocol.Identity{}, false
	}
	return identity(*h.client.Store.ID, h.client.Store.PushName), true
}

func (h *handle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		if h.qrCancel != nil {
			h.qrCancel()
		}
		h.client.RemoveEventHandlers()
		h.client.Disconnect()

		h.mu.Lock()
		h.closed = true
		close(h.events)
		h.mu.Unlock()
	})
}

func (h *handle) emit(e protocol.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.events <- e:
	case <-h.done:
	}
}

func (h *handle) closedWith(reason protocol.DisconnectReason, detail string) {
	h.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: reason, Detail: detail})
}

func (h *handle) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			if h.cfg.QRTerminal != nil {
				PrintQR(h.cfg.QRTerminal, item.Code)
			}
			h.emit(protocol.ConnectionUpdate{
				State:        protocol.StatePairing,
				PairingToken: item.Code,
				PairingTTL:   item.Timeout,
			})
		case whatsmeow.QRChannelSuccess.Event:
			return
		case whatsmeow.QRChannelTimeout.Event:
			h.closedWith(protocol.ReasonPairingTimeout, "pairing code expired")
			return
		case whatsmeow.QRChannelClientOutdated.Event:
			h.closedWith(protocol.ReasonConnectFailure, "client version is outdated for pairing")
			return
		case whatsmeow.QRChannelScannedWithoutMultidevice.Event:
			h.closedWith(protocol.ReasonConnectFailure, "scanned without multi-device enabled")
			return
		case "error":
			detail := "pairing failed"
			if item.Error != nil {
				detail = item.Error.Error()
			}
			h.closedWith(protocol.ReasonConnectFailure, detail)
			return
		default:
			h.closedWith(protocol.ReasonConnectFailure, "unexpected pairing event "+item.Event)
			return
		}
	}
}

func (h *handle) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		update := protocol.ConnectionUpdate{State: protocol.StateOpen}
		if id, ok := h.Identity(); ok {
			update.Identity = &id
		}
		h.emit(update)
	case *events.PairSuccess:
		id := identity(e.ID, h.client.Store.PushName)
		h.emit(protocol.ConnectionUpdate{State: protocol.StateOpen, Identity: &id})
	case *events.Disconnected:
		h.closedWith(protocol.ReasonConnectionLost, "")
	case *events.KeepAliveTimeout:
		log.Session(h.accountID).Warnf("keepalive timeout, errors=%d lastSuccess=%s", e.ErrorCount, e.LastSuccess.Format(time.RFC3339))
	case *events.LoggedOut:
		h.closedWith(protocol.ReasonLoggedOut, e.Reason.String())
	case *events.StreamReplaced:
		h.closedWith(protocol.ReasonReplaced, "stream replaced by another client")
	case *events.TemporaryBan:
		h.closedWith(protocol.ReasonBanned, e.String())
	case *events.ConnectFailure:
		h.closedWith(protocol.ReasonConnectFailure, e.Reason.String()+": "+e.Message)
	case *events.ClientOutdated:
		h.closedWith(protocol.ReasonConnectFailure, "client outdated")
	case *events.Message:
		h.emit(protocol.MessagesUpsert{Messages: []protocol.RawMessage{rawMessage(e)}})
	case *events.PushName:
		h.emit(protocol.ChatsUpsert{Chats: []protocol.RawChat{{
			JID:        e.JID,
			PushName:   e.NewPushName,
			ObservedAt: time.Now(),
		}}})
	case *events.Contact:
		if e.Action == nil {
			return
		}
		h.emit(protocol.ChatsUpsert{Chats: []protocol.RawChat{{
			JID:        e.JID,
			Name:       e.Action.GetFullName(),
			ObservedAt: e.Timestamp,
		}}})
	case *events.HistorySync:
		if chats := historyChats(e); len(chats) > 0 {
			h.emit(protocol.ChatsUpsert{Chats: chats})
		}
	}
}

func rawMessage(e *events.Message) protocol.RawMessage {
	return protocol.RawMessage{
		ID:        e.Info.ID,
		Chat:      e.Info.Chat,
		Sender:    e.Info.Sender,
		FromMe:    e.Info.IsFromMe,
		PushName:  e.Info.PushName,
		Timestamp: e.Info.Timestamp,
		Payload:   e.Message,
	}
}

func historyChats(e *events.HistorySync) []protocol.RawChat {
	if e.Data == nil {
		return nil
	}
	now := time.Now()
	conversations := e.Data.GetConversations()
	chats := make([]protocol.RawChat, 0, len(conversations))
	for _, conv := range conversations {
		jid, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		chats = append(chats, protocol.RawChat{
			JID:         jid,
			Name:        conv.GetName(),
			UnreadCount: int(conv.GetUnreadCount()),
			ObservedAt:  now,
		})
	}
	return chats
}

func identity(jid types.JID, pushName string) protocol.Identity {
	jid = jid.ToNonAD()
	return protocol.Identity{
		JID:         jid,
		PhoneNumber: jid.User,
		PushName:    pushName,
	}
}
