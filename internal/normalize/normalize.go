// Package normalize turns raw protocol payloads into canonical messages
// and contacts. Everything here is pure apart from the optional name
// lookup supplied by the caller.
package normalize

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
)

// MaxDisplayNameGraphemes caps contact and sender display names, counted
// as user-perceived characters.
const MaxDisplayNameGraphemes = 128

// Names resolves a cached display name for a chat key. It returns "" when
// nothing is known.
type Names interface {
	Lookup(chatKey string) string
}

// NamesFunc adapts a plain function to Names.
type NamesFunc func(chatKey string) string

func (f NamesFunc) Lookup(chatKey string) string {
	return f(chatKey)
}

// ChatKey is the canonical key for a chat or sender JID.
func ChatKey(jid types.JID) string {
	return jid.ToNonAD().String()
}

// ParseChatKey accepts a canonical chat key, a bare phone number or a
// "+"-prefixed number and returns the one-to-one JID it names.
func ParseChatKey(key string) (types.JID, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return types.JID{}, domain.ErrInvalidChatKey
	}

	var jid types.JID
	if strings.ContainsRune(key, '@') {
		parsed, err := types.ParseJID(strings.TrimPrefix(key, "+"))
		if err != nil {
			return types.JID{}, fmt.Errorf("%w: %v", domain.ErrInvalidChatKey, err)
		}
		jid = parsed.ToNonAD()
	} else {
		user := strings.TrimPrefix(key, "+")
		for _, r := range user {
			if r < '0' || r > '9' {
				return types.JID{}, domain.ErrInvalidChatKey
			}
		}
		jid = types.NewJID(user, types.DefaultUserServer)
	}

	if !IsOneToOne(jid) {
		return types.JID{}, domain.ErrInvalidChatKey
	}
	return jid, nil
}

// IsOneToOne reports whether jid addresses a person rather than a group,
// broadcast list, status feed or newsletter.
func IsOneToOne(jid types.JID) bool {
	switch jid.Server {
	case types.DefaultUserServer, types.HiddenUserServer, types.LegacyUserServer:
		return jid.User != ""
	}
	return false
}

// PhoneNumber returns the phone number carried by a user JID, if any.
func PhoneNumber(jid types.JID) string {
	if jid.Server == types.DefaultUserServer || jid.Server == types.LegacyUserServer {
		return jid.User
	}
	return ""
}

// Message converts raw into a canonical message. The second result is
// false when the message is filtered out.
func Message(accountID string, raw protocol.RawMessage, names Names) (domain.Message, bool) {
	if raw.ID == "" || raw.Payload == nil || !IsOneToOne(raw.Chat) {
		return domain.Message{}, false
	}

	payload := unwrap(raw.Payload)
	if dropped(payload) {
		return domain.Message{}, false
	}

	kind, body, media := classify(payload)
	if kind == domain.KindUnknown && payload.GetSenderKeyDistributionMessage() != nil {
		return domain.Message{}, false
	}

	msg := domain.Message{
		AccountID:         accountID,
		ProtocolMessageID: raw.ID,
		ChatKey:           ChatKey(raw.Chat),
		Body:              body,
		Kind:              kind,
		MediaReference:    media,
		Timestamp:         raw.Timestamp,
	}

	if raw.FromMe {
		msg.Direction = domain.DirectionOutbound
		msg.Status = domain.DeliverySent
		msg.SenderName = domain.OwnSenderLabel
		msg.SenderKey = ChatKey(raw.Sender)
		return msg, true
	}

	sender := raw.Sender
	if sender.IsEmpty() {
		sender = raw.Chat
	}
	msg.Direction = domain.DirectionInbound
	msg.Status = domain.DeliveryReceived
	msg.SenderKey = ChatKey(sender)
	msg.SenderName = senderName(msg.SenderKey, msg.ChatKey, raw.PushName, sender, names)
	return msg, true
}

func senderName(senderKey, chatKey, pushName string, sender types.JID, names Names) string {
	if names != nil {
		if name := names.Lookup(senderKey); name != "" {
			return DisplayName(name)
		}
		if chatKey != senderKey {
			if name := names.Lookup(chatKey); name != "" {
				return DisplayName(name)
			}
		}
	}
	if name := DisplayName(pushName); name != "" {
		return name
	}
	return sender.User
}

// DisplayName trims name and cuts it to MaxDisplayNameGraphemes without
// splitting a grapheme cluster.
func DisplayName(name string) string {
	name = strings.TrimSpace(name)
	if uniseg.GraphemeClusterCount(name) <= MaxDisplayNameGraphemes {
		return name
	}

	var b strings.Builder
	g := uniseg.NewGraphemes(name)
	for n := 0; n < MaxDisplayNameGraphemes && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return strings.TrimSpace(b.String())
}

// Contact converts chat metadata into a canonical contact. Group,
// broadcast and newsletter chats are filtered out.
func Contact(accountID string, raw protocol.RawChat) (domain.Contact, bool) {
	if !IsOneToOne(raw.JID) {
		return domain.Contact{}, false
	}

	name := DisplayName(raw.Name)
	if name == "" {
		name = DisplayName(raw.PushName)
	}

	unread := raw.UnreadCount
	if unread < 0 {
		unread = 0
	}

	return domain.Contact{
		AccountID:       accountID,
		ChatKey:         ChatKey(raw.JID),
		DisplayName:     name,
		PhoneNumber:     PhoneNumber(raw.JID),
		IsGroup:         false,
		UnreadCount:     unread,
		AvatarReference: raw.AvatarRef,
		ObservedAt:      raw.ObservedAt,
	}, true
}

// unwrap strips the container messages the client wraps real content in.
func unwrap(m *waE2E.Message) *waE2E.Message {
	for i := 0; i < 4 && m != nil; i++ {
		switch {
		case m.GetEphemeralMessage().GetMessage() != nil:
			m = m.GetEphemeralMessage().GetMessage()
		case m.GetViewOnceMessage().GetMessage() != nil:
			m = m.GetViewOnceMessage().GetMessage()
		case m.GetViewOnceMessageV2().GetMessage() != nil:
			m = m.GetViewOnceMessageV2().GetMessage()
		case m.GetDocumentWithCaptionMessage().GetMessage() != nil:
			m = m.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return m
		}
	}
	return m
}

func dropped(m *waE2E.Message) bool {
	switch {
	case m.GetReactionMessage() != nil,
		m.GetProtocolMessage() != nil,
		m.GetEditedMessage() != nil,
		m.GetCall() != nil:
		return true
	}
	return false
}

func classify(m *waE2E.Message) (domain.MessageKind, string, string) {
	switch {
	case m.GetConversation() != "":
		return domain.KindText, m.GetConversation(), ""
	case m.GetExtendedTextMessage() != nil:
		return domain.KindText, m.GetExtendedTextMessage().GetText(), ""
	case m.GetImageMessage() != nil:
		im := m.GetImageMessage()
		return domain.KindImage, im.GetCaption(), mediaRef(im.GetDirectPath(), im.GetURL())
	case m.GetVideoMessage() != nil:
		vi := m.GetVideoMessage()
		return domain.KindVideo, vi.GetCaption(), mediaRef(vi.GetDirectPath(), vi.GetURL())
	case m.GetAudioMessage() != nil:
		au := m.GetAudioMessage()
		return domain.KindAudio, "", mediaRef(au.GetDirectPath(), au.GetURL())
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		body := doc.GetCaption()
		if body == "" {
			body = firstNonEmpty(doc.GetFileName(), doc.GetTitle())
		}
		return domain.KindDocument, body, mediaRef(doc.GetDirectPath(), doc.GetURL())
	case m.GetStickerMessage() != nil:
		st := m.GetStickerMessage()
		return domain.KindSticker, "", mediaRef(st.GetDirectPath(), st.GetURL())
	case m.GetContactMessage() != nil:
		return domain.KindContact, m.GetContactMessage().GetDisplayName(), ""
	case m.GetContactsArrayMessage() != nil:
		arr := m.GetContactsArrayMessage()
		body := arr.GetDisplayName()
		if body == "" {
			names := make([]string, 0, len(arr.GetContacts()))
			for _, c := range arr.GetContacts() {
				names = append(names, c.GetDisplayName())
			}
			body = strings.Join(names, ", ")
		}
		return domain.KindContact, body, ""
	case m.GetLocationMessage() != nil:
		loc := m.GetLocationMessage()
		body := firstNonEmpty(loc.GetName(), loc.GetAddress(), coordinates(loc.GetDegreesLatitude(), loc.GetDegreesLongitude()))
		return domain.KindLocation, body, ""
	case m.GetLiveLocationMessage() != nil:
		live := m.GetLiveLocationMessage()
		body := firstNonEmpty(live.GetCaption(), coordinates(live.GetDegreesLatitude(), live.GetDegreesLongitude()))
		return domain.KindLiveLocation, body, ""
	case m.GetPollCreationMessage() != nil:
		return domain.KindPoll, m.GetPollCreationMessage().GetName(), ""
	case m.GetPollCreationMessageV2() != nil:
		return domain.KindPoll, m.GetPollCreationMessageV2().GetName(), ""
	case m.GetPollCreationMessageV3() != nil:
		return domain.KindPoll, m.GetPollCreationMessageV3().GetName(), ""
	case m.GetButtonsResponseMessage() != nil:
		return domain.KindText, m.GetButtonsResponseMessage().GetSelectedDisplayText(), ""
	case m.GetListResponseMessage() != nil:
		return domain.KindText, m.GetListResponseMessage().GetTitle(), ""
	case m.GetTemplateButtonReplyMessage() != nil:
		return domain.KindText, m.GetTemplateButtonReplyMessage().GetSelectedDisplayText(), ""
	}
	return domain.KindUnknown, domain.UnsupportedBody, ""
}

func mediaRef(directPath, url string) string {
	return firstNonEmpty(directPath, url)
}

func coordinates(lat, lng float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lng)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
