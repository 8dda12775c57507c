package events

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

// Hub streams envelopes to websocket subscribers of the same account.
// Frames for a subscriber whose buffer is full are dropped.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[chan []byte]struct{}),
	}
}

func (h *Hub) Publish(e Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.subs[e.AccountID]
	if len(subs) == 0 {
		return
	}

	frame, err := json.Marshal(e)
	if err != nil {
		log.Component("hub").WithError(err).Error("marshal event")
		return
	}
	for ch := range subs {
		select {
		case ch <- frame:
		default:
			log.Session(e.AccountID).WithField("event_type", e.Type).Warn("websocket subscriber too slow, frame dropped")
		}
	}
}

// Subscribe registers a subscriber for accountID. The returned cancel
// function unregisters it and closes the channel.
func (h *Hub) Subscribe(accountID string) (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	if h.subs[accountID] == nil {
		h.subs[accountID] = make(map[chan []byte]struct{})
	}
	h.subs[accountID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[accountID], ch)
			if len(h.subs[accountID]) == 0 {
				delete(h.subs, accountID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers for accountID.
func (h *Hub) Subscribers(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}

// RequireUpgrade rejects plain HTTP requests on websocket routes.
func RequireUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Handler streams the events of the account stored in the account_id
// local until the client goes away.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		accountID, _ := conn.Locals("account_id").(string)
		frames, cancel := h.Subscribe(accountID)
		defer cancel()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	})
}
