// Package webhook delivers session events to a single configured HTTP
// endpoint with HMAC signatures and bounded retries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

const userAgent = "WhatsApp-Business-Bridge/1.0"

type Config struct {
	URL           string
	Secret        string
	Workers       int
	RetryLimit    int
	QueueSize     int
	AllowInsecure bool
	Timeout       time.Duration
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
}

type Engine struct {
	cfg        Config
	httpClient *http.Client
	queue      chan events.Envelope
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewEngine starts the delivery workers. An engine without a URL accepts
// and discards everything.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}

	if cfg.URL != "" {
		if err := validateURL(cfg.URL, cfg.AllowInsecure); err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		queue:      make(chan events.Envelope, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	if e.Enabled() {
		for i := 0; i < cfg.Workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
	}
	return e, nil
}

func (e *Engine) Enabled() bool {
	return e.cfg.URL != ""
}

// Publish enqueues the envelope without blocking. Envelopes are dropped
// when the queue is full or the engine is shut down.
func (e *Engine) Publish(env events.Envelope) {
	if !e.Enabled() {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- env:
	default:
		log.Session(env.AccountID).WithField("event_type", env.Type).Warn("webhook queue full, event dropped")
	}
}

func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case env, ok := <-e.queue:
			if !ok {
				return
			}
			e.deliver(env)
		}
	}
}

func (e *Engine) deliver(env events.Envelope) {
	logger := log.Session(env.AccountID).WithField("event_type", env.Type)

	payload, err := json.Marshal(env)
	if err != nil {
		logger.WithError(err).Error("webhook marshal failed")
		return
	}

	signature := Sign(payload, e.cfg.Secret)
	deliveryID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryLimit; attempt++ {
		lastErr = e.post(payload, signature, deliveryID, env.Type)
		if lastErr == nil {
			logger.WithField("attempt", attempt).Debug("webhook delivered")
			return
		}
		if errors.Is(lastErr, context.Canceled) {
			return
		}

		if attempt < e.cfg.RetryLimit {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * e.cfg.RetryBackoff):
			}
		}
	}

	logger.WithError(lastErr).WithField("attempts", e.cfg.RetryLimit).Warn("webhook delivery failed")
}

func (e *Engine) post(payload []byte, signature, deliveryID string, eventType events.Type) error {
	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Hub-Signature-256", signature)
	req.Header.Set("X-Webhook-Event", string(eventType))
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}

// Sign returns the "sha256=" prefixed hex HMAC of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validateURL(rawURL string, allowInsecure bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	if allowInsecure {
		return nil
	}

	if u.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "172.") {
		return fmt.Errorf("private/local network URLs are not allowed")
	}
	return nil
}
