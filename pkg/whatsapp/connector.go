package whatsapp

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

// DeviceResolver returns the device JID last linked to accountID, or ""
// when the account has never been paired.
type DeviceResolver func(ctx context.Context, accountID string) (string, error)

type ConnectorConfig struct {
	ProxyURL    string
	EventBuffer int
	// QRTerminal, when set, receives every pairing token as a terminal QR.
	QRTerminal io.Writer
}

type Connector struct {
	container *sqlstore.Container
	resolve   DeviceResolver
	cfg       ConnectorConfig
}

var devicePropsOnce sync.Once

func NewConnector(container *sqlstore.Container, resolve DeviceResolver, cfg ConnectorConfig) *Connector {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	devicePropsOnce.Do(func() {
		store.DeviceProps.Os = proto.String(runtime.GOOS)
		store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
		store.DeviceProps.RequireFullSync = proto.Bool(false)
	})
	return &Connector{container: container, resolve: resolve, cfg: cfg}
}

func (c *Connector) Connect(ctx context.Context, accountID string) (protocol.Handle, error) {
	device, err := c.device(ctx, accountID)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, Logger("Client").Sub(accountID))
	if len(c.cfg.ProxyURL) > 0 {
		if err := client.SetProxyAddress(c.cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true

	h := newHandle(accountID, client, c.cfg)
	client.AddEventHandler(h.handleEvent)

	if client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		h.qrCancel = cancel
		go h.pumpQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (c *Connector) device(ctx context.Context, accountID string) (*store.Device, error) {
	raw, err := c.resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return c.container.NewDevice(), nil
	}

	jid, err := types.ParseJID(raw)
	if err != nil {
		log.Session(accountID).WithError(err).Warn("stored device jid is invalid, starting a new device")
		return c.container.NewDevice(), nil
	}
	device, err := c.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		log.Session(accountID).Info("stored device not found, starting a new device")
		return c.container.NewDevice(), nil
	}
	return device, nil
}
