package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/auth"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/router"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-business-bridge/pkg/whatsapp"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/clock"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/config"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/db"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/db/migrate"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/reconnect"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/session"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/store"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/webhook"
)

func main() {
	os.Exit(execute(rootCmd()))
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		log.Print(nil).WithError(err).Error("Failed to run command")
		return 1
	}
	return 0
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wa-bridge",
		Short:         "WhatsApp business messaging bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(serveCmd(), migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := migrate.Run(cfg.DatabaseURI, args[0]); err != nil {
				log.Print(nil).WithError(err).Error("Migration failed")
				return err
			}
			log.Print(nil).WithField("direction", args[0]).Info("Migration complete")
			return nil
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		log.Print(nil).WithError(err).Error("Invalid configuration")
		return err
	}
	router.Configure(cfg.HTTPBaseURL, cfg.HTTPCORSOrigin, cfg.HTTPBodyLimit, cfg.HTTPGZipLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Run(cfg.DatabaseURI, "up"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	container, err := pkgWhatsApp.OpenContainer(ctx, cfg.DatastoreType, cfg.DatastoreURI)
	if err != nil {
		return fmt.Errorf("open whatsapp datastore: %w", err)
	}

	clk := clock.Real()
	gateway := store.NewGateway(store.NewPostgres(sqlDB), store.NewPairingCache(clk), clk)

	var qrTerminal io.Writer
	if cfg.QRTerminal {
		qrTerminal = os.Stdout
	}
	connector := pkgWhatsApp.NewConnector(container, gateway.DeviceJID, pkgWhatsApp.ConnectorConfig{
		ProxyURL:    cfg.ProxyURL,
		EventBuffer: cfg.EventQueueSize,
		QRTerminal:  qrTerminal,
	})

	engine, err := webhook.NewEngine(webhook.Config{
		URL:           cfg.WebhookURL,
		Secret:        cfg.WebhookSecret,
		Workers:       cfg.WebhookWorkers,
		RetryLimit:    cfg.WebhookRetryLimit,
		QueueSize:     cfg.WebhookQueueSize,
		AllowInsecure: cfg.WebhookAllowInsecure,
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	hub := events.NewHub(0)

	registry := session.New(session.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		SendTimeout:    cfg.SendTimeout,
		LogoutTimeout:  cfg.LogoutTimeout,
		ProbeInterval:  cfg.ProbeInterval,
		PairingTTL:     cfg.PairingTTL,
		SendRate:       rate.Limit(cfg.SendRatePerSecond),
		SendBurst:      cfg.SendRateBurst,
		Reconnect: reconnect.Config{
			Base:        cfg.ReconnectBase,
			Max:         cfg.ReconnectMax,
			MaxAttempts: cfg.ReconnectMaxAttempts,
		},
		RenderPairing: pkgWhatsApp.RenderQR,
	}, connector, gateway, events.Multi{hub, engine}, clk)

	services := &internal.Services{
		Config:   cfg,
		DB:       sqlDB,
		Auth:     auth.New(cfg.JWTSecretKey, cfg.AdminSecretKey),
		Sessions: registry,
		Gateway:  gateway,
		Hub:      hub,
		Webhook:  engine,
		Versions: pkgWhatsApp.NewVersionRefresher(cfg.VersionRefreshMinInterval),
	}

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	app := newApp(services)

	// Running Startup Tasks
	internal.Startup(ctx, services)

	// Running Routines Tasks
	internal.Routines(c, services)

	// Start Server
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.ListenAddress())
	}()

	// Watch for Shutdown Signal
	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			log.Print(nil).WithError(err).Error("HTTP server stopped")
		}
	}

	// Wait 5 Seconds Before Graceful Shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).WithError(err).Error("Failed to shutdown HTTP server")
	}

	<-c.Stop().Done()
	registry.Shutdown()
	engine.Shutdown()

	log.Print(nil).Info("Shutdown complete")
	return nil
}

func newApp(s *internal.Services) *fiber.App {
	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:          router.HttpErrorHandler,
		BodyLimit:             router.BodyLimitBytes(),
		ReadBufferSize:        8192,
		DisableStartupMessage: true,
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Secret",
		AllowMethods: "GET,POST,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Load Internal Routes
	internal.Routes(app, s)

	return app
}
