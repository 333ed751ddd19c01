package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quill/printhold/internal/api/handlers"
	"github.com/quill/printhold/internal/api/middleware"
	"github.com/quill/printhold/internal/archive"
	"github.com/quill/printhold/internal/auth"
	"github.com/quill/printhold/internal/config"
	"github.com/quill/printhold/internal/convert"
	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/mail"
	"github.com/quill/printhold/internal/spooler"
	"github.com/quill/printhold/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *config.Config) error {
	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	sender := webhook.NewSender(db.GetDB(), webhook.Config{})
	sender.Start()
	defer sender.Stop()

	ledger := core.NewLedger(db.GetDB(), sender)
	cups := spooler.NewCUPS(cfg.Printer.Name, cfg.Printer.CommandTimeout)

	reconciler := core.NewReconciler(cups, ledger, db.Mappings,
		cfg.Reconcile.Interval, cfg.Reconcile.GracePeriod, cfg.Reconcile.UnclaimedTimeout)
	reconciler.Start()
	defer reconciler.Stop()

	archiver, err := archive.NewArchiver(db.GetDB(), archive.Config{
		ArchivePath:   cfg.Archive.Path,
		RetentionDays: cfg.Archive.RetentionDays,
		Interval:      cfg.Archive.Interval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize archiver: %w", err)
	}
	archiver.Start()
	defer archiver.Stop()

	converter := convert.New(cfg.Printer.CommandTimeout)
	submitter := core.NewSubmitter(cups, ledger, converter,
		cfg.Upload.Dir, cfg.Upload.MaxSizeMB, cfg.Upload.Extensions)
	var ingestor *mail.Ingestor
	if cfg.Mail.Enabled {
		ingestor = mail.NewIngestor(db.Emails, submitter, cfg.Mail)
	}

	limiter := auth.NewSlidingWindow(time.Minute)
	keys := auth.NewKeyService(db.Keys, limiter, cfg.Auth.RateLimit)
	kiosks := auth.NewKioskService(db.Kiosks)
	gate := auth.NewGate(cfg.Auth.AdminUsers, cfg.Auth.AdminGroups)

	authn, err := middleware.NewAuthenticator(keys, kiosks)
	if err != nil {
		return fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	jobHandler := handlers.NewJobHandler(ledger, gate, cups, cups, reconciler, sender)
	printHandler := handlers.NewPrintHandler(submitter, ingestor)
	keyHandler := handlers.NewKeyHandler(keys, kiosks)
	mappingHandler := handlers.NewMappingHandler()
	webhookHandler := handlers.NewWebhookHandler()
	auditHandler := handlers.NewAuditHandler()

	v1 := router.Group("/api/v1")
	v1.GET("/health", jobHandler.Health)
	authn.RegisterRoutes(v1)

	protected := v1.Group("", authn.RequirePrincipal())
	jobHandler.RegisterRoutes(protected)
	printHandler.RegisterRoutes(protected, gate)
	keyHandler.RegisterRoutes(protected, gate)
	mappingHandler.RegisterRoutes(protected, gate)
	webhookHandler.RegisterRoutes(protected, gate)
	auditHandler.RegisterRoutes(protected, gate)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s (printer %s)", srv.Addr, cfg.Printer.Name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Prime the ledger before the first tick so listings are not empty
	// right after startup.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Printer.CommandTimeout*3)
		defer cancel()
		reconciler.RunOnce(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Printf("[server] received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
