// server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/rexlx/eventboard/config"
	"github.com/rexlx/eventboard/forum"
	"github.com/rexlx/eventboard/mailer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	uploads, err := forum.NewUploads(cfg.DataDir)
	if err != nil {
		return err
	}

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail, err = mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("SMTP_HOST not set; reset emails will only be logged")
		mail = mailer.NewLog(logger)
	}

	sessions := scs.New()
	sessions.Store = store.Sessions()
	sessions.Lifetime = cfg.RememberLifetime
	sessions.IdleTimeout = cfg.SessionLifetime
	sessions.Cookie.Name = "portal_session"
	sessions.Cookie.Persist = false
	sessions.Cookie.Secure = cfg.CookieSecure
	sessions.Cookie.SameSite = http.SameSiteLaxMode

	forumHandler, err := forum.NewHandlers(forum.Options{
		Store:      store,
		Sessions:   sessions,
		Uploads:    uploads,
		Mailer:     mail,
		Logger:     logger,
		Secret:     []byte(cfg.SecretKey),
		BaseURL:    cfg.BaseURL,
		BcryptCost: cfg.BcryptCost,
		MaxUpload:  cfg.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("could not create forum handler: %w", err)
	}

	go forum.StartSessionCleanup(ctx, sessions.Store, 10*time.Minute, logger)

	svr := &http.Server{
		Addr:              cfg.Addr,
		Handler:           forumHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("starting portal server", "addr", cfg.Addr, "backend", cfg.Backend())
		errc <- svr.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svr.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (forum.Store, error) {
	if cfg.Backend() == "postgres" {
		db, err := forum.NewDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("could not initialize database: %w", err)
		}
		logger.Info("connected to postgres")
		return db, nil
	}
	return forum.OpenSQLite(cfg.SQLitePath(), logger)
}
