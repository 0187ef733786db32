package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	auth "github.com/dinarest/contacts-auth"
	"github.com/dinarest/contacts-auth/activitymap"
	"github.com/dinarest/contacts-auth/fiberauth"
	"github.com/gofiber/fiber/v2"
	"github.com/uptrace/bun"
)

type App struct {
	config  auth.Config
	logger  auth.Logger
	db      *bun.DB
	repo    auth.RepositoryManager
	manager *auth.AuthManager
	srv     *fiber.App
	closers []func() error
}

func main() {
	log.SetPrefix("[AUTHD] ")

	if err := run(); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// run wires and serves the app. Everything it opened is closed on return.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := auth.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app := &App{
		config: cfg,
		logger: auth.SlogLogger{L: slog.New(slog.NewJSONHandler(os.Stdout, nil))},
	}
	defer app.Close()

	if err := WithPersistence(ctx, app); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}

	if err := WithAuth(ctx, app); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if err := WithHTTPServer(app); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	if err := Serve(ctx, app); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := auth.OpenDB(app.config.DatabaseURL)
	if err != nil {
		return err
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	app.repo = auth.NewRepositoryManager(db)
	if err := app.repo.Validate(); err != nil {
		return err
	}

	return app.repo.CreateSchema(ctx)
}

func WithAuth(ctx context.Context, app *App) error {
	tokens, err := app.config.NewTokenService(auth.SystemClock, app.logger)
	if err != nil {
		return err
	}

	cache, closeCache, err := app.config.NewIdentityCache(ctx, auth.SystemClock, app.logger)
	if err != nil {
		return err
	}
	app.closers = append(app.closers, closeCache)

	app.manager = app.config.
		NewAuthManager(app.repo.Users(), tokens, cache, auth.SystemClock, app.logger).
		WithActivitySink(activitymap.LogSink(app.logger, activitymap.WithRedactedKeys("identifier")))

	return nil
}

func WithHTTPServer(app *App) error {
	mailer, err := app.config.NewEmailDispatcher(app.logger)
	if err != nil {
		return err
	}

	app.srv = fiber.New(fiber.Config{
		AppName:      "contacts-auth",
		ErrorHandler: fiberauth.ErrorHandler(app.logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	fiberauth.NewController(
		app.manager,
		app.repo,
		mailer,
		fiberauth.WithBaseURL(app.config.BaseURL),
	).Register(app.srv)

	return nil
}

// Serve blocks until ctx is cancelled or the listener fails
func Serve(ctx context.Context, app *App) error {
	errc := make(chan error, 1)
	go func() {
		app.logger.Info("listening", "addr", app.config.HTTPAddr)
		errc <- app.srv.Listen(app.config.HTTPAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		app.logger.Info("shutting down")
		return app.srv.ShutdownWithTimeout(10 * time.Second)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
