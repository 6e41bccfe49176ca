package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	difybridge "github.com/stanwall/difybridge"
	"github.com/stanwall/difybridge/internal/config"
	"github.com/stanwall/difybridge/internal/dify"
	"github.com/stanwall/difybridge/internal/handler"
	"github.com/stanwall/difybridge/internal/middleware"
	"github.com/stanwall/difybridge/internal/pipe"
	"github.com/stanwall/difybridge/internal/scrape"
	"github.com/stanwall/difybridge/internal/server"
	"github.com/stanwall/difybridge/internal/store"
	"github.com/stanwall/difybridge/internal/telegram"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pick the state store: Postgres when configured, files otherwise
	st, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize clients and services
	difyClient := dify.NewClient(cfg.DifyBaseURL, cfg.DifyAPIKey)
	pipeService := pipe.New(difyClient, st, cfg.DifyWorkflow, cfg.DifyModelID)
	scraper := scrape.New(scrape.Options{
		APIURL:          cfg.FirecrawlAPIURL,
		APIKey:          cfg.FirecrawlAPIKey,
		Formats:         cfg.ScrapeFormats,
		VerifySSL:       cfg.ScrapeVerifySSL,
		Timeout:         cfg.ScrapeTimeout,
		MaxDepth:        cfg.ScrapeMaxDepth,
		FollowRedirects: cfg.ScrapeFollowRedirects,
		IncludeTags:     cfg.ScrapeIncludeTags,
		ExcludeTags:     cfg.ScrapeExcludeTags,
		Headers:         cfg.ScrapeHeaders,
		WaitFor:         cfg.ScrapeWaitFor,
		CacheTTL:        cfg.ScrapeCacheTTL,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: server.NewRouter(server.Deps{
			Pipe:    pipeService,
			Scraper: scraper,
			Store:   st,
			Dify:    difyClient,
		}),
	}
	go func() {
		slog.Info("starting http server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	// Start the Telegram bot when a token is configured
	if cfg.BotToken != "" {
		if err := runBot(ctx, cfg, pipeService, scraper, st, difyClient); err != nil {
			slog.Error("failed to start bot", "error", err)
			os.Exit(1)
		}
	}

	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}
	slog.Info("stopped gracefully")
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("using file store", "dir", cfg.DataDir)
		return store.NewFileStore(cfg.DataDir)
	}

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	migrationsFS, err := fs.Sub(difybridge.MigrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := store.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("using postgres store")
	return store.NewPostgresStore(pool), nil
}

func runBot(ctx context.Context, cfg *config.Config, pipeService *pipe.Service, scraper *scrape.Scraper, st store.Store, difyClient *dify.Client) error {
	var h *handler.Handler

	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(),
			middleware.Logging(),
			middleware.Access(cfg),
			middleware.Cooldown(config.Cooldown),
		),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h == nil || update.Message == nil {
				return
			}
			if update.Message.Document != nil {
				h.HandleDocument(ctx, b, update)
			} else if len(update.Message.Photo) > 0 {
				h.HandlePhoto(ctx, b, update)
			}
		}),
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot info: %w", err)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	h = handler.New(handler.Deps{
		Bot:      b,
		Cfg:      cfg,
		Pipe:     pipeService,
		Scraper:  scraper,
		Store:    st,
		Dify:     difyClient,
		Notifier: telegram.NewNotifier(b, cfg.AdminChatID),
	})
	h.Register()

	// Plain text messages go to the pipe
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.Message == nil {
			return
		}
		if len(update.Message.Text) > 0 && update.Message.Text[0] == '/' {
			return
		}
		h.HandleText(ctx, b, update)
	})

	go func() {
		slog.Info("starting bot", "username", me.Username)
		b.Start(ctx)
		slog.Info("bot stopped")
	}()

	return nil
}
