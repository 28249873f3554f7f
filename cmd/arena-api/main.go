package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arenabot/internal/api"
	"arenabot/internal/auth"
	"arenabot/internal/bot"
	"arenabot/internal/config"
	"arenabot/internal/db"
	"arenabot/internal/games"
	"arenabot/internal/ledger"
	"arenabot/internal/notify"
	"arenabot/internal/session"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("arena api failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) error {
	var store ledger.Store
	switch cfg.Ledger {
	case "memory":
		logger.Warn("using in-memory ledger, balances are lost on restart")
		store = ledger.NewMemory()
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, 20)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		store = ledger.NewPostgres(pool, logger)
	}

	verifier := auth.NewVerifier()
	operator := auth.Principal{Name: "operator", Operator: true}
	if cfg.OperatorToken != "" {
		if err := verifier.AddToken(cfg.OperatorToken, operator); err != nil {
			return err
		}
	}
	if cfg.OperatorHash != "" {
		if err := verifier.AddHash(cfg.OperatorHash, operator); err != nil {
			return err
		}
	}
	if cfg.BridgeToken != "" {
		if err := verifier.AddToken(cfg.BridgeToken, auth.Principal{Name: "bridge"}); err != nil {
			return err
		}
	}

	var chat notify.Multi
	var discord *notify.Discord
	if cfg.DiscordToken != "" {
		d, err := notify.NewDiscord(cfg.DiscordToken, logger)
		if err != nil {
			return err
		}
		discord = d
		chat = append(chat, d)
	}
	var whatsapp *notify.WhatsApp
	if cfg.WhatsAppEnabled {
		w, err := notify.NewWhatsApp(ctx, cfg.DatabaseURL, os.Stdout, logger)
		if err != nil {
			return err
		}
		whatsapp = w
		chat = append(chat, w)
	}

	broker := notify.NewBroker()
	queue := notify.NewQueue(chat, cfg.AnnounceBuffer, logger)
	engine := session.NewEngine(store, games.All(),
		session.WithLogger(logger),
		session.WithDebitTimeout(cfg.DebitTimeout),
		session.WithAnnouncer(notify.Multi{notify.NewLog(logger), broker, queue}),
	)
	commands := bot.New(engine, store, cfg.Defaults, cfg.DefaultGame, cfg.BotAdmins, logger)

	server := api.New(logger, verifier, engine, store, broker, cfg.Defaults)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Sinks outlive the request context so shutdown refunds still get announced.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(sinkCtx)
	})
	g.Go(func() error {
		logger.Info("arena api listening", "addr", cfg.Addr, "ledger", cfg.Ledger, "games", engine.Games())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		engine.Shutdown(shutdownCtx)
		stopSinks()
		logger.Info("arena api stopped")
		return nil
	})
	if discord != nil {
		g.Go(func() error {
			return discord.Listen(gctx, commands.Handle)
		})
	}
	if whatsapp != nil {
		g.Go(func() error {
			return whatsapp.Listen(gctx, commands.Handle)
		})
	}
	return g.Wait()
}
