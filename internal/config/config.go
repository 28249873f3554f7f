package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"arenabot/internal/session"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	Ledger          string
	LogLevel        slog.Level
	OperatorToken   string
	OperatorHash    string
	BridgeToken     string
	DiscordToken    string
	WhatsAppEnabled bool
	BotAdmins       []string
	AnnounceBuffer  int
	ShutdownTimeout time.Duration
	DebitTimeout    time.Duration
	Defaults        session.Config
	DefaultGame     string
}

type WorkerConfig struct {
	DatabaseURL          string
	LogLevel             slog.Level
	Every                time.Duration
	IdempotencyRetention time.Duration
	RunOnce              bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("ARENA_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Ledger:          strings.ToLower(envDefault("ARENA_LEDGER", "postgres")),
		LogLevel:        envLogLevel(),
		OperatorToken:   strings.TrimSpace(os.Getenv("ARENA_API_TOKEN")),
		OperatorHash:    strings.TrimSpace(os.Getenv("ARENA_API_TOKEN_HASH")),
		BridgeToken:     strings.TrimSpace(os.Getenv("ARENA_BRIDGE_TOKEN")),
		DiscordToken:    strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		WhatsAppEnabled: envBoolDefault("WHATSAPP_ENABLED", false),
		BotAdmins:       envList("ARENA_BOT_ADMINS"),
		AnnounceBuffer:  envIntDefault("ARENA_ANNOUNCE_BUFFER", 256),
		ShutdownTimeout: envDurationDefault("ARENA_SHUTDOWN_TIMEOUT", 15*time.Second),
		DebitTimeout:    envDurationDefault("ARENA_DEBIT_TIMEOUT", session.DefaultDebitTimeout),
		DefaultGame:     strings.ToLower(envDefault("ARENA_DEFAULT_GAME", "royale")),
		Defaults: session.Config{
			EntryFee:           envInt64Default("ARENA_ENTRY_FEE", 100),
			MinParticipants:    envIntDefault("ARENA_MIN_PLAYERS", 2),
			MaxParticipants:    envIntDefault("ARENA_MAX_PLAYERS", 20),
			RegistrationWindow: envDurationDefault("ARENA_REGISTRATION_WINDOW", 2*time.Minute),
			ConfirmationWindow: envDurationDefault("ARENA_CONFIRMATION_WINDOW", time.Minute),
			TickInterval:       envDurationDefault("ARENA_TICK_EVERY", 15*time.Second),
			ActiveBudget:       envDurationDefault("ARENA_ACTIVE_BUDGET", 10*time.Minute),
			CommissionBps:      envInt64Default("ARENA_COMMISSION_BPS", 500),
			HouseAccount:       strings.TrimSpace(os.Getenv("ARENA_HOUSE_ACCOUNT")),
			Remainder:          session.RemainderPolicy(envDefault("ARENA_REMAINDER", string(session.RemainderFirstWinner))),
		},
	}
	switch cfg.Ledger {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("ARENA_LEDGER must be postgres or memory, got %q", cfg.Ledger)
	}
	if cfg.OperatorToken == "" && cfg.OperatorHash == "" {
		return cfg, fmt.Errorf("ARENA_API_TOKEN or ARENA_API_TOKEN_HASH is required")
	}
	if cfg.WhatsAppEnabled && cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("WHATSAPP_ENABLED needs DATABASE_URL for the device store")
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return cfg, fmt.Errorf("default session config: %w", err)
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:             envLogLevel(),
		Every:                envDurationDefault("ARENA_WORKER_EVERY", 5*time.Minute),
		IdempotencyRetention: envDurationDefault("ARENA_IDEMPOTENCY_RETENTION", 30*24*time.Hour),
		RunOnce:              envBoolDefault("ARENA_WORKER_RUN_ONCE", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Every <= 0 {
		return cfg, fmt.Errorf("ARENA_WORKER_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("ARENACTL_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envLogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ARENA_LOG_LEVEL"))) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
