package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/6peterlu/coherence-chat/internal/api"
	"github.com/6peterlu/coherence-chat/internal/density"
	"github.com/6peterlu/coherence-chat/internal/messaging"
	"github.com/6peterlu/coherence-chat/internal/recovery"
	"github.com/6peterlu/coherence-chat/internal/reminders"
	"github.com/6peterlu/coherence-chat/internal/scheduler"
	"github.com/6peterlu/coherence-chat/internal/store"
	"github.com/6peterlu/coherence-chat/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for service state data
	DefaultStateDir = "/var/lib/coherence"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coherence.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	notifier := buildNotifier()

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	rem := reminders.NewService(st, sched, notifier, density.NewSelector())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Jobs live in process memory; rebuild them from the dose windows and
	// the event log before serving traffic.
	if err := recovery.Resync(ctx, st, rem); err != nil {
		slog.Error("Job resync failed", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(rem, st, buildAPIOptions(flags)...)
	slog.Info("Bootstrapping dose reminder service")
	if err := server.Start(ctx); err != nil {
		slog.Error("Service failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Service exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	APIAddr     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir *string
	dbDSN    *string
	apiAddr  *string
}

// initializeLogger sets up structured logging; DEBUG=true lowers the level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("COHERENCE_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COHERENCE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"COHERENCE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir: flag.String("state-dir", config.StateDir, "state directory for service data (overrides $COHERENCE_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		apiAddr:  flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr)
	return flags
}

// buildStore selects and constructs the storage backend by DSN detection.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Info("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildNotifier constructs the Twilio SMS sender, falling back to a mock
// when credentials are absent (local development).
func buildNotifier() messaging.Notifier {
	notifier, err := messaging.NewTwilioSMS()
	if err != nil {
		slog.Warn("Twilio not configured, outbound messages will be dropped", "error", err)
		return messaging.NewMockNotifier()
	}
	return notifier
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
