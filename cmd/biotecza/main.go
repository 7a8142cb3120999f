package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sebashdez96/biotecza-bot/internal/api"
	"github.com/sebashdez96/biotecza-bot/internal/cloudapi"
	"github.com/sebashdez96/biotecza-bot/internal/config"
	"github.com/sebashdez96/biotecza-bot/internal/conversation"
	"github.com/sebashdez96/biotecza-bot/internal/lockfile"
	"github.com/sebashdez96/biotecza-bot/internal/messaging"
	"github.com/sebashdez96/biotecza-bot/internal/scheduler"
	"github.com/sebashdez96/biotecza-bot/internal/store"
	"github.com/sebashdez96/biotecza-bot/internal/twiliowhatsapp"
	"github.com/sebashdez96/biotecza-bot/internal/whatsapp"
)

func main() {
	// Start at debug so configuration loading is visible; LOG_LEVEL applies after.
	initializeLogger(slog.LevelDebug)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	flags, err := parseCommandLineFlags(&cfg, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse command line flags", "error", err)
		os.Exit(2)
	}

	level, _ := cfg.Level()
	initializeLogger(level)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Biotecza bot", "transport", cfg.Transport, "api_addr", cfg.APIAddr)
	if err := run(ctx, cfg, flags); err != nil {
		slog.Error("Biotecza bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Biotecza bot exited successfully")
}

// Flags holds command line values that have no environment counterpart or
// need post-processing.
type Flags struct {
	dbDSN  string
	memory bool
}

// initializeLogger installs a text slog handler at level.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags applies command line overrides on top of cfg.
func parseCommandLineFlags(cfg *config.Config, args []string) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("biotecza", flag.ContinueOnError)

	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for Biotecza data (overrides $BIOTECZA_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", cfg.DatabaseURL, "application database DSN, PostgreSQL or SQLite path (overrides $DATABASE_URL)")
	fs.BoolVar(&flags.memory, "memory", false, "use the in-memory store; all data is lost on exit")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "messaging transport: cloudapi, twilio or whatsmeow (overrides $TRANSPORT)")
	fs.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "enable POST /simulate (overrides $SIMULATE_ENABLED)")
	fs.StringVar(&cfg.CatalogSeed, "catalog-seed", cfg.CatalogSeed, "JSON file with medications and lab tests to upsert at startup (overrides $CATALOG_SEED)")
	fs.StringVar(&cfg.WhatsApp.QROutput, "qr-output", cfg.WhatsApp.QROutput, "path to write the whatsmeow login QR code (overrides $WHATSAPP_QR_OUTPUT)")
	fs.BoolVar(&cfg.WhatsApp.NumericCode, "numeric-code", cfg.WhatsApp.NumericCode, "print the raw whatsmeow login code instead of a QR code")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	cfg.DatabaseURL = flags.dbDSN
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	slog.Debug("flags parsed",
		"state_dir", cfg.StateDir,
		"db_dsn_set", flags.dbDSN != "",
		"memory", flags.memory,
		"api_addr", cfg.APIAddr,
		"transport", cfg.Transport,
		"simulate", cfg.Simulate,
		"catalog_seed", cfg.CatalogSeed)
	return flags, nil
}

// storeDSN returns the DSN to open, or "" for the in-memory store.
func storeDSN(cfg config.Config, flags Flags) string {
	if flags.memory {
		return ""
	}
	return cfg.AppDBDSN()
}

// needsStateLock reports whether a file in the state directory is in use.
// Two processes sharing a SQLite file or a whatsmeow session corrupt both.
func needsStateLock(cfg config.Config, flags Flags) bool {
	if dsn := storeDSN(cfg, flags); dsn != "" && store.DetectDSNType(dsn) == "sqlite3" {
		return true
	}
	return cfg.Transport == config.TransportWhatsmeow && store.DetectDSNType(cfg.WhatsAppDBDSN()) == "sqlite3"
}

// ensureDirectoriesExist creates the directory of a file-based store.
func ensureDirectoriesExist(cfg config.Config, flags Flags) error {
	dsn := storeDSN(cfg, flags)
	if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
		return nil
	}
	dir := filepath.Dir(dsn)
	slog.Debug("Creating directory for file-based database", "dir", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

// run wires the store, dispatcher, transport and HTTP server and blocks
// until ctx is cancelled or the server fails.
func run(ctx context.Context, cfg config.Config, flags Flags) error {
	if err := ensureDirectoriesExist(cfg, flags); err != nil {
		return err
	}

	if needsStateLock(cfg, flags) {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(storeDSN(cfg, flags))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if cfg.CatalogSeed != "" {
		if err := seedCatalog(ctx, st, cfg.CatalogSeed); err != nil {
			return err
		}
	}

	locker, closeLocker, err := buildLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	dispatcher := conversation.NewDispatcher(st, conversation.WithLocker(locker))

	sched, err := buildScheduler(cfg, st)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	svc, apiOpts, err := buildTransport(ctx, cfg, st, dispatcher)
	if err != nil {
		return err
	}
	defer svc.Stop()

	if cfg.Simulate {
		apiOpts = append(apiOpts, api.WithSimulation())
	}
	server := api.NewServer(st, dispatcher, apiOpts...)
	return server.ListenAndServe(ctx, cfg.APIAddr)
}

func seedCatalog(ctx context.Context, w store.CatalogWriter, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open catalog seed: %w", err)
	}
	defer f.Close()
	if _, _, err := store.SeedCatalog(ctx, w, f); err != nil {
		return fmt.Errorf("failed to seed catalog from %s: %w", path, err)
	}
	return nil
}

// buildScheduler starts the maintenance jobs.
func buildScheduler(cfg config.Config, repo store.DedupRepo) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler()
	if cfg.DedupPruneSchedule == "" {
		slog.Debug("Dedup pruning disabled")
		return sched, nil
	}
	if err := sched.AddJob(cfg.DedupPruneSchedule, scheduler.PruneDedupJob(repo, cfg.DedupRetention)); err != nil {
		sched.Stop(context.Background())
		return nil, fmt.Errorf("failed to schedule dedup pruning: %w", err)
	}
	slog.Debug("Dedup pruning scheduled", "schedule", cfg.DedupPruneSchedule, "retention", cfg.DedupRetention)
	return sched, nil
}

// buildLocker returns a Redis locker when REDIS_URL is set and the
// in-process locker otherwise.
func buildLocker(ctx context.Context, cfg config.Config) (conversation.Locker, func(), error) {
	if !cfg.Redis.Enabled() {
		slog.Debug("Using in-process conversation locks")
		return conversation.NewLocalLocker(), func() {}, nil
	}
	client, err := cfg.Redis.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("Using Redis conversation locks", "lock_ttl", cfg.LockTTL)
	closer := func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close Redis client", "error", err)
		}
	}
	return conversation.NewRedisLocker(client, conversation.WithLockTTL(cfg.LockTTL)), closer, nil
}

// buildTransport creates the configured messaging service and the API
// options that route its webhooks. whatsmeow has no webhook; its inbound
// channel is consumed directly.
func buildTransport(ctx context.Context, cfg config.Config, st store.Store, dispatcher messaging.Dispatcher) (messaging.Service, []api.Option, error) {
	var (
		svc     messaging.Service
		apiOpts []api.Option
	)

	switch cfg.Transport {
	case config.TransportCloudAPI:
		client, err := cloudapi.NewClient(buildCloudAPIOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Cloud API client: %w", err)
		}
		svc = messaging.NewCloudAPIService(client)
		handler := messaging.NewInboundHandler(svc, dispatcher, messaging.WithDedupRepo(st))
		apiOpts = append(apiOpts, api.WithCloudAPIWebhook(handler, cfg.CloudAPI.VerifyToken))

	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc = messaging.NewTwilioService(client)
		handler := messaging.NewInboundHandler(svc, dispatcher, messaging.WithDedupRepo(st))
		apiOpts = append(apiOpts, api.WithTwilioWebhook(handler, cfg.Twilio.AuthToken, cfg.Twilio.WebhookURL))

	case config.TransportWhatsmeow:
		client, err := whatsapp.NewClient(buildWhatsAppOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		waSvc := messaging.NewWhatsAppService(client)
		svc = waSvc
		handler := messaging.NewInboundHandler(svc, dispatcher, messaging.WithDedupRepo(st))
		handler.Start(ctx, waSvc)

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return nil, nil, fmt.Errorf("failed to start %s transport: %w", cfg.Transport, err)
	}
	slog.Info("Messaging transport started", "transport", cfg.Transport)
	return svc, apiOpts, nil
}

// buildCloudAPIOptions constructs Cloud API client options
func buildCloudAPIOptions(cfg config.Config) []cloudapi.Option {
	opts := []cloudapi.Option{
		cloudapi.WithToken(cfg.CloudAPI.Token),
		cloudapi.WithPhoneNumberID(cfg.CloudAPI.PhoneNumberID),
	}
	if cfg.CloudAPI.APIVersion != "" {
		opts = append(opts, cloudapi.WithAPIVersion(cfg.CloudAPI.APIVersion))
	}
	if cfg.CloudAPI.BaseURL != "" {
		opts = append(opts, cloudapi.WithBaseURL(cfg.CloudAPI.BaseURL))
	}
	return opts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(cfg config.Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID),
		twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken),
		twiliowhatsapp.WithFromWhats(cfg.Twilio.FromNumber),
	}
}

// buildWhatsAppOptions constructs whatsmeow client options
func buildWhatsAppOptions(cfg config.Config) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDBDSN())}
	if cfg.WhatsApp.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QROutput))
	}
	if cfg.WhatsApp.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}
