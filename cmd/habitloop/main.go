package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jroos/habitloop/internal/api"
	"github.com/jroos/habitloop/internal/dispatch"
	"github.com/jroos/habitloop/internal/flow"
	"github.com/jroos/habitloop/internal/genai"
	"github.com/jroos/habitloop/internal/lockfile"
	"github.com/jroos/habitloop/internal/messaging"
	"github.com/jroos/habitloop/internal/scheduler"
	"github.com/jroos/habitloop/internal/store"
	"github.com/jroos/habitloop/internal/twiliowhatsapp"
	"github.com/jroos/habitloop/internal/util"
	"github.com/jroos/habitloop/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for HabitLoop state data
	DefaultStateDir = "/var/lib/habitloop"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "habitloop.db"
	// DefaultWeeklyCron fires the weekly report Sunday 18:00 server time
	DefaultWeeklyCron = "0 18 * * 0"
	// tickCron drives the minute-granularity prompt dispatcher
	tickCron = "* * * * *"
	// watchdogCron checks the tick heartbeat every two minutes
	watchdogCron = "*/2 * * * *"
)

// timeNow is the wall clock handed to scheduled jobs.
var timeNow = time.Now

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(config, flags); err != nil {
		slog.Error("HabitLoop failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("HabitLoop exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	OpenAIKey     string
	TelegramToken string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	WhatsmeowDSN  string
	WhatsmeowOn   bool
	APIAddr       string
	WeeklyCron    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDSN      *string
	apiAddr    *string
	weeklyCron *string
	qrOutput   *string
	numeric    *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		StateDir:      util.EnvOrDefault("HABITLOOP_STATE_DIR", DefaultStateDir),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsmeowDSN:  os.Getenv("WHATSMEOW_DB_DSN"),
		WhatsmeowOn:   util.ParseBoolEnv("WHATSMEOW_ENABLE", false),
		APIAddr:       os.Getenv("API_ADDR"),
		WeeklyCron:    util.EnvOrDefault("WEEKLY_SCHEDULE", DefaultWeeklyCron),
	}

	slog.Debug("environment variables loaded",
		"HABITLOOP_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"TWILIO_CONFIGURED", config.TwilioSID != "" && config.TwilioToken != "" && config.TwilioFrom != "",
		"WHATSMEOW_ENABLE", config.WhatsmeowOn,
		"API_ADDR", config.APIAddr,
		"WEEKLY_SCHEDULE", config.WeeklyCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "Directory for state data"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "Database connection string (SQLite path or PostgreSQL URL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API listen address"),
		weeklyCron: flag.String("weekly-cron", config.WeeklyCron, "Cron expression for the weekly report"),
		qrOutput:   flag.String("qr-output", "", "Write WhatsApp login QR code to this file"),
		numeric:    flag.Bool("numeric-code", false, "Use numeric WhatsApp login code instead of QR"),
	}
	flag.Parse()
	return flags
}

// openStore selects the snapshot store backend from the DSN, defaulting
// to SQLite inside the state directory.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
	}
	if store.DetectDSNType(dsn) == "postgres" {
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

func run(config Config, flags Flags) error {
	// The snapshot store rewrites whole documents, so two instances on
	// one state directory would clobber each other.
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := flow.NewUserManager(st)
	if err != nil {
		return err
	}
	runtime, err := flow.NewRuntimeManager(st)
	if err != nil {
		return err
	}

	// The coach degrades gracefully: without an API key the responder
	// falls back to its template replies.
	var genaiClient genai.ClientInterface
	if config.OpenAIKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(config.OpenAIKey))
		if err != nil {
			return err
		}
		genaiClient = client
	} else {
		slog.Warn("OPENAI_API_KEY not set; coach replies use deterministic templates")
	}

	responder := flow.NewResponder(genaiClient)
	engine := flow.NewEngine(users, responder)
	router := messaging.NewRouter(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var services []messaging.Service
	var senders []dispatch.Sender
	var twilioSvc *messaging.TwilioService

	if config.TelegramToken != "" {
		tg, err := messaging.NewTelegramService(config.TelegramToken)
		if err != nil {
			return err
		}
		services = append(services, tg)
		senders = append(senders, tg)
	}

	// Only one WhatsApp transport at a time: Twilio when configured,
	// otherwise a direct Whatsmeow session when enabled.
	switch {
	case config.TwilioSID != "" && config.TwilioToken != "" && config.TwilioFrom != "":
		sender, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioSID),
			twiliowhatsapp.WithAuthToken(config.TwilioToken),
			twiliowhatsapp.WithFromNumber(config.TwilioFrom),
		)
		if err != nil {
			return err
		}
		twilioSvc = messaging.NewTwilioService(sender)
		services = append(services, twilioSvc)
		senders = append(senders, twilioSvc)
	case config.WhatsmeowOn:
		waOpts := []whatsapp.Option{}
		if config.WhatsmeowDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsmeowDSN))
		} else {
			waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return err
		}
		wa := messaging.NewWhatsAppService(waClient)
		services = append(services, wa)
		senders = append(senders, wa)
	}

	if len(services) == 0 {
		slog.Warn("No messaging channels configured; only the HTTP API is reachable")
	}

	dispatcher := dispatch.New(users, runtime, senders...)
	engine.SetDebugTriggers(dispatcher)

	for _, svc := range services {
		router.AddService(svc)
		if err := svc.Start(ctx); err != nil {
			return err
		}
	}
	router.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(tickCron, func() {
		dispatcher.Tick(ctx, timeNow())
	}); err != nil {
		return err
	}
	if err := sched.AddJob(*flags.weeklyCron, func() {
		dispatcher.RunWeekly(ctx, timeNow())
	}); err != nil {
		return err
	}
	if err := sched.AddJob(watchdogCron, func() {
		dispatcher.CheckHeartbeat(timeNow())
	}); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(runtime, router, twilioSvc, apiOpts...)
	if err := server.Start(ctx); err != nil {
		return err
	}

	slog.Info("HabitLoop running", "channels", len(services))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("Shutdown signal received")

	cancel()
	if err := server.Stop(); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	for _, svc := range services {
		if err := svc.Stop(); err != nil {
			slog.Error("Service shutdown failed", "error", err, "channel", svc.Channel())
		}
	}
	return nil
}
