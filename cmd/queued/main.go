// Package main provides the queue daemon entry point: it wires a session
// store, event publishers, and the autoplay runner together.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/utabox/utabox/internal/app/autoplay"
	"github.com/utabox/utabox/internal/app/notification"
	"github.com/utabox/utabox/internal/app/session"
	"github.com/utabox/utabox/internal/infra/config"
	"github.com/utabox/utabox/internal/infra/events"
	"github.com/utabox/utabox/internal/infra/logger"
	"github.com/utabox/utabox/internal/infra/store"
)

var (
	app        = kingpin.New("queued", "utabox playback queue daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/queued.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	migrateCmd = app.Command("migrate", "Apply the database schema and exit")
)

func init() {
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	switch command {
	case migrateCmd.FullCommand():
		err = runMigrate(cfg)
	default:
		err = run(cfg)
	}
	if err != nil {
		zlog.Error().Msgf("queued error: %v", err)
		os.Exit(1)
	}
}

// run starts the autoplay sweep and blocks until SIGINT/SIGTERM.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	notifiers := []session.Notifier{notification.NewManager()}
	if cfg.Events.Redis.Enabled {
		pub := events.NewPublisher(events.Config{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Channel:  cfg.Events.Redis.Channel,
		})
		defer pub.Close()
		notifiers = append(notifiers, pub)
		zlog.Info().Msgf("publishing queue events to redis: addr=%s channel=%s",
			cfg.Events.Redis.Addr, cfg.Events.Redis.Channel)
	}

	mgr := session.NewManager(st, notifiers...)
	runner := autoplay.NewRunner(mgr, time.Duration(cfg.Autoplay.IntervalMs)*time.Millisecond)

	zlog.Info().Msgf("queued started: store=%s", cfg.Store.Driver)
	runner.Run(ctx)
	return nil
}

// runMigrate applies the postgres schema and exits.
func runMigrate(cfg *config.Config) error {
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrate requires the postgres store driver, got %q", cfg.Store.Driver)
	}
	db, err := openPostgres(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	zlog.Info().Msg("schema migration complete")
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		db, err := openPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to reach postgres: %w", err)
		}
		return store.NewPostgres(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openPostgres(cfg *config.Config) (*sql.DB, error) {
	ps, err := cfg.Store.PostgresSettings()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", ps.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(ps.MaxOpenConns)
	db.SetMaxIdleConns(ps.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(ps.ConnMaxLifeMins) * time.Minute)
	return db, nil
}
