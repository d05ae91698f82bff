package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hospital-backend/internal/config"
	"hospital-backend/internal/db"
	"hospital-backend/internal/logging"
	"hospital-backend/internal/resource"
	"hospital-backend/internal/server"
	"hospital-backend/internal/storage"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	messagesCollection     = "messages"
	usersCollection        = "users"
	appointmentsCollection = "appointments"
)

func main() {
	// SIGINT (Ctrl+C) or SIGTERM (container stop) cancels ctx and starts a
	// graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdout)
	stop()
	os.Exit(code)
}

// run starts the service and blocks until ctx is cancelled or a fatal error
// occurs. It returns the process exit code.
func run(ctx context.Context, stdout io.Writer) int {
	boot := logging.New(stdout, logging.Options{Format: os.Getenv("LOG_FORMAT")}).
		With().Str("service", "backend").Logger()

	cfg, err := config.Load(".env")
	if err != nil {
		boot.Error().Err(err).Msg("config_load_failed")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, db.ErrMissingURI) {
			boot.Error().Msg(db.ErrMissingURI.Error())
		}
		boot.Error().Err(err).Msg("config_invalid")
		return 1
	}

	log := logging.New(stdout, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}).
		With().Str("service", "backend").Logger()
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	// Interfaces stay nil when storage is not configured so the routers and
	// health check can tell.
	var (
		uploader     resource.Uploader
		storageCheck server.Checker
	)
	if cfg.StorageConfigured() {
		client, err := storage.New(storage.Config{
			Endpoint:  cfg.StorageEndpoint,
			Bucket:    cfg.StorageBucket,
			AccessKey: cfg.StorageAPIKey,
			SecretKey: cfg.StorageAPISecret,
			PublicURL: cfg.StoragePublicURL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("storage_config_invalid - attachment uploads disabled")
		} else {
			uploader, storageCheck = client, client
			log.Info().Str("bucket", client.Bucket()).Msg("storage_configured")
		}
	}

	conn := db.NewConnector(db.Options{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
		Timeout:  cfg.ConnectTimeout,
		Logger:   log,
	})

	if cfg.AwaitDatabase {
		if err := conn.Connect(ctx); err != nil {
			// A signal while waiting is a requested stop, not a failure.
			if ctx.Err() != nil {
				log.Info().Msg("shutdown_complete")
				return 0
			}
			log.Error().Err(err).Msg("startup_aborted")
			return 1
		}
	}

	srv := server.New(server.Config{
		Addr:           cfg.Addr(),
		Version:        version,
		AllowedOrigins: cfg.AllowedOrigins,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxJSONBytes:   cfg.MaxJSONBytes,
		Mounts: []server.Mount{
			{Prefix: "/message", Handler: resource.NewRouter(db.NewCollection(conn, messagesCollection), uploader)},
			{Prefix: "/user", Handler: resource.NewRouter(db.NewCollection(conn, usersCollection), uploader)},
			{Prefix: "/appointment", Handler: resource.NewRouter(db.NewCollection(conn, appointmentsCollection), uploader)},
		},
		Database: conn,
		Storage:  storageCheck,
		Logger:   log,
	})

	ln, err := srv.Listen()
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.Addr()).Msg("listen_failed")
		disconnect(conn, cfg, log)
		return 1
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	log.Info().Str("addr", ln.Addr().String()).Str("version", version).Msgf("server running on port %s", port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ln)
	})
	if !cfg.AwaitDatabase {
		g.Go(func() error {
			err := conn.Connect(gctx)
			if err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	disconnect(conn, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("server_error")
		return 1
	}
	log.Info().Msg("shutdown_complete")
	return 0
}

func disconnect(conn *db.Connector, cfg config.Config, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("db_disconnect_failed")
	}
}
