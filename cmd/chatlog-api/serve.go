package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/chatlog/internal/adapters/events"
	httpadapter "github.com/PabloGalante/chatlog/internal/adapters/http"
	"github.com/PabloGalante/chatlog/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/chatlog/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/chatlog/internal/adapters/storage/memory"
	redisstore "github.com/PabloGalante/chatlog/internal/adapters/storage/redis"
	sqlitestore "github.com/PabloGalante/chatlog/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/chatlog/internal/app/conversation"
	"github.com/PabloGalante/chatlog/internal/auth"
	"github.com/PabloGalante/chatlog/internal/config"
	"github.com/PabloGalante/chatlog/internal/domain"
	"github.com/PabloGalante/chatlog/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port    string
		backend string
		gateway string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("storage") {
				cfg.StorageBackend = backend
			}
			if cmd.Flags().Changed("gateway") {
				cfg.Gateway = gateway
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			observability.Configure(os.Stdout, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides config)")
	cmd.Flags().StringVar(&backend, "storage", "", "storage backend: memory, sqlite, redis or firestore")
	cmd.Flags().StringVar(&gateway, "gateway", "", "answer gateway: mock, http, vertex, gemini, openai or anthropic")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func openStore(ctx context.Context, cfg *config.Config) (domain.SessionStore, error) {
	log := observability.Logger()

	switch cfg.StorageBackend {
	case "sqlite":
		dsn, err := sqlitestore.DSNForFile(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite storage")
		return sqlitestore.NewStore(dsn)
	case "redis":
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis storage")
		return redisstore.NewStore(ctx, cfg.RedisAddr)
	case "firestore":
		log.Info().Str("project", cfg.GCPProjectID).Msg("using firestore storage")
		return firestorestore.NewStore(ctx, cfg.GCPProjectID, "")
	default:
		log.Info().Msg("using in-memory storage")
		return memstore.NewSessionStore(), nil
	}
}

func openBus(ctx context.Context, cfg *config.Config) (*events.Bus, error) {
	if cfg.EventsBackend != "redis" {
		return events.NewMemoryBus(), nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "event bus: ping redis %s", cfg.RedisAddr)
	}
	return events.NewRedisBus(client)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := observability.Logger()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open session store")
	}
	defer store.Close()

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	gateway, err := llm.New(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "build answer gateway")
	}
	log.Info().Str("gateway", cfg.Gateway).Dur("timeout", cfg.GatewayTimeout).Msg("answer gateway ready")

	authn, err := auth.NewJWTAuthenticator(cfg.JWTSecret)
	if err != nil {
		return err
	}

	svc := conversation.NewService(gateway, store, bus)
	handler := httpadapter.NewServer(svc, authn, httpadapter.Options{
		Events:     bus,
		CORSOrigin: cfg.CORSOrigin,
	})

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("mode", string(cfg.Mode)).Str("storage", cfg.StorageBackend).Msg("chatlog api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})
	return eg.Wait()
}
