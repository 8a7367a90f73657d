package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/turflads/crazy-bids-sub000/go/internal/auction"
	"github.com/turflads/crazy-bids-sub000/go/internal/dbconfig"
	"github.com/turflads/crazy-bids-sub000/go/internal/gateway"
	"github.com/turflads/crazy-bids-sub000/go/internal/roster"
	"github.com/turflads/crazy-bids-sub000/go/internal/store"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := getEnv("CONFIG_PATH", "config.yaml")
	config, err := loadConfig(configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("no config file, using defaults")
		config = &Config{}
	}
	port := getEnv("PORT", config.Server.Port)
	if port == "" {
		port = "8080"
	}
	natsURL := getEnv("NATS_URL", config.NATS.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, dsn := setupStore(ctx, config)
	seedInitialDocuments(ctx, st, config)

	relayConfig := gateway.DefaultRelayConfig()
	relayConfig.URL = natsURL

	gatewayService, err := gateway.NewService(gateway.Config{
		ConnectionConfig: gateway.DefaultConnectionConfig(),
		RelayConfig:      relayConfig,
	}, st, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	// Watch for writes from other processes (seed tool, sibling servers on
	// the same database) and push them to connected clients.
	if st.Persistent() {
		listenerConfig := store.DefaultListenerConfig()
		listenerConfig.DatabaseURL = dsn
		listener, err := store.NewListener(st, func(kind store.Kind, doc json.RawMessage) {
			gatewayService.Broadcast(gateway.Message{
				Type:      gateway.MessageTypeForKind(kind),
				Timestamp: time.Now(),
				Data:      doc,
			})
		}, listenerConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start document listener")
		}
		go func() {
			if err := listener.Start(ctx); err != nil {
				log.Error().Err(err).Msg("document listener failed")
			}
		}()
	}

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	server := setupServer(port, gatewayService)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give services time to clean up
	time.Sleep(1 * time.Second)

	log.Info().Msg("sync server shutdown complete")
}

// seedInitialDocuments writes fresh documents when the store is empty and
// the config declares a roster source and teams. Existing documents are
// never touched; mid-event reseeding stays an explicit operator action
// through the seed tool.
func seedInitialDocuments(ctx context.Context, st *store.Store, config *Config) {
	if len(config.Teams) == 0 {
		return
	}
	var provider roster.Provider
	switch {
	case config.Roster.URL != "":
		provider = roster.NewHTTPProvider(config.Roster.URL)
	case config.Roster.File != "":
		provider = roster.NewFileProvider(config.Roster.File)
	default:
		return
	}

	existing, err := st.Get(ctx, store.KindAuction)
	if err != nil {
		log.Error().Err(err).Msg("failed to check for existing auction document")
		return
	}
	if existing != nil {
		return
	}

	players, err := provider.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load roster for initial seed")
		return
	}
	auctionDoc, teamsDoc, err := auction.Reset(players, config.TeamModels())
	if err != nil {
		log.Error().Err(err).Msg("failed to build initial documents")
		return
	}

	auctionJSON, err := json.Marshal(auctionDoc)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal initial auction document")
		return
	}
	teamsJSON, err := json.Marshal(teamsDoc)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal initial teams document")
		return
	}
	if err := st.Put(ctx, store.KindAuction, auctionJSON); err != nil {
		log.Error().Err(err).Msg("failed to seed auction document")
		return
	}
	if err := st.Put(ctx, store.KindTeams, teamsJSON); err != nil {
		log.Error().Err(err).Msg("failed to seed teams document")
		return
	}

	log.Info().
		Int("players", len(players)).
		Int("teams", len(config.Teams)).
		Int("grade_tiers", len(config.GradeRules())).
		Msg("seeded initial documents")
}

// setupStore connects Postgres persistence unless it is disabled, returning
// the store and the DSN for the notify listener.
func setupStore(ctx context.Context, config *Config) (*store.Store, string) {
	if config.Database.Disabled {
		return store.New(nil), ""
	}

	dsn := dbconfig.DSNFromEnv()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	repo, err := store.NewPgRepository(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare documents table")
	}

	log.Info().Msg("connected to database")
	return store.New(repo), dsn
}
