package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/berthcare/berthcare/pkg/api"
	"github.com/berthcare/berthcare/pkg/audit"
	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/clients"
	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/geocode"
	"github.com/berthcare/berthcare/pkg/identity"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/notify"
	"github.com/berthcare/berthcare/pkg/objectstore"
	"github.com/berthcare/berthcare/pkg/security"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/token"
	"github.com/berthcare/berthcare/pkg/visits"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the BerthCare API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	log.Logger.Info().
		Str("component", "main").
		Str("version", Version).
		Str("profile", string(cfg.Profile)).
		Msg("Starting BerthCare server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing stores.
	db, err := storage.Open(cfg.DatabaseURL, cfg.DBPoolMin, cfg.DBPoolMax)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer func() { _ = db.Close() }()

	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to configure redis: %w", err)
	}
	defer func() { _ = redisCache.Close() }()

	// Signing keys: the Secrets Manager fetcher is only dialed when the
	// configuration points at an ARN.
	var fetcher security.SecretFetcher
	if cfg.JWTKeysSecretARN != "" {
		smFetcher, err := security.NewSecretsManagerFetcher(ctx, cfg.AWSRegion)
		if err != nil {
			return fmt.Errorf("failed to configure secrets manager: %w", err)
		}
		fetcher = smFetcher
	}
	keys, err := security.LoadKeySet(ctx, cfg, fetcher)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}

	objects, err := objectstore.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure object store: %w", err)
	}

	// Stores.
	userStore := storage.NewUserStore(db)
	refreshStore := storage.NewRefreshTokenStore(db)
	clientStore := storage.NewClientStore(db)
	visitStore := storage.NewVisitStore(db)
	zoneStore := storage.NewZoneStore(db)
	alertStore := storage.NewAlertStore(db)
	auditStore := audit.NewStore(db)

	// Services.
	tokens := token.NewService(keys)
	hasher := security.NewHasher()
	blacklist := cache.NewBlacklist(redisCache)
	limiter := cache.NewRateLimiter(redisCache)
	geocoder := geocode.New(cfg.GeocoderBaseURL, cfg.GeocoderAPIKey, redisCache)
	assigner := geocode.NewZoneAssigner(zoneStore, redisCache)

	identitySvc := identity.NewService(userStore, refreshStore, zoneStore, tokens, hasher, blacklist)
	go identitySvc.RunHousekeeping(ctx, time.Hour)
	clientSvc := clients.NewService(clientStore, geocoder, assigner, redisCache, auditStore)
	visitSvc := visits.NewService(visitStore, clientStore, objects, redisCache, auditStore)

	dispatcher := notify.NewDispatcher(256)
	dispatcher.Start(4)
	defer dispatcher.Stop()

	sender := notify.NewTwilioSender(cfg)
	alertSvc := notify.NewService(alertStore, userStore, clientStore, sender, dispatcher, cfg.PublicWebhookBase)
	go alertSvc.RunEscalation(ctx, time.Minute)

	server := api.NewServer(api.Deps{
		Config:    cfg,
		DB:        db,
		Cache:     redisCache,
		Blacklist: blacklist,
		Limiter:   limiter,
		Tokens:    tokens,
		Identity:  identitySvc,
		Clients:   clientSvc,
		Visits:    visitSvc,
		Alerts:    alertSvc,
		Zones:     zoneStore,
		Objects:   objects,
	})

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Logger.Info().Str("component", "main").Msg("Server stopped")
	return nil
}
