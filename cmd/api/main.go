package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Froom3010/Froom/db"
	"github.com/Froom3010/Froom/internal/config"
	"github.com/Froom3010/Froom/internal/events"
	"github.com/Froom3010/Froom/internal/gateway"
	"github.com/Froom3010/Froom/internal/identity"
	"github.com/Froom3010/Froom/internal/presence"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	checks := map[string]gateway.Check{}

	var notifier store.Notifier = store.NewLocalNotifier()
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		log.Printf("Using Redis for change notifications and credentials")
		notifier = store.NewRedisNotifier(redisClient)
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	var dataStore store.Store
	var registry store.CredentialRegistry
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("WARNING: DATABASE_URL not set, using in-memory store")
		memory := store.NewMemoryStore()
		dataStore, registry = memory, memory
	} else {
		sqlDB, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer sqlDB.Close()

		if err := store.ApplyMigrations(ctx, sqlDB, migrations(cfg.MigrationsDir)); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		postgres := store.NewPostgresStore(sqlDB, notifier)
		dataStore, registry = postgres, postgres
	}
	if redisClient != nil {
		registry = identity.NewRedisRegistryWithClient(redisClient)
	}

	options := []presence.Option{
		presence.WithHeartbeatInterval(cfg.HeartbeatInterval),
		presence.WithOnlineWindow(cfg.OnlineWindow),
		presence.WithActivityLimit(cfg.ActivityLimit),
	}
	if len(cfg.KafkaBrokers) > 0 {
		log.Printf("Publishing activity to Kafka topic %s", cfg.ActivityTopic)
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.ActivityTopic)
		defer publisher.Close()
		options = append(options, presence.WithPublisher(publisher))
	}

	var assets *gateway.AssetCache
	if info, err := os.Stat(cfg.AssetsDir); err == nil && info.IsDir() {
		assets = gateway.NewAssetCache(cfg.AssetCache, os.DirFS(cfg.AssetsDir), nil)
		if err := assets.Install(); err != nil {
			log.Printf("WARNING: asset cache not installed, serving from disk: %v", err)
		}
	}

	httpServer := gateway.NewHTTPServer(gateway.Config{
		Store:            dataStore,
		Registry:         registry,
		CredentialSecret: []byte(cfg.CredentialSecret),
		CredentialTTL:    cfg.CredentialTTL,
		ClientOptions:    options,
		CORSOrigin:       cfg.CORSOrigin,
		Assets:           assets,
		Checks:           checks,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Froom listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// migrations prefers an on-disk directory so SQL can be changed without a
// rebuild.
func migrations(dir string) fs.FS {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir)
	}
	return db.Migrations()
}
