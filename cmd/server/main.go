package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ephemchat/roomstate/internal/api"
	"github.com/ephemchat/roomstate/internal/config"
	"github.com/ephemchat/roomstate/internal/coordinator"
	"github.com/ephemchat/roomstate/internal/security"
	"github.com/ephemchat/roomstate/internal/stats"
	"github.com/ephemchat/roomstate/internal/store"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	redisAddr      string
	redisEnabled   bool
	ttlSeconds     int
	environment    string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	flag.StringVar(&addr, "addr", envOr("SERVER_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "redis address")
	flag.BoolVar(&redisEnabled, "redis-enabled", envOr("REDIS_ENABLED", "true") == "true", "enable the redis backend; disabling forces fallback-only operation")
	flag.IntVar(&ttlSeconds, "ttl", envIntOr("ROOM_TTL_SECONDS", 86400), "room state TTL in seconds")
	flag.StringVar(&environment, "env", envOr("ENVIRONMENT", "production"), "environment name")
	flag.StringVar(&signingKey, "signing-key", envOr("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[roomstate] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, redisAddr, redisEnabled, ttlSeconds, environment, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var primary store.Backend
	if cfg.RedisEnabled {
		primary = store.NewRedisBackend(store.RedisOptions{
			Addr:           cfg.RedisAddr,
			ConnectTimeout: cfg.ConnectTimeout,
			CommandTimeout: cfg.CommandTimeout,
			RoomTTL:        cfg.RoomTTL,
		})
	} else {
		logger.Println("redis disabled, running on the in-process fallback store only")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	roomStore := store.NewRoomStateStore(logger, primary, statsUpdater)
	coord := coordinator.NewCoordinator(logger, roomStore, statsUpdater)
	gate := security.NewDefaultGate(logger)

	srv := api.NewRoomStateApp(mux, logger, coord, roomStore, gate, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go roomStore.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down room state store...")
	if err := roomStore.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("room state store shutdown:", err)
	}

	logger.Println("shutdown complete")
}
