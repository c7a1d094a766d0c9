// Command apigate-proxy exposes the caching and rate-limiting engine as a
// small HTTP proxy. Requests on /api/{client}/{endpoint} go through the
// full cache -> rate limit -> upstream pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/apigate/pkg/cache"
	"github.com/Sternrassler/apigate/pkg/client"
	"github.com/Sternrassler/apigate/pkg/config"
	"github.com/Sternrassler/apigate/pkg/logging"
	"github.com/Sternrassler/apigate/pkg/manager"
	"github.com/Sternrassler/apigate/pkg/ratelimit"
	"github.com/Sternrassler/apigate/pkg/storage/redisstore"
	"github.com/Sternrassler/apigate/pkg/storage/sqlitestore"
	"github.com/Sternrassler/apigate/pkg/sweep"
	"github.com/Sternrassler/apigate/pkg/transport"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})

	configPath := getEnv("CONFIG_FILE", "apigate.yaml")
	registry, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}
	logger.Info().Strs("clients", registry.Names()).Msg("Configuration loaded")

	store, cleanup, err := openStore(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer cleanup()

	limiter := ratelimit.NewLimiter(store.ratelimit, registry, logging.NewLogger("ratelimit"))
	mgr := manager.NewManager(store.cache, limiter, registry, logging.NewLogger("manager"))

	executor := transport.NewHTTPExecutor(30 * time.Second)
	gateClient, err := client.New(mgr, registry, executor)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create client")
	}

	// Periodic expiry sweep
	sweeper := sweep.NewSweeper(store.cache, sweep.DefaultConfig())
	sweepInterval := 5 * time.Minute
	if raw := getEnv("SWEEP_INTERVAL", ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			sweepInterval = parsed
		}
	}
	go runSweepLoop(context.Background(), sweeper, registry.Names(), sweepInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/", proxyHandler(gateClient, logger))

	addr := ":" + getEnv("PORT", "8080")
	logger.Info().Str("addr", addr).Msg("Starting apigate proxy")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// storeSet bundles the two storage contracts, which one backend serves.
type storeSet struct {
	cache     cache.Store
	ratelimit ratelimit.Store
}

// openStore picks the storage backend: Redis when REDIS_URL is set,
// otherwise SQLite at SQLITE_PATH.
func openStore(logger zerolog.Logger) (*storeSet, func(), error) {
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", redisURL, err)
		}
		logger.Info().Str("addr", redisURL).Msg("Using Redis storage")
		store := redisstore.New(redisClient)
		return &storeSet{cache: store, ratelimit: store}, func() { redisClient.Close() }, nil
	}

	path := getEnv("SQLITE_PATH", "apigate.db")
	store, err := sqlitestore.New(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("Using SQLite storage")
	return &storeSet{cache: store, ratelimit: store}, func() { store.Close() }, nil
}

func runSweepLoop(ctx context.Context, sweeper *sweep.Sweeper, clients []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweeper.Run(ctx, clients)
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// proxyHandler routes /api/{client}/{endpoint...} through the engine.
func proxyHandler(gateClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		clientName, endpoint, _ := strings.Cut(rest, "/")
		if clientName == "" {
			http.Error(w, "missing client name", http.StatusBadRequest)
			return
		}

		params := make(map[string]any, len(r.URL.Query()))
		for k := range r.URL.Query() {
			params[k] = r.URL.Query().Get(k)
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		resp, err := gateClient.Request(ctx, clientName, r.Method, "/"+endpoint, client.Options{
			Params: params,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.Header().Set("X-Apigate-Cached", fmt.Sprintf("%t", resp.Cached))
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(resp.Body); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	var limitErr *ratelimit.RateLimitExceededError
	switch {
	case errors.Is(err, config.ErrUnknownClient):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &limitErr):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limitErr.AvailableIn.Seconds())+1))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":        "rate limit exceeded",
			"client":       limitErr.Client,
			"available_in": limitErr.AvailableIn.Seconds(),
		})
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
