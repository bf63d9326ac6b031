// Package main is the entrypoint for sandboxd: the worker process that
// hosts the Supervisor, its resource registry, and a small debug HTTP
// surface (health check and live log streaming).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/vortex/sandboxd/internal/funcstore"
	"github.com/vortex/sandboxd/internal/logstream"
	"github.com/vortex/sandboxd/internal/resource"
	"github.com/vortex/sandboxd/internal/resources/httpres"
	"github.com/vortex/sandboxd/internal/resources/jsinit"
	"github.com/vortex/sandboxd/internal/resources/kv"
	"github.com/vortex/sandboxd/internal/resources/logres"
	"github.com/vortex/sandboxd/internal/resources/outbound"
	"github.com/vortex/sandboxd/internal/rlimit"
	"github.com/vortex/sandboxd/internal/supervisor"
	"github.com/vortex/sandboxd/internal/transport"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting sandboxd...")

	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Printf("Warning: Redis connection failed (kv quotas and log streaming degraded): %v", err)
	} else {
		log.Println("Connected to Redis successfully")
	}

	store, err := buildFunctionStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize function store: %v", err)
	}

	registry := resource.NewRegistry()
	registry.Add("kv", kv.New(redisClient, cfg.KeysPerUser))
	registry.Add("outbound", outbound.New(noopSubmitter{}))
	registry.Add("http", httpres.New(&http.Client{}, cfg.HTTPTimeout, cfg.HTTPBodyLimit))
	registry.EnsureDefaults("log", logres.New(redisClient, nil))
	registry.EnsureDefaults("js", jsinit.New(store, cfg.JSFunctionRef, cfg.JSAppContext))

	launcher := rlimit.NewLauncher(cfg.TrampolinePath)
	resolver := supervisor.JSResolver{EntryScript: cfg.EntryScript}

	sup := supervisor.New(supervisor.Config{
		Launcher:       launcher,
		Resolver:       resolver,
		DefaultCwd:     cfg.Cwd,
		DefaultTimeout: cfg.Timeout,
		RecvLimit:      cfg.RecvLimit,
		MaxConcurrent:  cfg.MaxConcurrent,
		SystemLog:      log.Default(),
	})

	logHandler := logstream.NewHandler(redisClient, log.Default())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","active_sandboxes":%d}`, sup.ActiveCount())
	})
	logHandler.RegisterRoutes(r)
	registerDebugRoutes(r, sup, registry, cfg)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("sandboxd stopped")
}

// config holds sandboxd's flat, env-var driven bootstrap configuration
// (Non-goals exclude configuration parsing as core scope, but the
// bootstrap binary still needs some shape — this follows the teacher's
// cmd/server/main.go Config+getEnv pattern).
type config struct {
	ListenAddr     string
	RedisAddr      string
	TrampolinePath string
	EntryScript    string
	Cwd            string
	Timeout        time.Duration
	RecvLimit      int64
	MaxConcurrent  int
	KeysPerUser    int
	HTTPTimeout    time.Duration
	HTTPBodyLimit  int64
	JSFunctionRef  string
	JSAppContext   string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	UseLocalStore  bool
	LocalStoreDir  string
}

func loadConfig() config {
	return config{
		ListenAddr:     getEnv("SANDBOXD_ADDR", ":8080"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		TrampolinePath: getEnv("SANDBOX_TRAMPOLINE_PATH", "./sandbox-trampoline"),
		EntryScript:    getEnv("SANDBOX_ENTRY_SCRIPT", "./sandbox-entry.js"),
		Cwd:            getEnv("SANDBOX_CWD", "."),
		Timeout:        getEnvDuration("SANDBOX_TIMEOUT_SECONDS", 60) * time.Second,
		RecvLimit:      getEnvInt64("SANDBOX_RECV_LIMIT_BYTES", 1<<20),
		MaxConcurrent:  int(getEnvInt64("SANDBOX_MAX_CONCURRENT", 0)),
		KeysPerUser:    int(getEnvInt64("SANDBOX_KEYS_PER_USER", 100)),
		HTTPTimeout:    getEnvDuration("SANDBOX_HTTP_TIMEOUT_SECONDS", 30) * time.Second,
		HTTPBodyLimit:  getEnvInt64("SANDBOX_HTTP_BODY_LIMIT_BYTES", 128*1024),
		JSFunctionRef:  getEnv("SANDBOX_JS_FUNCTION_REF", ""),
		JSAppContext:   getEnv("SANDBOX_JS_APP_CONTEXT", ""),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:    getEnv("MINIO_BUCKET", "sandbox-functions"),
		MinIOUseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		UseLocalStore:  getEnv("SANDBOX_FUNCTION_STORE", "blob") == "local",
		LocalStoreDir:  getEnv("SANDBOX_LOCAL_FUNCTION_DIR", "./functions"),
	}
}

func buildFunctionStore(ctx context.Context, cfg config) (funcstore.Store, error) {
	if cfg.UseLocalStore {
		return funcstore.NewLocalFileStore(cfg.LocalStoreDir), nil
	}
	return funcstore.NewBlobFunctionStoreWithRetry(ctx, funcstore.BlobFunctionStoreConfig{
		Endpoint:        cfg.MinIOEndpoint,
		AccessKeyID:     cfg.MinIOAccessKey,
		SecretAccessKey: cfg.MinIOSecretKey,
		BucketName:      cfg.MinIOBucket,
		UseSSL:          cfg.MinIOUseSSL,
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var parsed int64
	if _, err := fmt.Sscanf(value, "%d", &parsed); err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultSeconds int64) time.Duration {
	return time.Duration(getEnvInt64(key, defaultSeconds))
}

// noopSubmitter is the default outbound submission path until a real
// transport adapter is injected (spec §1 "the outbound message submission
// path" is an external collaborator, out of core scope).
type noopSubmitter struct{}

func (noopSubmitter) Submit(ctx context.Context, msg transport.OutboundMessage) error { return nil }
