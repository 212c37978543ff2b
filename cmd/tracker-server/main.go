package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/tracker/pkg/api"
	"github.com/psantana5/tracker/pkg/auth"
	"github.com/psantana5/tracker/pkg/config"
	"github.com/psantana5/tracker/pkg/logging"
	"github.com/psantana5/tracker/pkg/metrics"
	"github.com/psantana5/tracker/pkg/notify"
	"github.com/psantana5/tracker/pkg/ratelimit"
	"github.com/psantana5/tracker/pkg/seed"
	"github.com/psantana5/tracker/pkg/shutdown"
	"github.com/psantana5/tracker/pkg/store"
	tlsutil "github.com/psantana5/tracker/pkg/tls"
	"github.com/psantana5/tracker/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before the environment")
	certHosts := flag.String("cert-hosts", "", "Comma-separated hostnames or IPs added to a generated certificate")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	logger.Info("Starting tracker server", map[string]interface{}{
		"address":  cfg.Server.Address,
		"database": cfg.Database.Type,
		"tls":      cfg.Server.TLS,
	})

	if err := run(cfg, logger, splitList(*certHosts)); err != nil {
		logger.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, logger *logging.Logger, certHosts []string) error {
	dataStore, err := store.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if cfg.Database.Type == "memory" {
		logger.Warn("Using in-memory store, data will not survive restarts")
	}

	sm := shutdown.New(cfg.Server.ShutdownTimeout, logger)
	sm.Register("store", shutdown.CloseResource(dataStore))

	if cfg.Server.SeedFile != "" {
		if err := seedStore(dataStore, cfg.Server.SeedFile, logger); err != nil {
			return err
		}
	}

	provider, err := tracing.InitTracer(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	sm.Register("tracing", provider.Shutdown)

	opts := api.Options{
		Store:     dataStore,
		Settings:  cfg.Settings,
		Sessions:  auth.NewSessionManager(sessionSecret(cfg, logger), cfg.Auth.SessionTTL),
		Logger:    logger,
		Deliverer: notify.NewLogDeliverer(logger),
	}
	if cfg.Tracing.Enabled {
		opts.Tracing = provider
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		opts.Metrics = m
		if path := cfg.Metrics.SnapshotPath; path != "" {
			sm.Register("metrics-snapshot", func(ctx context.Context) error {
				return m.WriteSnapshot(path)
			})
		}
	}

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		opts.Limiter = limiter
		go cleanupLimiters(limiter, cfg.RateLimit.CleanupInterval, sm.Done(), logger)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewServer(opts).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Server.TLS {
		if err := ensureCertificate(cfg.Server, certHosts, logger); err != nil {
			return err
		}
		tlsConfig, err := tlsutil.LoadServerConfig(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS config: %w", err)
		}
		srv.TLSConfig = tlsConfig
	} else {
		logger.Warn("TLS disabled")
	}
	sm.Register("http", shutdown.StopHTTPServer(srv))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening", map[string]interface{}{"address": srv.Addr})
		var err error
		if cfg.Server.TLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err, ok := <-serveErr; ok {
			logger.Error("HTTP server error", map[string]interface{}{"error": err.Error()})
			cancel()
		}
	}()
	return sm.WaitWithContext(ctx)
}

// seedStore loads fixtures into a store that has no users yet
func seedStore(s store.Store, path string, logger *logging.Logger) error {
	ctx := context.Background()
	users, err := s.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("check store before seeding: %w", err)
	}
	if len(users) > 0 {
		logger.Info("Store already populated, skipping seed", map[string]interface{}{"seed_file": path})
		return nil
	}
	fixtures, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	summary, err := seed.Apply(ctx, s, fixtures)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	logger.Info("Store seeded", map[string]interface{}{
		"seed_file":     path,
		"users":         summary.Users,
		"projects":      summary.Projects,
		"work_packages": summary.WorkPackages,
		"watchers":      summary.Watchers,
	})
	return nil
}

// sessionSecret falls back to a random per-process secret, which invalidates
// sessions on restart
func sessionSecret(cfg *config.Config, logger *logging.Logger) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	secret, err := auth.GenerateSecret()
	if err != nil {
		logger.Fatal("Failed to generate session secret", map[string]interface{}{"error": err.Error()})
	}
	logger.Warn("auth.jwt_secret not set, sessions will not survive a restart")
	return secret
}

func ensureCertificate(cfg config.ServerConfig, hosts []string, logger *logging.Logger) error {
	if _, err := os.Stat(cfg.CertFile); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if !cfg.GenerateCert {
		return fmt.Errorf("certificate %s not found and server.generate_cert is off", cfg.CertFile)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.CertFile), 0o755); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	if err := tlsutil.GenerateSelfSignedCert(cfg.CertFile, cfg.KeyFile, "tracker", hosts...); err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	logger.Info("Self-signed certificate generated", map[string]interface{}{
		"cert":  cfg.CertFile,
		"key":   cfg.KeyFile,
		"hosts": hosts,
	})
	return nil
}

func cleanupLimiters(l *ratelimit.Limiter, every time.Duration, done <-chan struct{}, logger *logging.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.CleanupOldLimiters(every); n > 0 {
				logger.Debug("Removed idle rate limiters", map[string]interface{}{"count": n})
			}
		case <-done:
			return
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
