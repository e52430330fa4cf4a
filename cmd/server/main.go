package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certd/config"
	"certd/internal/certmgr"
	"certd/internal/directory"
	"certd/internal/handlers"
	"certd/internal/logger"
	"certd/internal/metrics"
	"certd/internal/remote"
	"certd/internal/rights"
	"certd/internal/upload"
	"certd/internal/vault"
	"certd/internal/version"
	"certd/middleware"
)

const (
	uploadCleanupInterval = time.Minute
	shutdownTimeout       = 10 * time.Second
	// Installs run several tool invocations back to back.
	writeTimeout = 10 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		logger.Get().Error().Err(err).Msg("certd stopped with error")
		os.Exit(1)
	}
}

// routerDeps are the collaborators the HTTP surface needs.
type routerDeps struct {
	Service  handlers.CertService
	Observer handlers.OperationObserver
	Auth     *handlers.Auth
	Uploads  handlers.Uploader
	Gatherer prometheus.Gatherer
	Probes   map[string]handlers.ReadinessProbe
	Status   http.HandlerFunc
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Init(cfg.LogLevel)
	log := logger.Get()
	log.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Msg("certd starting")
	log.Info().
		Str("env", string(cfg.Env)).
		Str("log_level", cfg.LogLevel).
		Str("directory", cfg.Directory.Backend).
		Str("local_server", cfg.CertMgr.LocalServer).
		Msg("Configuration loaded")

	store, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	vaultClient := vault.NewDisabledClient()
	if cfg.Vault.Enabled {
		vaultClient, err = vault.NewClientFromConfig(cfg.Vault)
		if err != nil {
			return fmt.Errorf("initialize vault client: %w", err)
		}
		log.Info().Str("vault_addr", cfg.Vault.Addr).Str("kv_mount", cfg.Vault.KVMount).Msg("Vault key store enabled")
	}
	defer vaultClient.Shutdown()
	keyStore := vault.NewKeyOverlay(store, vaultClient)

	acl, err := rights.LoadACL(cfg.Auth.AccountsFile)
	if err != nil {
		return err
	}
	sessions := rights.NewSessionStore(cfg.Auth.SessionTTL)

	uploads := upload.NewStore(cfg.Uploads.TTL, cfg.Uploads.MaxBytes)
	uploads.StartCleanup(uploadCleanupInterval)
	defer uploads.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(metrics.NewCertificateCollector(keyStore, vaultClient, cfg.ExpiryWarningDays))
	recorder := metrics.NewRecorder(registry)

	executor, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	service := certmgr.NewService(certmgr.Deps{
		Store:    keyStore,
		Rights:   acl,
		Executor: recorder.Executor(executor),
		Uploads:  uploads,
		ToolPath: cfg.CertMgr.ToolPath,
		TempDir:  cfg.CertMgr.TempDir,
	})

	router := buildRouter(cfg, routerDeps{
		Service:  service,
		Observer: recorder,
		Auth:     handlers.NewAuth(acl, sessions, cfg.IsProd()),
		Uploads:  uploads,
		Gatherer: registry,
		Probes: map[string]handlers.ReadinessProbe{
			"directory": func(ctx context.Context) error {
				_, err := store.GetLocalServer(ctx)
				return err
			},
		},
		Status: newStatusHandler(cfg, store, vaultClient),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	go pruneSessions(ctx, sessions, cfg.Auth.SessionTTL)
	go reloadOnHangup(ctx, vaultClient)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func openDirectory(cfg config.Config) (directory.Store, error) {
	switch cfg.Directory.Backend {
	case "ldap":
		return directory.NewLDAPStore(directory.LDAPConfig{
			URL:          cfg.Directory.LDAP.URL,
			BindDN:       cfg.Directory.LDAP.BindDN,
			BindPassword: cfg.Directory.LDAP.BindPassword,
			BaseDN:       cfg.Directory.LDAP.BaseDN,
			LocalServer:  cfg.CertMgr.LocalServer,
		}), nil
	default:
		store, err := directory.LoadMemoryStore(cfg.Directory.SeedFile, cfg.CertMgr.LocalServer)
		if err != nil {
			return nil, fmt.Errorf("open directory: %w", err)
		}
		return store, nil
	}
}

// newExecutor runs the tool locally for the local server and over SSH for
// every other one. Without an SSH key only the local server is reachable.
func newExecutor(cfg config.Config) (remote.Executor, error) {
	local := remote.NewLocalExecutor(cfg.SSH.CommandTimeout)
	if cfg.SSH.PrivateKeyPath == "" {
		logger.Get().Warn().Msg("remote manager disabled, only the local server can be managed")
		return remote.NewRouter(cfg.CertMgr.LocalServer, local, nil), nil
	}
	ssh, err := remote.NewSSHExecutor(cfg.SSH)
	if err != nil {
		return nil, fmt.Errorf("initialize remote manager: %w", err)
	}
	return remote.NewRouter(cfg.CertMgr.LocalServer, local, ssh), nil
}

func pruneSessions(ctx context.Context, sessions *rights.SessionStore, ttl time.Duration) {
	interval := ttl / 2
	if interval <= 0 || interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Prune()
		}
	}
}

// reloadOnHangup drops cached Vault keys on SIGHUP so rotated secrets are
// picked up without a restart.
func reloadOnHangup(ctx context.Context, vaultClient vault.Client) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			vaultClient.InvalidateCache()
			logger.Get().Info().Msg("vault key cache cleared")
		}
	}
}

func buildRouter(cfg config.Config, deps routerDeps) *chi.Mux {
	r := chi.NewRouter()

	// Middleware must be registered before any routes
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORS.AllowedOrigins
	cors.AllowCredentials = cfg.CORS.AllowCredentials
	r.Use(middleware.CORS(cors))
	// Uploads carry their own limit and are exempt from the JSON cap.
	r.Use(bodyLimitExcept("/api/uploads", middleware.BodyLimit(jsonBodyLimit)))
	limits := middleware.DefaultRateLimitConfig()
	limits.TrustProxy = cfg.TrustProxy
	r.Use(middleware.RateLimit(limits))
	r.Use(middleware.CSRFProtection)

	r.Get("/api/health", handlers.HealthCheck)
	r.Get("/api/ready", handlers.ReadinessCheck(deps.Probes))
	if deps.Status != nil {
		r.Get("/api/status", deps.Status)
	}
	r.Get("/api/version", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(version.Info())
	})
	r.Get("/api/config", handlers.GetConfig(cfg))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	loginLimits := middleware.LoginRateLimitConfig()
	loginLimits.TrustProxy = cfg.TrustProxy
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(loginLimits))
		handlers.RegisterAuthRoutes(r, deps.Auth)
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.RequireCaller)
		handlers.RegisterCertRoutes(r, deps.Service, deps.Observer)
		handlers.RegisterUploadRoutes(r, deps.Uploads, cfg.Uploads.MaxBytes)
	})
	return r
}

// jsonBodyLimit fits the largest verify payload with room for JSON escaping.
const jsonBodyLimit = 1 << 20

func bodyLimitExcept(path string, limit func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
