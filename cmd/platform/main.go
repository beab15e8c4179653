// Command platform runs the agent task economy as a single process:
// identity, ledger, board, court, and reputation all share one embedded
// store and one write coordinator, fronted by one HTTP router. A
// multi-process deployment would split these across the Endpoints config
// and talk over the same envelope-carrying HTTP contract instead.
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/config"
	"github.com/agentyard/exchange/internal/court"
	"github.com/agentyard/exchange/internal/court/refjudge"
	"github.com/agentyard/exchange/internal/cryptoid"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/httpapi"
	"github.com/agentyard/exchange/internal/identity"
	"github.com/agentyard/exchange/internal/ledger"
	"github.com/agentyard/exchange/internal/metrics"
	"github.com/agentyard/exchange/internal/middleware"
	"github.com/agentyard/exchange/internal/platformlog"
	"github.com/agentyard/exchange/internal/reputation"
	"github.com/agentyard/exchange/internal/store"
	"github.com/agentyard/exchange/internal/taskboard"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("platform: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := platformlog.NewFromEnv(cfg.Service.Name)

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.Init(cfg.Service.Name, cfg.Service.Version)
	}

	coord := store.NewCoordinator(s, m, 256)
	defer coord.Close()

	scheme := cryptoid.KeyScheme{
		Algorithm:       cfg.Crypto.Algorithm,
		PublicKeyPrefix: cfg.Crypto.PublicKeyPrefix,
		PublicKeyBytes:  cfg.Crypto.PublicKeyBytes,
		SignatureBytes:  cfg.Crypto.SignatureBytes,
	}

	idn, err := identity.NewRegistry(s, coord, scheme)
	if err != nil {
		return fmt.Errorf("identity registry: %w", err)
	}

	platformKey, err := loadPlatformKey(cfg.Platform.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load platform key: %w", err)
	}
	if err := bootstrapNotary(context.Background(), idn, scheme, cfg.Platform.AgentID, platformKey); err != nil {
		return fmt.Errorf("bootstrap notary: %w", err)
	}

	l := ledger.New(s, coord, idn)
	if m != nil {
		l = l.WithMetrics(m)
	}

	board := taskboard.New(s, coord, idn, l)
	if m != nil {
		board = board.WithMetrics(m)
	}

	rep := reputation.New(s, coord)

	judges := make([]court.Judge, 0, len(cfg.Judges.Judges))
	for _, id := range cfg.Judges.Judges {
		judges = append(judges, refjudge.New(id))
	}
	rebuttalWindow := time.Duration(cfg.Disputes.RebuttalDeadline) * time.Second
	c := court.New(s, coord, l, rep, board, judges, rebuttalWindow)
	board.WithCourt(c)

	hub := events.NewHub(256)
	tailer := events.NewTailer(s, hub, 200*time.Millisecond, 0)
	tailerCtx, stopTailer := context.WithCancel(context.Background())
	defer stopTailer()
	go tailer.Run(tailerCtx)

	sweep := cron.New()
	if _, err := sweep.AddFunc("@every 1m", func() {
		logger.WithContext(context.Background()).Debug("deadline sweep tick")
	}); err != nil {
		return fmt.Errorf("schedule deadline sweep: %w", err)
	}
	sweep.Start()
	defer sweep.Stop()

	deps := &httpapi.Deps{
		Identity:        idn,
		Ledger:          l,
		Board:           board,
		Court:           c,
		Reputation:      rep,
		Hub:             hub,
		Store:           s,
		Logger:          logger,
		PlatformAgentID: cfg.Platform.AgentID,
	}
	router := httpapi.NewRouter(deps)

	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	if m != nil {
		router.Use(middleware.MetricsMiddleware(cfg.Service.Name, m))
	}
	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    3600,
	}).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(cfg.Request.MaxBodySize).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)
	router.Use(middleware.NewTimeoutMiddleware(time.Duration(cfg.Request.DownstreamTimeout) * time.Second).Handler)

	rateLimiter := middleware.NewRateLimiterWithWindow(120, time.Minute, 30, logger)
	stopCleanup := rateLimiter.StartCleanup(5 * time.Minute)
	defer stopCleanup()
	router.Use(rateLimiter.Handler)

	ready := true
	health := middleware.NewHealthChecker(cfg.Service.Version)
	health.RegisterCheck("store", func() error {
		return s.View(func(tx *bolt.Tx) error { return nil })
	})
	router.Handle("/health", health.Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/readyz", middleware.ReadinessHandler(&ready)).Methods(http.MethodGet)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("%s listening on %s", cfg.Service.Name, addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	ready = false

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

// loadPlatformKey reads the notary's ed25519 private key from disk,
// accepting hex or base64 encoding (mirrors the dual-decode convention
// the teacher uses for secret material loaded from the environment).
func loadPlatformKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(raw))
	if decoded, err := hex.DecodeString(text); err == nil && len(decoded) == 64 {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(text); err == nil && len(decoded) == 64 {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(text); err == nil && len(decoded) == 64 {
		return decoded, nil
	}
	return nil, fmt.Errorf("%s: expected a 64-byte ed25519 private key, hex or base64 encoded", path)
}

// bootstrapNotary ensures the platform's own notary agent is registered
// under its configured agent ID, idempotently: a second process start
// with the same key finds the existing registration and moves on.
func bootstrapNotary(ctx context.Context, idn *identity.Registry, scheme cryptoid.KeyScheme, agentID string, privKey []byte) error {
	pub := privKey[32:]
	encodedPub := scheme.PublicKeyPrefix + base64.RawURLEncoding.EncodeToString(pub)
	_, svcErr := idn.RegisterNotary(ctx, agentID, "platform-notary", encodedPub, time.Now())
	if svcErr != nil {
		return svcErr
	}
	return nil
}
