package config

import (
	"fmt"
	"strings"
)

// Config is the hierarchical, fully-validated configuration for the
// platform. Every field except Request.DownstreamTimeout (10s when unset)
// is required; there are no silent defaults for
// values that change trust boundaries (crypto, platform identity, judge
// panel). Values are read from the environment by Load; an operator-side
// YAML loader (out of scope here) may populate the same environment keys
// before Load runs.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Crypto    CryptoConfig
	Platform  PlatformConfig
	Judges    JudgesConfig
	Disputes  DisputesConfig
	Request   RequestConfig
	Endpoints EndpointsConfig
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name    string
	Version string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig points at the embedded store file.
type DatabaseConfig struct {
	Path string
}

// CryptoConfig describes the signature scheme agents and the platform use.
type CryptoConfig struct {
	Algorithm       string // fixed: "ed25519"
	PublicKeyPrefix string
	PublicKeyBytes  int
	SignatureBytes  int
}

// PlatformConfig identifies the notary principal.
type PlatformConfig struct {
	AgentID        string
	PrivateKeyPath string
}

// JudgesConfig configures the dispute resolution panel.
type JudgesConfig struct {
	PanelSize int
	Judges    []string
}

// DisputesConfig configures Court timing.
type DisputesConfig struct {
	RebuttalDeadline SecondsDuration
}

// RequestConfig bounds inbound request shape and downstream call latency.
type RequestConfig struct {
	MaxBodySize int64
	// DownstreamTimeout bounds judge-panel invocation and other
	// downstream component calls (§5 "Cancellation and timeouts").
	// Defaults to 10s when unset.
	DownstreamTimeout SecondsDuration
}

// EndpointsConfig holds the base URLs components use to call one another,
// the Go-native analogue of the teacher's per-service port registry.
type EndpointsConfig struct {
	Identity   string
	Ledger     string
	Board      string
	Court      string
	Reputation string
	Events     string
}

// SecondsDuration is a plain integer number of seconds; kept as its own
// type so config surfaces read naturally ("rebuttal_deadline_seconds")
// without requiring a duration-string parser at the config boundary.
type SecondsDuration int

// Load reads configuration from the environment and validates it.
// Every required field must be present; on failure Load returns a single
// descriptive error and the caller should treat that as fatal.
func Load() (Config, error) {
	var cfg Config

	cfg.Service.Name = RequireEnv("SERVICE_NAME")
	cfg.Service.Version = RequireEnv("SERVICE_VERSION")
	if cfg.Service.Name == "" || cfg.Service.Version == "" {
		return Config{}, fmt.Errorf("service.name and service.version are required")
	}

	cfg.Server.Host = RequireEnv("SERVER_HOST")
	cfg.Server.Port = GetEnvInt("SERVER_PORT", 0)
	if cfg.Server.Host == "" || cfg.Server.Port <= 0 {
		return Config{}, fmt.Errorf("server.host and server.port are required")
	}

	cfg.Database.Path = RequireEnv("DATABASE_PATH")
	if cfg.Database.Path == "" {
		return Config{}, fmt.Errorf("database.path is required")
	}

	cfg.Crypto.Algorithm = RequireEnv("CRYPTO_ALGORITHM")
	if cfg.Crypto.Algorithm != "ed25519" {
		return Config{}, fmt.Errorf("crypto.algorithm: unsupported curve %q", cfg.Crypto.Algorithm)
	}
	cfg.Crypto.PublicKeyPrefix = RequireEnv("CRYPTO_PUBLIC_KEY_PREFIX")
	cfg.Crypto.PublicKeyBytes = GetEnvInt("CRYPTO_PUBLIC_KEY_BYTES", 0)
	cfg.Crypto.SignatureBytes = GetEnvInt("CRYPTO_SIGNATURE_BYTES", 0)
	if cfg.Crypto.PublicKeyPrefix == "" {
		return Config{}, fmt.Errorf("crypto.public_key_prefix is required")
	}
	if cfg.Crypto.PublicKeyBytes <= 0 || cfg.Crypto.SignatureBytes <= 0 {
		return Config{}, fmt.Errorf("crypto.public_key_bytes and crypto.signature_bytes are required")
	}

	cfg.Platform.AgentID = RequireEnv("PLATFORM_AGENT_ID")
	cfg.Platform.PrivateKeyPath = RequireEnv("PLATFORM_PRIVATE_KEY_PATH")
	if cfg.Platform.AgentID == "" || cfg.Platform.PrivateKeyPath == "" {
		return Config{}, fmt.Errorf("platform.agent_id and platform.private_key_path are required")
	}

	cfg.Judges.PanelSize = GetEnvInt("JUDGES_PANEL_SIZE", 0)
	cfg.Judges.Judges = SplitAndTrimCSV(EnvOr("JUDGES_LIST", ""))
	if cfg.Judges.PanelSize <= 0 || cfg.Judges.PanelSize%2 == 0 {
		return Config{}, fmt.Errorf("judges.panel_size must be a positive odd number")
	}
	if len(cfg.Judges.Judges) != cfg.Judges.PanelSize {
		return Config{}, fmt.Errorf("judges.judges must list exactly panel_size entries")
	}

	rebuttalSeconds := GetEnvInt("DISPUTES_REBUTTAL_DEADLINE_SECONDS", 0)
	if rebuttalSeconds <= 0 {
		return Config{}, fmt.Errorf("disputes.rebuttal_deadline_seconds is required")
	}
	cfg.Disputes.RebuttalDeadline = SecondsDuration(rebuttalSeconds)

	maxBody, err := ParseByteSize(RequireEnv("REQUEST_MAX_BODY_SIZE"))
	if err != nil {
		return Config{}, fmt.Errorf("request.max_body_size: %w", err)
	}
	cfg.Request.MaxBodySize = maxBody
	cfg.Request.DownstreamTimeout = SecondsDuration(GetEnvInt("REQUEST_DOWNSTREAM_TIMEOUT_SECONDS", 10))

	cfg.Endpoints.Identity = RequireEnv("ENDPOINT_IDENTITY")
	cfg.Endpoints.Ledger = RequireEnv("ENDPOINT_LEDGER")
	cfg.Endpoints.Board = RequireEnv("ENDPOINT_BOARD")
	cfg.Endpoints.Court = RequireEnv("ENDPOINT_COURT")
	cfg.Endpoints.Reputation = RequireEnv("ENDPOINT_REPUTATION")
	cfg.Endpoints.Events = RequireEnv("ENDPOINT_EVENTS")
	for name, value := range map[string]string{
		"identity":   cfg.Endpoints.Identity,
		"ledger":     cfg.Endpoints.Ledger,
		"board":      cfg.Endpoints.Board,
		"court":      cfg.Endpoints.Court,
		"reputation": cfg.Endpoints.Reputation,
		"events":     cfg.Endpoints.Events,
	} {
		if strings.TrimSpace(value) == "" {
			return Config{}, fmt.Errorf("endpoints.%s is required", name)
		}
	}

	return cfg, nil
}
