// Package config provides centralized configuration management for the
// session coordinator. Configuration is loaded from environment variables
// with sensible defaults. Required configuration that is missing will cause
// the process to fail fast with a helpful error message.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all coordinator configuration for a single process, which
// serves one session instance; per-session values (repo, model, etc.) live
// in the session store, not here.
type Config struct {
	// Server
	Port int

	// Per-session store
	SessionDataDir string

	// Process-wide repo-secrets store
	ReposecretsDriver string // "sqlite" or "postgres"
	ReposecretsDSN    string

	// Sandbox provider selection
	ProviderBackend string // "kubernetes" or "fake"
	Namespace       string
	Kubeconfig      string
	SandboxImage    string
	ControlPlaneURL string

	// Snapshot metadata archival (optional)
	SnapshotBucket          string
	SnapshotRegion          string
	SnapshotEndpoint        string
	SnapshotPrefix          string
	SnapshotAccessKeyID     string
	SnapshotSecretAccessKey string

	// Identity port (installation token minting). A single GitHub App
	// installation per deployment, matching the spec's single-active-
	// master-key assumption for envelope encryption.
	IdentityAppID          string
	IdentityPrivateKeyPEM  string
	IdentityInstallationID int64

	// Optional OIDC verification of a participant's host identity token
	OIDCIssuer   string
	OIDCClientID string

	// Outbound callback signing and delivery. A message only triggers a
	// callback if it carries a callback context AND this endpoint is
	// configured; the endpoint is deployment-wide, not per-message.
	CallbackSecret string
	CallbackURL    string

	// Shared secret the control plane presents on every /internal/*
	// request (Authorization: Bearer <token>); see
	// internal/httpapi/middleware.RequireInternalToken.
	InternalAPIToken string

	// Slack prompt ingestion (optional; ingestion is disabled unless both
	// are set)
	SlackBotToken string
	SlackAppToken string

	// Default model when neither message nor session specifies one
	DefaultModel string

	// Lifecycle tunables (overridable for tests)
	CircuitBreakerThreshold int
	CircuitBreakerWindow    time.Duration
	SpawnCooldown           time.Duration
	SpawnReadyWait          time.Duration
	InactivityTimeout       time.Duration
	InactivityExtension     time.Duration
	InactivityMinCheck      time.Duration
	HeartbeatInterval       time.Duration
	HeartbeatStaleAfter     time.Duration
	AuthDeadline            time.Duration
	PushTimeout             time.Duration
	UpstreamTimeout         time.Duration
}

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation failures into one error.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values, matching spec.md §4.4's tunables.
const (
	DefaultPort = 8080

	DefaultSessionDataDir = "./data/sessions"

	DefaultReposecretsDriver = "sqlite"
	DefaultReposecretsDSN    = "reposecrets.db"

	DefaultProviderBackend = "fake"
	DefaultNamespace       = "default"

	DefaultSnapshotPrefix = "snapshots/"

	DefaultModel = "default"

	DefaultCircuitBreakerThreshold = 3
	DefaultCircuitBreakerWindow    = 5 * time.Minute
	DefaultSpawnCooldown           = 30 * time.Second
	DefaultSpawnReadyWait          = 60 * time.Second
	DefaultInactivityTimeout       = 10 * time.Minute
	DefaultInactivityExtension     = 5 * time.Minute
	DefaultInactivityMinCheck      = 30 * time.Second
	DefaultHeartbeatInterval       = 30 * time.Second
	DefaultHeartbeatStaleAfter     = 90 * time.Second
	DefaultAuthDeadline            = 30 * time.Second
	DefaultPushTimeout             = 180 * time.Second
	DefaultUpstreamTimeout         = 60 * time.Second
)

// Load reads configuration from environment variables (after loading a
// local .env file, if present) and returns a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: DefaultPort,

		SessionDataDir: DefaultSessionDataDir,

		ReposecretsDriver: DefaultReposecretsDriver,
		ReposecretsDSN:    DefaultReposecretsDSN,

		ProviderBackend: DefaultProviderBackend,
		Namespace:       DefaultNamespace,

		SnapshotPrefix: DefaultSnapshotPrefix,

		DefaultModel: DefaultModel,

		CircuitBreakerThreshold: DefaultCircuitBreakerThreshold,
		CircuitBreakerWindow:    DefaultCircuitBreakerWindow,
		SpawnCooldown:           DefaultSpawnCooldown,
		SpawnReadyWait:          DefaultSpawnReadyWait,
		InactivityTimeout:       DefaultInactivityTimeout,
		InactivityExtension:     DefaultInactivityExtension,
		InactivityMinCheck:      DefaultInactivityMinCheck,
		HeartbeatInterval:       DefaultHeartbeatInterval,
		HeartbeatStaleAfter:     DefaultHeartbeatStaleAfter,
		AuthDeadline:            DefaultAuthDeadline,
		PushTimeout:             DefaultPushTimeout,
		UpstreamTimeout:         DefaultUpstreamTimeout,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	if v := os.Getenv("COORDINATOR_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{"COORDINATOR_PORT", fmt.Sprintf("invalid port: %q", v)})
		} else {
			c.Port = port
		}
	}

	if v := os.Getenv("COORDINATOR_SESSION_DATA_DIR"); v != "" {
		c.SessionDataDir = v
	}

	if v := os.Getenv("COORDINATOR_REPOSECRETS_DRIVER"); v != "" {
		c.ReposecretsDriver = v
	}
	if v := os.Getenv("COORDINATOR_REPOSECRETS_DSN"); v != "" {
		c.ReposecretsDSN = v
	}

	if v := os.Getenv("COORDINATOR_PROVIDER_BACKEND"); v != "" {
		c.ProviderBackend = v
	}
	if v := os.Getenv("COORDINATOR_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("KUBECONFIG"); v != "" {
		c.Kubeconfig = v
	}
	if v := os.Getenv("COORDINATOR_SANDBOX_IMAGE"); v != "" {
		c.SandboxImage = v
	}
	if v := os.Getenv("COORDINATOR_CONTROL_PLANE_URL"); v != "" {
		c.ControlPlaneURL = v
	}

	if v := os.Getenv("COORDINATOR_SNAPSHOT_BUCKET"); v != "" {
		c.SnapshotBucket = v
	}
	if v := os.Getenv("COORDINATOR_SNAPSHOT_REGION"); v != "" {
		c.SnapshotRegion = v
	}
	if v := os.Getenv("COORDINATOR_SNAPSHOT_ENDPOINT"); v != "" {
		c.SnapshotEndpoint = v
	}
	if v := os.Getenv("COORDINATOR_SNAPSHOT_PREFIX"); v != "" {
		c.SnapshotPrefix = v
	}
	if v := os.Getenv("COORDINATOR_SNAPSHOT_ACCESS_KEY_ID"); v != "" {
		c.SnapshotAccessKeyID = v
	}
	if v := os.Getenv("COORDINATOR_SNAPSHOT_SECRET_ACCESS_KEY"); v != "" {
		c.SnapshotSecretAccessKey = v
	}

	if v := os.Getenv("COORDINATOR_IDENTITY_APP_ID"); v != "" {
		c.IdentityAppID = v
	}
	if v := os.Getenv("COORDINATOR_IDENTITY_PRIVATE_KEY_PEM"); v != "" {
		c.IdentityPrivateKeyPEM = v
	}
	if v := os.Getenv("COORDINATOR_IDENTITY_INSTALLATION_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{"COORDINATOR_IDENTITY_INSTALLATION_ID", fmt.Sprintf("invalid installation id: %q", v)})
		} else {
			c.IdentityInstallationID = id
		}
	}

	if v := os.Getenv("COORDINATOR_OIDC_ISSUER"); v != "" {
		c.OIDCIssuer = v
	}
	if v := os.Getenv("COORDINATOR_OIDC_CLIENT_ID"); v != "" {
		c.OIDCClientID = v
	}

	if v := os.Getenv("COORDINATOR_CALLBACK_SECRET"); v != "" {
		c.CallbackSecret = v
	}
	if v := os.Getenv("COORDINATOR_CALLBACK_URL"); v != "" {
		c.CallbackURL = v
	}

	if v := os.Getenv("COORDINATOR_INTERNAL_API_TOKEN"); v != "" {
		c.InternalAPIToken = v
	}

	if v := os.Getenv("COORDINATOR_SLACK_BOT_TOKEN"); v != "" {
		c.SlackBotToken = v
	}
	if v := os.Getenv("COORDINATOR_SLACK_APP_TOKEN"); v != "" {
		c.SlackAppToken = v
	}

	if v := os.Getenv("COORDINATOR_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{"COORDINATOR_PORT", fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port)})
	}

	if c.SessionDataDir == "" {
		errs = append(errs, ValidationError{"COORDINATOR_SESSION_DATA_DIR", "session data directory cannot be empty"})
	}

	switch c.ReposecretsDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, ValidationError{"COORDINATOR_REPOSECRETS_DRIVER", fmt.Sprintf("unsupported driver %q (want sqlite or postgres)", c.ReposecretsDriver)})
	}

	switch c.ProviderBackend {
	case "kubernetes", "fake":
	default:
		errs = append(errs, ValidationError{"COORDINATOR_PROVIDER_BACKEND", fmt.Sprintf("unsupported provider backend %q", c.ProviderBackend)})
	}

	if c.CallbackSecret == "" {
		errs = append(errs, ValidationError{"COORDINATOR_CALLBACK_SECRET", "callback secret must be set (used to sign outbound notifications)"})
	}

	if c.InternalAPIToken == "" {
		errs = append(errs, ValidationError{"COORDINATOR_INTERNAL_API_TOKEN", "internal API token must be set (protects /internal/* control-plane routes)"})
	}

	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		errs = append(errs, ValidationError{"COORDINATOR_SLACK_BOT_TOKEN", "both a bot token and an app-level token must be set to enable Slack ingestion, or neither"})
	}

	return errs
}

// MustLoad loads configuration and exits the process on failure. Use at
// process startup, where configuration errors are fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: failed to load configuration\n\n%s\n", err)
		os.Exit(1)
	}
	return cfg
}
