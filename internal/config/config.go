// Package config loads Cortex's environment configuration and the two
// operator-maintained JSON policy files (business context and autonomy).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is Cortex's fully-resolved runtime configuration, assembled once
// at startup from the environment. Every field here maps to one of the
// environment variables listed for the HTTP surface/persisted-state layout.
type Config struct {
	// LLM
	AnthropicAPIKey string
	AnthropicModel  string
	MaxTurns        int

	// Platform (Railway-shaped)
	PlatformToken       string
	PlatformProjectID   string
	PlatformEnvironmentID string

	// Code host
	CodeHostToken string

	// Storage & content directories
	DataDir string
	DocsDir string
	ConfigDir string
	EncryptionSecret string

	// Scheduling
	MonitorInterval   time.Duration
	DiscoveryInterval time.Duration

	// HTTP
	APIToken   string
	ListenAddr string

	// Notifications
	SlackWebhookURL   string
	NotifyWebhookURL  string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer env var, using default")
		return def
	}
	return n
}

// Load reads a .env file if present (best-effort, missing file is not an
// error) and then resolves Config from the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := &Config{
		AnthropicAPIKey:       os.Getenv("CORTEX_ANTHROPIC_API_KEY"),
		AnthropicModel:        getenv("CORTEX_ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		MaxTurns:              getenvInt("CORTEX_MAX_TURNS", 8),
		PlatformToken:         os.Getenv("CORTEX_PLATFORM_TOKEN"),
		PlatformProjectID:     os.Getenv("CORTEX_PLATFORM_PROJECT_ID"),
		PlatformEnvironmentID: os.Getenv("CORTEX_PLATFORM_ENVIRONMENT_ID"),
		CodeHostToken:         os.Getenv("CORTEX_CODE_HOST_TOKEN"),
		DataDir:               getenv("CORTEX_DATA_DIR", "/app/data"),
		DocsDir:               getenv("CORTEX_DOCS_DIR", "/app/knowledge"),
		ConfigDir:             getenv("CORTEX_CONFIG_DIR", "/app/config"),
		EncryptionSecret:      os.Getenv("CORTEX_ENCRYPTION_SECRET"),
		MonitorInterval:       time.Duration(getenvInt("CORTEX_MONITOR_INTERVAL", 300)) * time.Second,
		DiscoveryInterval:     time.Duration(getenvInt("CORTEX_DISCOVERY_INTERVAL", 3600)) * time.Second,
		APIToken:              os.Getenv("CORTEX_API_TOKEN"),
		ListenAddr:            getenv("CORTEX_LISTEN_ADDR", ":8080"),
		SlackWebhookURL:       os.Getenv("CORTEX_SLACK_WEBHOOK_URL"),
		NotifyWebhookURL:      os.Getenv("CORTEX_NOTIFY_WEBHOOK_URL"),
	}

	if cfg.PlatformToken == "" {
		log.Warn().Msg("CORTEX_PLATFORM_TOKEN not set; platform adapter calls will no-op")
	}
	if cfg.CodeHostToken == "" {
		log.Warn().Msg("CORTEX_CODE_HOST_TOKEN not set; discovery phase 2 (code inspection) will be skipped")
	}
	if cfg.AnthropicAPIKey == "" {
		log.Warn().Msg("CORTEX_ANTHROPIC_API_KEY not set; investigations will fail at the transport step")
	}
	if cfg.APIToken == "" {
		log.Warn().Msg("CORTEX_API_TOKEN not set; HTTP surface runs in open/dev mode")
	}
	if cfg.EncryptionSecret == "" {
		log.Warn().Msg("CORTEX_ENCRYPTION_SECRET not set; sensitive values will be stored in plaintext")
	}

	return cfg, nil
}

// BusinessContext is one service's entry in services.json.
type BusinessContext struct {
	ProductName    string `json:"product_name"`
	Priority       string `json:"priority"`
	Users          string `json:"users"`
	FailureImpact  string `json:"failure_impact"`
	Notes          string `json:"notes"`
}

// ServicesConfig is the parsed shape of services.json: service name -> business context.
type ServicesConfig map[string]BusinessContext

// AutonomyDefaults is the capability map applied to any service without an override.
type AutonomyDefaults struct {
	CanRestart        bool `json:"can_restart"`
	CanSetVariables   bool `json:"can_set_variables"`
	CanRollback       bool `json:"can_rollback"`
	CanCreatePR       bool `json:"can_create_pr"`
	MaxRepairAttempts int  `json:"max_repair_attempts"`
}

// AutonomyConfig is the parsed shape of autonomy.json.
type AutonomyConfig struct {
	Defaults         AutonomyDefaults            `json:"defaults"`
	Services         map[string]AutonomyDefaults `json:"services"`
	ForbiddenActions []string                    `json:"forbidden_actions"`
}

// DefaultAutonomyConfig mirrors original_source/config.py's load() defaults:
// restart/set-variable/create-PR allowed, rollback withheld, and a
// forbidden list covering destructive database/schema operations.
func DefaultAutonomyConfig() AutonomyConfig {
	return AutonomyConfig{
		Defaults: AutonomyDefaults{
			CanRestart:        true,
			CanSetVariables:   true,
			CanRollback:       false,
			CanCreatePR:       true,
			MaxRepairAttempts: 3,
		},
		Services: map[string]AutonomyDefaults{},
		ForbiddenActions: []string{
			"database_migration", "database_rollback",
			"delete_data", "drop_table", "modify_schema", "truncate",
		},
	}
}

// LoadServicesConfig reads services.json from dir. A missing file is not an
// error: business context is optional per service.
func LoadServicesConfig(dir string) (ServicesConfig, error) {
	sc := ServicesConfig{}
	if err := readJSONIfExists(dir+"/services.json", &sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// LoadAutonomyConfig reads autonomy.json from dir, falling back to
// DefaultAutonomyConfig when the file is absent.
func LoadAutonomyConfig(dir string) (AutonomyConfig, error) {
	ac := DefaultAutonomyConfig()
	if err := readJSONIfExists(dir+"/autonomy.json", &ac); err != nil {
		return AutonomyConfig{}, err
	}
	return ac, nil
}

func readJSONIfExists(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
