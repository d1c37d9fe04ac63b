package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	DB            DBConfig
	Query         QueryConfig
	AI            AIConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Export        ExportConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

type QueryConfig struct {
	Timeout  time.Duration
	RowLimit int
}

type AIConfig struct {
	Enabled       bool
	Provider      string
	BaseURL       string
	APIKey        string
	SQLModel      string
	FallbackModel string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	PromptsFile   string
}

// AuthConfig guards the /v1 API routes. StaticKeys uses the form
// "key:user:role|role,key2:user2:role".
type AuthConfig struct {
	Required   bool
	StaticKeys string
}

type AuditConfig struct {
	Enabled bool
	User    string
}

type ExportConfig struct {
	Enabled bool
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("STOCKPILOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid STOCKPILOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	loaders := []func() error{
		func() error { return applyString(lookup, "STOCKPILOT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "STOCKPILOT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "STOCKPILOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "STOCKPILOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "STOCKPILOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "STOCKPILOT_DB_DRIVER", &cfg.DB.Driver) },
		func() error { return applyString(lookup, "STOCKPILOT_DB_DSN", &cfg.DB.DSN) },
		func() error { return applyInt(lookup, "STOCKPILOT_DB_MAX_OPEN_CONNS", &cfg.DB.MaxOpenConns) },
		func() error { return applyInt(lookup, "STOCKPILOT_DB_MAX_IDLE_CONNS", &cfg.DB.MaxIdleConns) },
		func() error { return applyDuration(lookup, "STOCKPILOT_DB_CONN_MAX_IDLE_TIME", &cfg.DB.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "STOCKPILOT_DB_CONN_MAX_LIFETIME", &cfg.DB.ConnMaxLifetime) },
		func() error { return applyBool(lookup, "STOCKPILOT_DB_MIGRATE_ON_START", &cfg.DB.MigrateOnStart) },
		func() error { return applyDuration(lookup, "STOCKPILOT_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "STOCKPILOT_QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error { return applyBool(lookup, "STOCKPILOT_AI_ENABLED", &cfg.AI.Enabled) },
		func() error { return applyString(lookup, "STOCKPILOT_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "STOCKPILOT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "STOCKPILOT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "STOCKPILOT_AI_SQL_MODEL", &cfg.AI.SQLModel) },
		func() error { return applyString(lookup, "STOCKPILOT_AI_FALLBACK_MODEL", &cfg.AI.FallbackModel) },
		func() error { return applyFloat(lookup, "STOCKPILOT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "STOCKPILOT_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "STOCKPILOT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyString(lookup, "STOCKPILOT_AI_PROMPTS_FILE", &cfg.AI.PromptsFile) },
		func() error { return applyBool(lookup, "STOCKPILOT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "STOCKPILOT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
		func() error { return applyBool(lookup, "STOCKPILOT_AUDIT_ENABLED", &cfg.Audit.Enabled) },
		func() error { return applyString(lookup, "STOCKPILOT_AUDIT_USER", &cfg.Audit.User) },
		func() error { return applyBool(lookup, "STOCKPILOT_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "STOCKPILOT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "STOCKPILOT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "STOCKPILOT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "STOCKPILOT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "STOCKPILOT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "STOCKPILOT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "STOCKPILOT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "STOCKPILOT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyBool(lookup, "STOCKPILOT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "STOCKPILOT_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return Config{}, err
		}
	}

	cfg.DB.Driver = strings.ToLower(cfg.DB.Driver)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if !isValidDriver(cfg.DB.Driver) {
		return Config{}, fmt.Errorf("invalid STOCKPILOT_DB_DRIVER: %q", cfg.DB.Driver)
	}
	if cfg.AI.Provider != "openai" && cfg.AI.Provider != "anthropic" {
		return Config{}, fmt.Errorf("invalid STOCKPILOT_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.AI.Enabled && cfg.AI.APIKey == "" {
		return Config{}, fmt.Errorf("STOCKPILOT_AI_API_KEY is required when AI is enabled")
	}
	if cfg.Auth.Required && cfg.Auth.StaticKeys == "" {
		return Config{}, fmt.Errorf("STOCKPILOT_AUTH_STATIC_KEYS is required when auth is required")
	}
	if cfg.Query.RowLimit < 0 {
		return Config{}, fmt.Errorf("invalid STOCKPILOT_QUERY_ROW_LIMIT: must be >= 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "stockpilot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		DB: DBConfig{
			Driver:          "sqlite",
			DSN:             "file:inventory.db?_pragma=journal_mode(WAL)",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			MigrateOnStart:  true,
		},
		Query: QueryConfig{
			Timeout:  8 * time.Second,
			RowLimit: 200,
		},
		AI: AIConfig{
			Enabled:       false,
			Provider:      "openai",
			BaseURL:       "",
			SQLModel:      "",
			FallbackModel: "",
			Temperature:   0,
			MaxTokens:     1024,
			Timeout:       60 * time.Second,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "dev-local-key:dev:reader|auditor",
		},
		Audit: AuditConfig{
			Enabled: true,
			User:    "assistant",
		},
		Export: ExportConfig{
			Enabled: false,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "stockpilot",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.DB.DSN = "file::memory:?cache=shared"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Audit.Enabled = false
	case ProfileProd:
		cfg.DB.MigrateOnStart = false
		cfg.Auth.Required = true
		cfg.Auth.StaticKeys = ""
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func isValidDriver(driver string) bool {
	switch driver {
	case "sqlite", "postgres", "duckdb":
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
