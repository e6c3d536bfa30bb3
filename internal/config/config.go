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

const envPrefix = "SQLSCRIBE_"

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	DB            DBConfig
	AI            AIConfig
	Pipeline      PipelineConfig
	Journal       JournalConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
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

// DBConfig describes the target database questions are answered against.
// Database overrides the name derived from the DSN when set.
type DBConfig struct {
	Driver          string
	DSN             string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type PipelineConfig struct {
	MaxRetries  int
	PreviewRows int
	Persona     string
	ReadOnly    bool
}

type JournalConfig struct {
	Enabled       bool
	FlushInterval time.Duration
	BatchSize     int
	MaxPending    int
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

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	e := func(name string) string { return envPrefix + name }
	steps := []error{
		applyString(lookup, e("SERVICE_NAME"), &cfg.Service.Name),

		applyString(lookup, e("HTTP_ADDR"), &cfg.HTTP.Address),
		applyDuration(lookup, e("HTTP_READ_TIMEOUT"), &cfg.HTTP.ReadTimeout),
		applyDuration(lookup, e("HTTP_WRITE_TIMEOUT"), &cfg.HTTP.WriteTimeout),
		applyDuration(lookup, e("HTTP_IDLE_TIMEOUT"), &cfg.HTTP.IdleTimeout),

		applyString(lookup, e("DB_DRIVER"), &cfg.DB.Driver),
		applyString(lookup, e("DB_DSN"), &cfg.DB.DSN),
		applyString(lookup, e("DB_DATABASE"), &cfg.DB.Database),
		applyInt(lookup, e("DB_MAX_OPEN_CONNS"), &cfg.DB.MaxOpenConns),
		applyInt(lookup, e("DB_MAX_IDLE_CONNS"), &cfg.DB.MaxIdleConns),
		applyDuration(lookup, e("DB_CONN_MAX_IDLE_TIME"), &cfg.DB.ConnMaxIdleTime),
		applyDuration(lookup, e("DB_CONN_MAX_LIFETIME"), &cfg.DB.ConnMaxLifetime),
		applyDuration(lookup, e("DB_QUERY_TIMEOUT"), &cfg.DB.QueryTimeout),

		applyString(lookup, e("AI_PROVIDER"), &cfg.AI.Provider),
		applyString(lookup, e("AI_BASE_URL"), &cfg.AI.BaseURL),
		applyString(lookup, e("AI_API_KEY"), &cfg.AI.APIKey),
		applyString(lookup, e("AI_MODEL"), &cfg.AI.Model),
		applyFloat(lookup, e("AI_TEMPERATURE"), &cfg.AI.Temperature),
		applyDuration(lookup, e("AI_TIMEOUT"), &cfg.AI.Timeout),

		applyInt(lookup, e("PIPELINE_MAX_RETRIES"), &cfg.Pipeline.MaxRetries),
		applyInt(lookup, e("PIPELINE_PREVIEW_ROWS"), &cfg.Pipeline.PreviewRows),
		applyString(lookup, e("PIPELINE_PERSONA"), &cfg.Pipeline.Persona),
		applyBool(lookup, e("PIPELINE_READ_ONLY"), &cfg.Pipeline.ReadOnly),

		applyBool(lookup, e("JOURNAL_ENABLED"), &cfg.Journal.Enabled),
		applyDuration(lookup, e("JOURNAL_FLUSH_INTERVAL"), &cfg.Journal.FlushInterval),
		applyInt(lookup, e("JOURNAL_BATCH_SIZE"), &cfg.Journal.BatchSize),
		applyInt(lookup, e("JOURNAL_MAX_PENDING"), &cfg.Journal.MaxPending),

		applyString(lookup, e("OBJECTSTORE_ENDPOINT"), &cfg.ObjectStore.Endpoint),
		applyString(lookup, e("OBJECTSTORE_REGION"), &cfg.ObjectStore.Region),
		applyString(lookup, e("OBJECTSTORE_BUCKET"), &cfg.ObjectStore.Bucket),
		applyString(lookup, e("OBJECTSTORE_ACCESS_KEY"), &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, e("OBJECTSTORE_SECRET_KEY"), &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, e("OBJECTSTORE_USE_SSL"), &cfg.ObjectStore.UseSSL),
		applyString(lookup, e("OBJECTSTORE_PREFIX"), &cfg.ObjectStore.Prefix),
		applyBool(lookup, e("OBJECTSTORE_AUTO_CREATE_BUCKET"), &cfg.ObjectStore.AutoCreateBucket),

		applyLogLevel(lookup, e("LOG_LEVEL"), &cfg.Observability.LogLevel),
		applyBool(lookup, e("LOG_JSON"), &cfg.Observability.LogJSON),

		applyBool(lookup, e("AUTH_REQUIRED"), &cfg.Auth.Required),
		applyString(lookup, e("AUTH_STATIC_KEYS"), &cfg.Auth.StaticKeys),
	}
	for _, err := range steps {
		if err != nil {
			return Config{}, err
		}
	}

	cfg.DB.Driver = strings.ToLower(cfg.DB.Driver)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case DriverMySQL, DriverPostgres, DriverDuckDB:
	default:
		return fmt.Errorf("invalid %sDB_DRIVER: %q", envPrefix, c.DB.Driver)
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		return fmt.Errorf("%sDB_DSN is required", envPrefix)
	}
	switch c.AI.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid %sAI_PROVIDER: %q", envPrefix, c.AI.Provider)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("invalid %sAI_TEMPERATURE: %v out of range [0, 2]", envPrefix, c.AI.Temperature)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("invalid %sPIPELINE_MAX_RETRIES: %d", envPrefix, c.Pipeline.MaxRetries)
	}
	if c.Pipeline.PreviewRows < 0 {
		return fmt.Errorf("invalid %sPIPELINE_PREVIEW_ROWS: %d", envPrefix, c.Pipeline.PreviewRows)
	}
	if c.Journal.Enabled {
		if c.Journal.BatchSize <= 0 {
			return fmt.Errorf("invalid %sJOURNAL_BATCH_SIZE: %d", envPrefix, c.Journal.BatchSize)
		}
		if c.Journal.FlushInterval <= 0 {
			return fmt.Errorf("invalid %sJOURNAL_FLUSH_INTERVAL: %s", envPrefix, c.Journal.FlushInterval)
		}
		if strings.TrimSpace(c.ObjectStore.Bucket) == "" {
			return fmt.Errorf("%sOBJECTSTORE_BUCKET is required when the journal is enabled", envPrefix)
		}
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqlscribe-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		DB: DBConfig{
			Driver:          DriverMySQL,
			DSN:             "root:@tcp(localhost:3306)/sqlscribe",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    15 * time.Second,
		},
		AI: AIConfig{
			Provider:    ProviderOllama,
			BaseURL:     "http://localhost:11434",
			Model:       "dolphin3:latest",
			Temperature: 0.1,
			Timeout:     30 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxRetries:  3,
			PreviewRows: 5,
			Persona:     "a friendly and professional assistant",
			ReadOnly:    true,
		},
		Journal: JournalConfig{
			Enabled:       false,
			FlushInterval: 30 * time.Second,
			BatchSize:     100,
			MaxPending:    10000,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "sqlscribe",
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
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
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
