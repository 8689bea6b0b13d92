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

type AzureAuthMode string

const (
	AzureAuthCredentialChain  AzureAuthMode = "credential_chain"
	AzureAuthServicePrincipal AzureAuthMode = "service_principal"
	AzureAuthConnectionString AzureAuthMode = "connection_string"
	AzureAuthNone             AzureAuthMode = "none"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Lakehouse     LakehouseConfig
	Engine        EngineConfig
	Azure         AzureConfig
	Export        ExportConfig
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

type LakehouseConfig struct {
	Scheme          string
	Host            string
	LocalRoot       string
	Format          string
	DefaultRowLimit int
	// BlobEndpoint is used for table discovery.
	BlobEndpoint string
}

type EngineConfig struct {
	DatabasePath string
	Extensions   []string
	Threads      int
	MemoryLimit  string
}

type AzureConfig struct {
	AuthMode         AzureAuthMode
	SecretName       string
	AccountName      string
	CredentialChain  string
	TenantID         string
	ClientID         string
	ClientSecret     string
	ConnectionString string
	TransportOption  string
}

type ExportConfig struct {
	Enabled          bool
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
	if raw, ok := lookup("LAKEQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid LAKEQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "LAKEQUERY_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "LAKEQUERY_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "LAKEQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "LAKEQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "LAKEQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "LAKEQUERY_LAKEHOUSE_SCHEME", &cfg.Lakehouse.Scheme) },
		func() error { return applyString(lookup, "LAKEQUERY_LAKEHOUSE_HOST", &cfg.Lakehouse.Host) },
		func() error { return applyString(lookup, "LAKEQUERY_LAKEHOUSE_LOCAL_ROOT", &cfg.Lakehouse.LocalRoot) },
		func() error { return applyString(lookup, "LAKEQUERY_LAKEHOUSE_FORMAT", &cfg.Lakehouse.Format) },
		func() error { return applyInt(lookup, "LAKEQUERY_LAKEHOUSE_DEFAULT_ROW_LIMIT", &cfg.Lakehouse.DefaultRowLimit) },
		func() error { return applyString(lookup, "LAKEQUERY_LAKEHOUSE_BLOB_ENDPOINT", &cfg.Lakehouse.BlobEndpoint) },
		func() error { return applyString(lookup, "LAKEQUERY_ENGINE_DATABASE_PATH", &cfg.Engine.DatabasePath) },
		func() error { return applyList(lookup, "LAKEQUERY_ENGINE_EXTENSIONS", &cfg.Engine.Extensions) },
		func() error { return applyInt(lookup, "LAKEQUERY_ENGINE_THREADS", &cfg.Engine.Threads) },
		func() error { return applyString(lookup, "LAKEQUERY_ENGINE_MEMORY_LIMIT", &cfg.Engine.MemoryLimit) },
		func() error { return applyAuthMode(lookup, "LAKEQUERY_AZURE_AUTH_MODE", &cfg.Azure.AuthMode) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_SECRET_NAME", &cfg.Azure.SecretName) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_ACCOUNT_NAME", &cfg.Azure.AccountName) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_CREDENTIAL_CHAIN", &cfg.Azure.CredentialChain) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_TENANT_ID", &cfg.Azure.TenantID) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_CLIENT_ID", &cfg.Azure.ClientID) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_CLIENT_SECRET", &cfg.Azure.ClientSecret) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_CONNECTION_STRING", &cfg.Azure.ConnectionString) },
		func() error { return applyString(lookup, "LAKEQUERY_AZURE_TRANSPORT_OPTION", &cfg.Azure.TransportOption) },
		func() error { return applyBool(lookup, "LAKEQUERY_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "LAKEQUERY_EXPORT_ENDPOINT", &cfg.Export.Endpoint) },
		func() error { return applyString(lookup, "LAKEQUERY_EXPORT_REGION", &cfg.Export.Region) },
		func() error { return applyString(lookup, "LAKEQUERY_EXPORT_BUCKET", &cfg.Export.Bucket) },
		func() error { return applyString(lookup, "LAKEQUERY_EXPORT_ACCESS_KEY", &cfg.Export.AccessKeyID) },
		func() error { return applyString(lookup, "LAKEQUERY_EXPORT_SECRET_KEY", &cfg.Export.SecretAccessKey) },
		func() error { return applyBool(lookup, "LAKEQUERY_EXPORT_USE_SSL", &cfg.Export.UseSSL) },
		func() error { return applyString(lookup, "LAKEQUERY_EXPORT_PREFIX", &cfg.Export.Prefix) },
		func() error { return applyBool(lookup, "LAKEQUERY_EXPORT_AUTO_CREATE_BUCKET", &cfg.Export.AutoCreateBucket) },
		func() error { return applyBool(lookup, "LAKEQUERY_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "LAKEQUERY_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "LAKEQUERY_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "LAKEQUERY_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Lakehouse.DefaultRowLimit < 0 {
		return Config{}, fmt.Errorf("LAKEQUERY_LAKEHOUSE_DEFAULT_ROW_LIMIT must be >= 0")
	}
	if cfg.Azure.AuthMode == AzureAuthServicePrincipal && (cfg.Azure.TenantID == "" || cfg.Azure.ClientID == "" || cfg.Azure.ClientSecret == "") {
		return Config{}, fmt.Errorf("service_principal auth requires tenant id, client id and client secret")
	}
	if cfg.Azure.AuthMode == AzureAuthConnectionString && cfg.Azure.ConnectionString == "" {
		return Config{}, fmt.Errorf("connection_string auth requires LAKEQUERY_AZURE_CONNECTION_STRING")
	}
	if cfg.Export.Enabled && (cfg.Export.Endpoint == "" || cfg.Export.Bucket == "") {
		return Config{}, fmt.Errorf("export requires endpoint and bucket")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "lakequery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Lakehouse: LakehouseConfig{
			Scheme:          "abfss",
			Host:            "onelake.dfs.fabric.microsoft.com",
			Format:          "delta",
			DefaultRowLimit: 0,
			BlobEndpoint:    "https://onelake.blob.fabric.microsoft.com",
		},
		Engine: EngineConfig{
			DatabasePath: "",
			Extensions:   []string{"delta", "azure"},
		},
		Azure: AzureConfig{
			AuthMode:        AzureAuthCredentialChain,
			SecretName:      "onelake",
			AccountName:     "onelake",
			CredentialChain: "cli;env;managed_identity",
		},
		Export: ExportConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "lakequery-exports",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
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
		cfg.Azure.AuthMode = AzureAuthNone
		cfg.Engine.Extensions = nil
		cfg.Lakehouse.Format = "parquet"
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Export.UseSSL = true
		cfg.Export.AutoCreateBucket = false
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

// applyList splits a comma separated value; an empty value clears the list.
func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	*dst = values
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

func applyAuthMode(lookup LookupFunc, key string, dst *AzureAuthMode) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	mode := AzureAuthMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case AzureAuthCredentialChain, AzureAuthServicePrincipal, AzureAuthConnectionString, AzureAuthNone:
		*dst = mode
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
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
