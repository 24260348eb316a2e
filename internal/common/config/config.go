package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/amoylab/agent-gateway/pkg/helper"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// AgentGatewayConfig represents the agent gateway service configuration
	AgentGatewayConfig struct {
		Server   ServerConfig   `yaml:"server" toml:"server"`
		Gateway  GatewayConfig  `yaml:"gateway" toml:"gateway"`
		Pool     PoolConfig     `yaml:"pool" toml:"pool"`
		Stream   StreamConfig   `yaml:"stream" toml:"stream"`
		Usage    UsageConfig    `yaml:"usage" toml:"usage"`
		Database DatabaseConfig `yaml:"database" toml:"database"`
		Redis    RedisConfig    `yaml:"redis" toml:"redis"`
		Logger   LoggerConfig   `yaml:"logger" toml:"logger"`
		Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
		Tracing  TracingConfig  `yaml:"tracing" toml:"tracing"`
	}

	// ServerConfig is the HTTP listener
	ServerConfig struct {
		Host            string        `yaml:"host" toml:"host"`
		Port            int           `yaml:"port" toml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
		PID             string        `yaml:"pid" toml:"pid"`
	}

	// GatewayConfig describes the upstream agent gateway and the connection tuning
	GatewayConfig struct {
		URL                  string        `yaml:"url" toml:"url"`
		Token                string        `yaml:"token" toml:"token"`
		ClientID             string        `yaml:"client_id" toml:"client_id"`
		DisplayName          string        `yaml:"display_name" toml:"display_name"`
		Platform             string        `yaml:"platform" toml:"platform"`
		Mode                 string        `yaml:"mode" toml:"mode"`
		Role                 string        `yaml:"role" toml:"role"`
		Scopes               []string      `yaml:"scopes" toml:"scopes"`
		Caps                 []string      `yaml:"caps" toml:"caps"`
		ConnectTimeout       time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
		RequestTimeout       time.Duration `yaml:"request_timeout" toml:"request_timeout"`
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
		ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" toml:"reconnect_base_delay"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	}

	// PoolConfig controls idle eviction of pooled connections
	PoolConfig struct {
		MaxIdle       time.Duration `yaml:"max_idle" toml:"max_idle"`
		SweepInterval time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	}

	// StreamConfig controls the streaming orchestrator
	StreamConfig struct {
		Timeout          time.Duration `yaml:"timeout" toml:"timeout"`
		MaxMessageLength int           `yaml:"max_message_length" toml:"max_message_length"`
		SessionPrefix    string        `yaml:"session_prefix" toml:"session_prefix"`
		DefaultMode      string        `yaml:"default_mode" toml:"default_mode"`
		DefaultModel     string        `yaml:"default_model" toml:"default_model"`
		Preamble         string        `yaml:"preamble" toml:"preamble"` // text/template with sprig functions
	}

	// UsageConfig controls spend tracking
	UsageConfig struct {
		Enabled      bool                  `yaml:"enabled" toml:"enabled"`
		DefaultLimit float64               `yaml:"default_limit" toml:"default_limit"` // monthly, 0 means unlimited
		CacheTTL     time.Duration         `yaml:"cache_ttl" toml:"cache_ttl"`
		Prices       map[string]ModelPrice `yaml:"prices" toml:"prices"`
	}

	// ModelPrice is the price per one million tokens
	ModelPrice struct {
		Input  float64 `yaml:"input" toml:"input"`
		Output float64 `yaml:"output" toml:"output"`
	}

	// DatabaseConfig is the usage store
	DatabaseConfig struct {
		Type     string `yaml:"type" toml:"type"`         // mysql, postgres, sqlite
		Host     string `yaml:"host" toml:"host"`         // localhost
		Port     int    `yaml:"port" toml:"port"`         // 3306 (for mysql), 5432 (for postgres)
		User     string `yaml:"user" toml:"user"`         // root (for mysql), postgres (for postgres)
		Password string `yaml:"password" toml:"password"` // password
		DBName   string `yaml:"dbname" toml:"dbname"`     // database name, file path for sqlite
		SSLMode  string `yaml:"sslmode" toml:"sslmode"`   // disable (for postgres)
	}

	// RedisConfig is the optional spend cache. Empty Addr disables it.
	RedisConfig struct {
		Addr     string `yaml:"addr" toml:"addr"`
		Username string `yaml:"username" toml:"username"`
		Password string `yaml:"password" toml:"password"`
		DB       int    `yaml:"db" toml:"db"`
		Prefix   string `yaml:"prefix" toml:"prefix"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level" toml:"level"`             // debug, info, warn, error
		Format     string `yaml:"format" toml:"format"`           // json, console
		Output     string `yaml:"output" toml:"output"`           // stdout, file
		FilePath   string `yaml:"file_path" toml:"file_path"`     // path to log file when output is file
		MaxSize    int    `yaml:"max_size" toml:"max_size"`       // max size of log file in MB
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age" toml:"max_age"`         // max age of backup files in days
		Compress   bool   `yaml:"compress" toml:"compress"`       // whether to compress backup files
		Color      bool   `yaml:"color" toml:"color"`             // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"`   // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone" toml:"time_zone"`     // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format" toml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// MetricsConfig controls the prometheus registry
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled" toml:"enabled"`
		Namespace string    `yaml:"namespace" toml:"namespace"`
		Path      string    `yaml:"path" toml:"path"`
		Buckets   []float64 `yaml:"buckets" toml:"buckets"`
	}

	// TracingConfig represents OpenTelemetry tracing configuration
	TracingConfig struct {
		Enabled     bool      `yaml:"enabled" toml:"enabled"`
		ServiceName string    `yaml:"service_name" toml:"service_name"`
		Endpoint    string    `yaml:"endpoint" toml:"endpoint"`         // e.g. localhost:4317 or localhost:4318
		Protocol    string    `yaml:"protocol" toml:"protocol"`         // grpc or http
		Insecure    bool      `yaml:"insecure" toml:"insecure"`         // allow insecure connection
		SamplerRate float64   `yaml:"sampler_rate" toml:"sampler_rate"` // 0.0~1.0
		Environment string    `yaml:"environment" toml:"environment"`   // env tag: dev/staging/prod
		Headers     StringMap `yaml:"headers" toml:"headers"`
	}
)

// LoadConfig loads configuration from a YAML or TOML file with environment variable support
func LoadConfig(filename string) (*AgentGatewayConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg AgentGatewayConfig
	switch strings.ToLower(filepath.Ext(cfgPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, cfgPath, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, err
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// resolveEnv replaces environment variable placeholders in config content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}

// SetDefaults fills every zero value with its default
func (c *AgentGatewayConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5236
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.PID == "" {
		c.Server.PID = "agent-gateway.pid"
	}

	g := &c.Gateway
	if g.URL == "" {
		g.URL = "ws://127.0.0.1:18789"
	}
	if g.ClientID == "" {
		g.ClientID = "agent-gateway"
	}
	if g.Platform == "" {
		g.Platform = "server"
	}
	if g.Mode == "" {
		g.Mode = "backend"
	}
	if g.Role == "" {
		g.Role = "operator"
	}
	if g.ConnectTimeout <= 0 {
		g.ConnectTimeout = 10 * time.Second
	}
	if g.RequestTimeout <= 0 {
		g.RequestTimeout = 30 * time.Second
	}
	if g.HeartbeatInterval <= 0 {
		g.HeartbeatInterval = 30 * time.Second
	}
	if g.ReconnectBaseDelay <= 0 {
		g.ReconnectBaseDelay = time.Second
	}
	if g.MaxReconnectAttempts == 0 {
		g.MaxReconnectAttempts = 5
	}

	if c.Pool.MaxIdle <= 0 {
		c.Pool.MaxIdle = 5 * time.Minute
	}
	if c.Pool.SweepInterval <= 0 {
		c.Pool.SweepInterval = time.Minute
	}

	if c.Stream.Timeout <= 0 {
		c.Stream.Timeout = 120 * time.Second
	}
	if c.Stream.MaxMessageLength <= 0 {
		c.Stream.MaxMessageLength = 32000
	}
	if c.Stream.DefaultMode == "" {
		c.Stream.DefaultMode = "chat"
	}

	if c.Usage.CacheTTL <= 0 {
		c.Usage.CacheTTL = time.Minute
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DBName == "" {
		c.Database.DBName = "./data/agent-gateway.db"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "agent-gateway"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "agent_gateway"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "agent-gateway"
	}
}

// Validate checks the values that have no sensible default
func (c *AgentGatewayConfig) Validate() error {
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid gateway url scheme %q: must be ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("gateway url %q has no host", c.Gateway.URL)
	}
	if c.Gateway.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	switch c.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Tracing.SamplerRate < 0 || c.Tracing.SamplerRate > 1 {
		return fmt.Errorf("tracing sampler_rate must be within [0, 1]")
	}
	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	case "sqlite":
		return c.DBName // For SQLite, DBName is the file path
	default:
		return ""
	}
}

// Addr returns the HTTP listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
