// Package config loads the pysandbox server configuration.
//
// Sources are applied in order, later ones winning:
//  1. Built-in defaults
//  2. YAML file (explicit path, PYSANDBOX_CONFIG, ./config.yaml,
//     /etc/pysandbox/config.yaml)
//  3. PYSANDBOX_* environment variables
//  4. *_file secret references
//
// The result is validated before it is returned.
package config

import "time"

// Backend names accepted in code_interpreter.backend.
const (
	BackendAgentCore = "agentcore"
	BackendSandbox   = "sandbox"
)

// Config is the complete server configuration.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	CodeInterpreter CodeInterpreterConfig `yaml:"code_interpreter"`
	Storage         StorageConfig         `yaml:"storage"`
	Auth            AuthConfig            `yaml:"auth"`
	MCP             MCPConfig             `yaml:"mcp"`
	Observability   ObservabilityConfig   `yaml:"observability"`
	Logging         LoggingConfig         `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CodeInterpreterConfig selects and configures the remote execution backend.
type CodeInterpreterConfig struct {
	Backend   string          `yaml:"backend"`
	Region    string          `yaml:"region"`
	AgentCore AgentCoreConfig `yaml:"agentcore"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
}

type AgentCoreConfig struct {
	Identifier     string        `yaml:"identifier"`
	SessionName    string        `yaml:"session_name"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// SandboxConfig configures the sandbox server backend. URL selects a fixed
// sandbox; otherwise Template is claimed through Kubernetes.
type SandboxConfig struct {
	URL              string        `yaml:"url"`
	Template         string        `yaml:"template"`
	Namespace        string        `yaml:"namespace"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	ClaimTimeout     time.Duration `yaml:"claim_timeout"`
}

// StorageConfig configures the execution history. Type "none" disables it.
type StorageConfig struct {
	Type     string         `yaml:"type"`
	MaxSize  int            `yaml:"max_size"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type AuthConfig struct {
	Type      string          `yaml:"type"`
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type APIKeyConfig struct {
	Key     string `yaml:"key" json:"key"`
	KeyFile string `yaml:"key_file" json:"key_file"`
	Subject string `yaml:"subject" json:"subject"`
	Tenant  string `yaml:"tenant" json:"tenant"`
	Tier    string `yaml:"tier" json:"tier"`
}

type JWTConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	SubjectClaim string        `yaml:"subject_claim"`
	TenantClaim  string        `yaml:"tenant_claim"`
	TierClaim    string        `yaml:"tier_claim"`
	ScopesClaim  string        `yaml:"scopes_claim"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig sets requests per minute per subject. Zero disables
// limiting.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"`
}

// MCPConfig configures the MCP endpoint. An empty AllowedTools list exposes
// every registered tool.
type MCPConfig struct {
	Path         string   `yaml:"path"`
	AllowedTools []string `yaml:"allowed_tools"`
	Stateless    bool     `yaml:"stateless"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig feeds debug.Init.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Debug string `yaml:"debug"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		CodeInterpreter: CodeInterpreterConfig{
			Backend: BackendAgentCore,
			Sandbox: SandboxConfig{
				Namespace:        "default",
				ExecutionTimeout: 30 * time.Second,
				ClaimTimeout:     2 * time.Minute,
			},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 1000,
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		MCP: MCPConfig{
			Path: "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}
