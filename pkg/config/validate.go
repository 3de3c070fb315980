package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every invalid field, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	ci := c.CodeInterpreter
	switch ci.Backend {
	case BackendAgentCore:
		if ci.Region == "" {
			add("code_interpreter.region is required for the agentcore backend")
		}
	case BackendSandbox:
		if ci.Sandbox.URL == "" && ci.Sandbox.Template == "" {
			add("code_interpreter.sandbox.url or code_interpreter.sandbox.template is required for the sandbox backend")
		}
		if ci.Sandbox.ExecutionTimeout < 0 {
			add("code_interpreter.sandbox.execution_timeout must not be negative")
		}
	default:
		add("code_interpreter.backend must be %q or %q, got %q", BackendAgentCore, BackendSandbox, ci.Backend)
	}

	switch c.Storage.Type {
	case "none", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			add("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\"")
		}
	default:
		add("storage.type must be \"none\", \"memory\" or \"postgres\", got %q", c.Storage.Type)
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			add("auth.api_keys must not be empty when auth.type is \"apikey\"")
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" || k.Subject == "" {
				add("auth.api_keys[%d] needs key and subject", i)
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			add("auth.jwt.jwks_url is required when auth.type is \"jwt\"")
		}
	default:
		add("auth.type must be \"none\", \"apikey\" or \"jwt\", got %q", c.Auth.Type)
	}

	if !strings.HasPrefix(c.MCP.Path, "/") {
		add("mcp.path must start with /, got %q", c.MCP.Path)
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		add("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path)
	}

	return errors.Join(errs...)
}
