package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/pysandbox/pkg/debug"
)

// searchPaths are tried when no explicit file is given.
var searchPaths = []string{"config.yaml", "/etc/pysandbox/config.yaml"}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if file := findFile(path); file != "" {
		if err := readYAML(file, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", file, err)
		}
		debug.Log("config", "loaded config file", "path", file)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func findFile(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("PYSANDBOX_CONFIG"); env != "" {
		return env
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// readYAML decodes path over cfg. Unknown keys are rejected so typos do
// not go unnoticed.
func readYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PYSANDBOX_BACKEND":      &cfg.CodeInterpreter.Backend,
		"PYSANDBOX_SANDBOX_URL":  &cfg.CodeInterpreter.Sandbox.URL,
		"PYSANDBOX_STORAGE":      &cfg.Storage.Type,
		"PYSANDBOX_POSTGRES_DSN": &cfg.Storage.Postgres.DSN,
		"PYSANDBOX_AUTH_TYPE":    &cfg.Auth.Type,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	switch {
	case os.Getenv("PYSANDBOX_REGION") != "":
		cfg.CodeInterpreter.Region = os.Getenv("PYSANDBOX_REGION")
	case cfg.CodeInterpreter.Region == "" && os.Getenv("AWS_REGION") != "":
		cfg.CodeInterpreter.Region = os.Getenv("AWS_REGION")
	}

	if v := os.Getenv("PYSANDBOX_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PYSANDBOX_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("PYSANDBOX_API_KEYS"); v != "" {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("PYSANDBOX_API_KEYS: %w", err)
		}
		cfg.Auth.APIKeys = keys
	}

	if v := os.Getenv("PYSANDBOX_ALLOWED_TOOLS"); v != "" {
		cfg.MCP.AllowedTools = strings.Split(v, ",")
	}
	return nil
}

// resolveSecrets fills values from their *_file counterparts when the
// value itself is empty.
func resolveSecrets(cfg *Config) error {
	pg := &cfg.Storage.Postgres
	if pg.DSN == "" && pg.DSNFile != "" {
		v, err := readSecret(pg.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		pg.DSN = v
	}

	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if k.Key == "" && k.KeyFile != "" {
			v, err := readSecret(k.KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			k.Key = v
		}
	}
	return nil
}

func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
