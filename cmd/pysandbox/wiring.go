package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/rhuss/pysandbox/pkg/auth"
	"github.com/rhuss/pysandbox/pkg/auth/apikey"
	"github.com/rhuss/pysandbox/pkg/auth/jwt"
	"github.com/rhuss/pysandbox/pkg/auth/noop"
	"github.com/rhuss/pysandbox/pkg/config"
	"github.com/rhuss/pysandbox/pkg/sandbox"
	"github.com/rhuss/pysandbox/pkg/storage"
	"github.com/rhuss/pysandbox/pkg/storage/memory"
	"github.com/rhuss/pysandbox/pkg/storage/postgres"
	"github.com/rhuss/pysandbox/pkg/tools/builtins/codeinterpreter/agentcore"
	"github.com/rhuss/pysandbox/pkg/tools/builtins/codeinterpreter/kubernetes"
	"github.com/rhuss/pysandbox/pkg/tools/builtins/codeinterpreter/sandboxhttp"
)

// newFactory returns the session factory for the configured backend.
func newFactory(cfg config.CodeInterpreterConfig) (sandbox.Factory, error) {
	switch cfg.Backend {
	case config.BackendAgentCore:
		return agentcore.NewFactory(agentcore.Config{
			Identifier:     cfg.AgentCore.Identifier,
			SessionName:    cfg.AgentCore.SessionName,
			SessionTimeout: cfg.AgentCore.SessionTimeout,
		}), nil

	case config.BackendSandbox:
		opts := sandboxhttp.Options{ExecutionTimeout: cfg.Sandbox.ExecutionTimeout}
		if cfg.Sandbox.URL != "" {
			slog.Info("using static sandbox", "url", cfg.Sandbox.URL)
			return sandboxhttp.NewFactory(sandboxhttp.StaticAcquirer(cfg.Sandbox.URL), opts), nil
		}

		k8s, err := newKubeClient()
		if err != nil {
			return nil, err
		}
		slog.Info("claiming sandboxes from template",
			"template", cfg.Sandbox.Template,
			"namespace", cfg.Sandbox.Namespace,
		)
		acq := kubernetes.NewClaimAcquirer(k8s, kubernetes.Config{
			Template:     cfg.Sandbox.Template,
			Namespace:    cfg.Sandbox.Namespace,
			ReadyTimeout: cfg.Sandbox.ClaimTimeout,
		})
		return sandboxhttp.NewFactory(acq, opts), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newKubeClient() (client.Client, error) {
	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	scheme, err := kubernetes.NewScheme()
	if err != nil {
		return nil, err
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return c, nil
}

// newStore returns the execution store, or nil when history is disabled.
func newStore(ctx context.Context, cfg config.StorageConfig) (storage.ExecutionStore, error) {
	switch cfg.Type {
	case "memory":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return store, nil
	case "none", "":
		slog.Info("storage disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// newAuthMiddleware builds the authenticator chain and rate limiter.
func newAuthMiddleware(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{}

	switch cfg.Type {
	case "none", "":
		chain.Authenticators = []auth.Authenticator{noop.Authenticator{}}
	case "apikey":
		chain.Authenticators = []auth.Authenticator{apikey.New(apiKeys(cfg.APIKeys))}
	case "jwt":
		authenticators := []auth.Authenticator{jwt.New(jwt.Config{
			Issuer:       cfg.JWT.Issuer,
			Audience:     cfg.JWT.Audience,
			JWKSURL:      cfg.JWT.JWKSURL,
			SubjectClaim: cfg.JWT.SubjectClaim,
			TenantClaim:  cfg.JWT.TenantClaim,
			TierClaim:    cfg.JWT.TierClaim,
			ScopesClaim:  cfg.JWT.ScopesClaim,
			CacheTTL:     cfg.JWT.CacheTTL,
		})}
		// Opaque tokens fall through to the configured API keys.
		if len(cfg.APIKeys) > 0 {
			authenticators = append(authenticators, apikey.New(apiKeys(cfg.APIKeys)))
		}
		chain.Authenticators = authenticators
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.DefaultRPM > 0 || len(cfg.RateLimit.Tiers) > 0 {
		limiter = auth.NewInProcessLimiter(cfg.RateLimit.Tiers, cfg.RateLimit.DefaultRPM)
	}

	slog.Info("authentication configured", "type", cfg.Type, "rate_limited", limiter != nil)
	return auth.Middleware(chain, limiter, auth.DefaultBypassPaths), nil
}

func apiKeys(in []config.APIKeyConfig) []apikey.Key {
	keys := make([]apikey.Key, 0, len(in))
	for _, k := range in {
		keys = append(keys, apikey.Key{
			Key:     k.Key,
			Subject: k.Subject,
			Tier:    k.Tier,
			Tenant:  k.Tenant,
		})
	}
	return keys
}
