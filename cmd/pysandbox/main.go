// Command pysandbox serves the execute_python tool over MCP. By default it
// listens on HTTP; with -stdio it serves one MCP session on stdin/stdout.
//
// Configuration is read from a YAML file (see -config) and PYSANDBOX_*
// environment variables:
//
//	PYSANDBOX_CONFIG      - Config file path
//	PYSANDBOX_BACKEND     - "agentcore" (default) or "sandbox"
//	PYSANDBOX_REGION      - AWS region for agentcore (falls back to AWS_REGION)
//	PYSANDBOX_SANDBOX_URL - Fixed sandbox server URL for the sandbox backend
//	PYSANDBOX_STORAGE     - Execution history: "memory", "postgres" or "none"
//	PYSANDBOX_AUTH_TYPE   - "none", "apikey" or "jwt"
//	PYSANDBOX_DEBUG       - Debug categories, e.g. "sandbox,mcp" or "all"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/pysandbox/pkg/auth"
	"github.com/rhuss/pysandbox/pkg/config"
	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/mcpserver"
	"github.com/rhuss/pysandbox/pkg/observability"
	"github.com/rhuss/pysandbox/pkg/storage"
	"github.com/rhuss/pysandbox/pkg/tools/builtins/codeinterpreter"
	"github.com/rhuss/pysandbox/pkg/tools/registry"
	"github.com/rhuss/pysandbox/pkg/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	if err := run(*configPath, *stdio); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, stdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory, err := newFactory(cfg.CodeInterpreter)
	if err != nil {
		return fmt.Errorf("creating code interpreter backend: %w", err)
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating execution store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	reg := registry.New()
	reg.Register(codeinterpreter.NewProvider(cfg.CodeInterpreter.Region, factory, store))
	defer func() {
		if err := reg.Close(); err != nil {
			slog.Warn("closing tool providers", "error", err)
		}
	}()

	mcpSrv, err := mcpserver.New(reg, mcpserver.Options{
		Name:            "pysandbox",
		Version:         version,
		AllowedTools:    cfg.MCP.AllowedTools,
		Stateless:       cfg.MCP.Stateless,
		ForwardIdentity: !stdio && cfg.Auth.Type != "none",
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	if stdio {
		slog.Info("serving MCP on stdio", "region", cfg.CodeInterpreter.Region, "version", version)
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	authMiddleware, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring authentication: %w", err)
	}

	handler := transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(nil, auth.DefaultBypassPaths...),
		observability.MetricsMiddleware,
		authMiddleware,
	)(newMux(cfg, reg, mcpSrv, store))

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"port", cfg.Server.Port,
			"backend", cfg.CodeInterpreter.Backend,
			"region", cfg.CodeInterpreter.Region,
			"storage", cfg.Storage.Type,
			"auth", cfg.Auth.Type,
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newMux wires the MCP endpoint, provider routes and health probes.
func newMux(cfg *config.Config, reg *registry.FunctionRegistry, mcpSrv *mcpserver.Server, store storage.ExecutionStore) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.MCP.Path, mcpSrv.Handler())
	mux.Handle("/v1/", reg.HTTPHandler())

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.HealthCheck(r.Context()); err != nil {
				slog.Warn("readiness check failed", "error", err)
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}
	return mux
}
