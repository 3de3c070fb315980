package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/tools"
)

var (
	toolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pysandbox_tool_executions_total",
			Help: "Tool executions by provider, tool and outcome",
		},
		[]string{"provider", "tool_name", "status"},
	)

	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pysandbox_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "tool_name"},
	)

	routeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pysandbox_provider_api_requests_total",
			Help: "Provider HTTP route requests",
		},
		[]string{"provider", "method", "path", "status"},
	)

	routeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pysandbox_provider_api_duration_seconds",
			Help:    "Provider HTTP route duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method", "path"},
	)
)

func init() {
	prometheus.MustRegister(toolExecutions, toolDuration, routeRequests, routeDuration)
}

// FunctionRegistry routes tool calls to registered providers.
type FunctionRegistry struct {
	mu        sync.RWMutex
	providers []FunctionProvider
	byTool    map[string]FunctionProvider
}

var _ tools.ToolExecutor = (*FunctionRegistry)(nil)

// New creates an empty FunctionRegistry.
func New() *FunctionRegistry {
	return &FunctionRegistry{byTool: make(map[string]FunctionProvider)}
}

// Register adds a provider. When two providers offer the same tool name the
// first one keeps it. Provider collectors are registered with the default
// Prometheus registry.
func (r *FunctionRegistry) Register(p FunctionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)

	defs := p.Tools()
	for _, td := range defs {
		if owner, ok := r.byTool[td.Name]; ok {
			slog.Warn("tool name conflict, keeping first provider",
				"tool", td.Name,
				"winner", owner.Name(),
				"loser", p.Name(),
			)
			continue
		}
		r.byTool[td.Name] = p
	}

	for _, c := range p.Collectors() {
		if err := prometheus.Register(c); err != nil {
			debug.Log("tools", "collector not registered", "provider", p.Name(), "error", err)
		}
	}

	slog.Info("registered tool provider",
		"provider", p.Name(),
		"tools", len(defs),
		"routes", len(p.Routes()),
	)
}

// Kind returns ToolKindBuiltin.
func (r *FunctionRegistry) Kind() tools.ToolKind {
	return tools.ToolKindBuiltin
}

// CanExecute reports whether any provider owns toolName.
func (r *FunctionRegistry) CanExecute(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTool[toolName]
	return ok
}

// Execute dispatches call to its provider. Panics inside a provider are
// turned into error results.
func (r *FunctionRegistry) Execute(ctx context.Context, call tools.ToolCall) (result *tools.ToolResult, err error) {
	r.mu.RLock()
	p, ok := r.byTool[call.Name]
	r.mu.RUnlock()

	if !ok {
		return tools.ErrorResult(call.ID, fmt.Sprintf("no provider handles tool %q", call.Name)), nil
	}

	name := p.Name()
	start := time.Now()
	observe := func(status string) {
		toolExecutions.WithLabelValues(name, call.Name, status).Inc()
		toolDuration.WithLabelValues(name, call.Name).Observe(time.Since(start).Seconds())
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool provider panicked",
				"provider", name,
				"tool", call.Name,
				"panic", rec,
			)
			result = tools.ErrorResult(call.ID, fmt.Sprintf("internal error: tool %q panicked", call.Name))
			err = nil
			observe("panic")
		}
	}()

	result, err = p.Execute(ctx, call)

	switch {
	case err != nil:
		observe("error")
	case result != nil && result.IsError:
		observe("tool_error")
	default:
		observe("success")
	}
	return result, err
}

// DiscoveredTools returns the tool definitions of every provider in
// registration order.
func (r *FunctionRegistry) DiscoveredTools() []tools.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []tools.ToolDefinition
	for _, p := range r.providers {
		all = append(all, p.Tools()...)
	}
	return all
}

// HTTPHandler serves every provider route, instrumented with metrics.
func (r *FunctionRegistry) HTTPHandler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mux := http.NewServeMux()
	for _, p := range r.providers {
		for _, route := range p.Routes() {
			pattern := route.Pattern
			if route.Method != "" {
				pattern = route.Method + " " + route.Pattern
			}
			mux.HandleFunc(pattern, instrumentRoute(p.Name(), route))
		}
	}
	return mux
}

// Close closes all providers and returns the last error seen.
func (r *FunctionRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close tool provider", "provider", p.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// HasProviders reports whether at least one provider is registered.
func (r *FunctionRegistry) HasProviders() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
