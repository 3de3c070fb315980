// Package registry aggregates built-in tool providers. A FunctionProvider
// contributes tool definitions, an execution handler, optional HTTP routes
// and optional Prometheus collectors.
//
// FunctionRegistry implements tools.ToolExecutor over all registered
// providers and serves their routes from one handler.
package registry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/pysandbox/pkg/tools"
)

// FunctionProvider is a pluggable built-in tool provider.
type FunctionProvider interface {
	// Name returns a unique identifier for this provider (e.g., "code_interpreter").
	Name() string

	// Tools returns the tool definitions this provider contributes.
	Tools() []tools.ToolDefinition

	// CanExecute reports whether this provider handles the named tool.
	CanExecute(name string) bool

	// Execute runs a tool call and returns the result.
	Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error)

	// Routes returns HTTP endpoints that this provider exposes.
	Routes() []Route

	// Collectors returns Prometheus collectors for provider-specific metrics.
	Collectors() []prometheus.Collector

	// Close releases any resources held by the provider.
	Close() error
}

// Route is an HTTP endpoint exposed by a provider.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}
