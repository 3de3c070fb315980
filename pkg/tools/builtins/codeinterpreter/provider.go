package codeinterpreter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/sandbox"
	"github.com/rhuss/pysandbox/pkg/storage"
	"github.com/rhuss/pysandbox/pkg/tools"
	"github.com/rhuss/pysandbox/pkg/tools/registry"
)

// ToolName is the name agents use to call the adapter.
const ToolName = "execute_python"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Ensure Provider implements FunctionProvider.
var _ registry.FunctionProvider = (*Provider)(nil)

// Provider exposes Tools through the function registry. Each tenant gets
// its own adapter, and so its own interpreter session; callers without a
// tenant share one.
type Provider struct {
	region  string
	factory sandbox.Factory
	store   storage.ExecutionStore

	mu       sync.Mutex
	sessions map[string]*Tools

	sessionsStarted prometheus.Counter
	sessionsStopped prometheus.Counter
	sessionsActive  prometheus.Gauge
}

// NewProvider creates a provider whose sessions are built by factory in
// region. store is optional; when set, every execution is recorded in it.
func NewProvider(region string, factory sandbox.Factory, store storage.ExecutionStore) *Provider {
	return &Provider{
		region:   region,
		factory:  factory,
		store:    store,
		sessions: make(map[string]*Tools),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pysandbox_sessions_started_total",
			Help: "Code interpreter sessions started",
		}),
		sessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pysandbox_sessions_stopped_total",
			Help: "Code interpreter sessions stopped",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pysandbox_sessions_active",
			Help: "Code interpreter sessions currently held",
		}),
	}
}

// session returns the adapter for the caller's tenant, creating it on
// first use.
func (p *Provider) session(ctx context.Context) *Tools {
	tenant := storage.GetTenant(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.sessions[tenant]; ok {
		return t
	}

	t := New(p.region, p.factory)
	t.onStart = func() {
		p.sessionsStarted.Inc()
		p.sessionsActive.Inc()
	}
	t.onStop = func() {
		p.sessionsStopped.Inc()
		p.sessionsActive.Dec()
	}
	p.sessions[tenant] = t
	debug.Log("sandbox", "new tenant session", "tenant", tenant)
	return t
}

// lookup returns the caller's adapter without creating one.
func (p *Provider) lookup(ctx context.Context) *Tools {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[storage.GetTenant(ctx)]
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "code_interpreter"
}

// Tools returns the execute_python definition.
func (p *Provider) Tools() []tools.ToolDefinition {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Python code to execute",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Optional description, added to the code as a comment",
			},
		},
		"required": []string{"code"},
	})

	return []tools.ToolDefinition{
		{
			Type:        "function",
			Name:        ToolName,
			Description: "Execute Python code in a secure sandbox. Variables and imports persist between calls. Returns the result as JSON.",
			Parameters:  params,
		},
	}
}

// CanExecute reports whether name is execute_python.
func (p *Provider) CanExecute(name string) bool {
	return name == ToolName
}

// Execute runs an execute_python call. Remote failures are reported as
// error results rather than Go errors so the agent can react to them.
func (p *Provider) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	var args struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return tools.ErrorResult(call.ID, "invalid arguments: "+err.Error()), nil
	}
	start := time.Now()
	output, err := p.session(ctx).ExecutePython(ctx, args.Code, args.Description)
	elapsed := time.Since(start)

	p.record(ctx, call, args.Code, args.Description, output, err, elapsed)

	if err != nil {
		slog.Warn("code_interpreter execution failed",
			"call_id", call.ID,
			"region", p.region,
			"error", err.Error(),
		)
		return tools.ErrorResult(call.ID, "code execution failed: "+err.Error()), nil
	}

	return &tools.ToolResult{CallID: call.ID, Output: output}, nil
}

func (p *Provider) record(ctx context.Context, call tools.ToolCall, code, description, output string, execErr error, elapsed time.Duration) {
	if p.store == nil {
		return
	}

	rec := &storage.Execution{
		ID:          uuid.NewString(),
		CallID:      call.ID,
		Region:      p.region,
		Description: description,
		Code:        code,
		Output:      output,
		DurationMs:  elapsed.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	}

	if err := p.store.SaveExecution(ctx, rec); err != nil {
		slog.Warn("failed to record execution", "call_id", call.ID, "error", err.Error())
	}
}

// Routes returns the session and history endpoints.
func (p *Provider) Routes() []registry.Route {
	return []registry.Route{
		{Method: http.MethodGet, Pattern: "/v1/session", Handler: p.handleSessionStatus},
		{Method: http.MethodDelete, Pattern: "/v1/session", Handler: p.handleSessionDelete},
		{Method: http.MethodGet, Pattern: "/v1/executions", Handler: p.handleListExecutions},
	}
}

// Collectors returns the session metrics.
func (p *Provider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.sessionsStarted, p.sessionsStopped, p.sessionsActive}
}

// Close stops every tenant's session.
func (p *Provider) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p.mu.Lock()
	sessions := make([]*Tools, 0, len(p.sessions))
	for _, t := range p.sessions {
		sessions = append(sessions, t)
	}
	p.mu.Unlock()

	var errs []error
	for _, t := range sessions {
		errs = append(errs, t.Cleanup(ctx))
	}
	return errors.Join(errs...)
}

func (p *Provider) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	t := p.lookup(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"active": t != nil && t.Active(),
		"region": p.region,
	})
}

func (p *Provider) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if t := p.lookup(r.Context()); t != nil {
		if err := t.Cleanup(r.Context()); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Provider) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if p.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "execution history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	execs, err := p.store.ListExecutions(r.Context(), limit)
	if err != nil {
		slog.Error("listing executions failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing executions failed"})
		return
	}
	if execs == nil {
		execs = []*storage.Execution{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   execs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
