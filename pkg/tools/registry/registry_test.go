package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rhuss/pysandbox/pkg/tools"
)

// mockProvider implements FunctionProvider for testing.
type mockProvider struct {
	name     string
	toolDefs []tools.ToolDefinition
	execFn   func(context.Context, tools.ToolCall) (*tools.ToolResult, error)
	routes   []Route
	closeErr error
	closed   bool
}

func (m *mockProvider) Name() string                       { return m.name }
func (m *mockProvider) Tools() []tools.ToolDefinition      { return m.toolDefs }
func (m *mockProvider) Collectors() []prometheus.Collector { return nil }
func (m *mockProvider) Routes() []Route                    { return m.routes }

func (m *mockProvider) CanExecute(name string) bool {
	for _, td := range m.toolDefs {
		if td.Name == name {
			return true
		}
	}
	return false
}

func (m *mockProvider) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	if m.execFn != nil {
		return m.execFn(ctx, call)
	}
	return &tools.ToolResult{CallID: call.ID, Output: "default"}, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return m.closeErr
}

var _ FunctionProvider = (*mockProvider)(nil)

func def(name string) tools.ToolDefinition {
	return tools.ToolDefinition{Type: "function", Name: name}
}

func executionCount(t *testing.T, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := toolExecutions.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter: %v", err)
	}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegistry_DiscoverAndCanExecute(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "code_interpreter",
		toolDefs: []tools.ToolDefinition{def("execute_python"), def("execute_shell")},
	})

	discovered := reg.DiscoveredTools()
	if len(discovered) != 2 {
		t.Fatalf("DiscoveredTools() returned %d tools, want 2", len(discovered))
	}
	if !reg.CanExecute("execute_python") {
		t.Error("expected CanExecute(execute_python) = true")
	}
	if reg.CanExecute("get_weather") {
		t.Error("expected CanExecute(get_weather) = false")
	}
	if reg.Kind() != tools.ToolKindBuiltin {
		t.Errorf("Kind() = %d, want ToolKindBuiltin", reg.Kind())
	}
}

func TestRegistry_ExecuteRecordsOutcome(t *testing.T) {
	tests := []struct {
		name       string
		execFn     func(context.Context, tools.ToolCall) (*tools.ToolResult, error)
		wantStatus string
		wantErr    bool
		wantIsErr  bool
	}{
		{
			name: "success",
			execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
				return &tools.ToolResult{CallID: call.ID, Output: "42"}, nil
			},
			wantStatus: "success",
		},
		{
			name: "tool error",
			execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
				return tools.ErrorResult(call.ID, "sandbox unavailable"), nil
			},
			wantStatus: "tool_error",
			wantIsErr:  true,
		},
		{
			name: "go error",
			execFn: func(context.Context, tools.ToolCall) (*tools.ToolResult, error) {
				return nil, errors.New("boom")
			},
			wantStatus: "error",
			wantErr:    true,
		},
		{
			name: "panic",
			execFn: func(context.Context, tools.ToolCall) (*tools.ToolResult, error) {
				panic("something went terribly wrong")
			},
			wantStatus: "panic",
			wantIsErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := "outcome-" + tt.wantStatus
			reg := New()
			reg.Register(&mockProvider{
				name:     provider,
				toolDefs: []tools.ToolDefinition{def("execute_python")},
				execFn:   tt.execFn,
			})

			before := executionCount(t, provider, "execute_python", tt.wantStatus)
			result, err := reg.Execute(context.Background(), tools.ToolCall{ID: "call_1", Name: "execute_python"})

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Fatalf("Execute failed: %v", err)
				}
				if result.CallID != "call_1" {
					t.Errorf("CallID = %q, want call_1", result.CallID)
				}
				if result.IsError != tt.wantIsErr {
					t.Errorf("IsError = %v, want %v", result.IsError, tt.wantIsErr)
				}
			}

			if delta := executionCount(t, provider, "execute_python", tt.wantStatus) - before; delta != 1 {
				t.Errorf("%s counter delta = %v, want 1", tt.wantStatus, delta)
			}
		})
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := New()

	result, err := reg.Execute(context.Background(), tools.ToolCall{ID: "call_1", Name: "nonexistent"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for unknown tool")
	}
	if result.CallID != "call_1" {
		t.Errorf("CallID = %q, want call_1", result.CallID)
	}
}

func TestRegistry_ToolNameConflict(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "first",
		toolDefs: []tools.ToolDefinition{def("execute_python")},
		execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
			return &tools.ToolResult{CallID: call.ID, Output: "from-first"}, nil
		},
	})
	reg.Register(&mockProvider{
		name:     "second",
		toolDefs: []tools.ToolDefinition{def("execute_python")},
		execFn: func(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
			return &tools.ToolResult{CallID: call.ID, Output: "from-second"}, nil
		},
	})

	result, err := reg.Execute(context.Background(), tools.ToolCall{ID: "c1", Name: "execute_python"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "from-first" {
		t.Errorf("Output = %q, want from-first", result.Output)
	}
	if len(reg.DiscoveredTools()) != 2 {
		t.Errorf("DiscoveredTools() = %d, want 2", len(reg.DiscoveredTools()))
	}
}

func TestRegistry_HTTPHandler(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "code_interpreter",
		toolDefs: []tools.ToolDefinition{def("execute_python")},
		routes: []Route{
			{
				Method:  http.MethodGet,
				Pattern: "/v1/session",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`{"active":false}`))
				},
			},
			{
				Method:  http.MethodDelete,
				Pattern: "/v1/session",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNoContent)
				},
			},
		},
	})
	handler := reg.HTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != `{"active":false}` {
		t.Errorf("GET body = %q", body)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/session", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/session", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := New()
	p1 := &mockProvider{name: "p1", toolDefs: []tools.ToolDefinition{def("t1")}, closeErr: errors.New("stop failed")}
	p2 := &mockProvider{name: "p2", toolDefs: []tools.ToolDefinition{def("t2")}}
	reg.Register(p1)
	reg.Register(p2)

	if err := reg.Close(); err == nil {
		t.Error("expected Close to report the provider error")
	}
	if !p1.closed || !p2.closed {
		t.Error("expected every provider to be closed")
	}
	if !reg.HasProviders() {
		t.Error("expected HasProviders() = true")
	}
}

func TestRegistry_Empty(t *testing.T) {
	reg := New()

	if len(reg.DiscoveredTools()) != 0 {
		t.Error("expected no tools")
	}
	if reg.HasProviders() {
		t.Error("expected HasProviders() = false")
	}
	if reg.HTTPHandler() == nil {
		t.Fatal("expected non-nil handler")
	}
	if err := reg.Close(); err != nil {
		t.Errorf("Close() on empty registry failed: %v", err)
	}
}
