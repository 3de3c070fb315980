package sandbox

import (
	"context"
	"errors"
	"iter"
)

// Operation and language names understood by code interpreter services.
const (
	OperationExecuteCode = "executeCode"
	LanguagePython       = "python"
)

// ErrNoResultProduced is returned when a response stream ends before
// yielding a single event.
var ErrNoResultProduced = errors.New("code interpreter produced no result")

// Client is a handle to one remote execution session.
type Client interface {
	// Start creates the remote session. It is called once per handle.
	Start(ctx context.Context) error

	// Invoke runs the named operation and returns the lazily evaluated
	// response events. Consumers may stop iterating at any point; the
	// backend releases the underlying stream when iteration ends.
	Invoke(ctx context.Context, name string, args Arguments) (iter.Seq2[Event, error], error)

	// Stop tears down the remote session.
	Stop(ctx context.Context) error
}

// Factory builds an unstarted Client bound to a region.
type Factory func(ctx context.Context, region string) (Client, error)

// Arguments is the parameter set of an executeCode invocation.
type Arguments struct {
	Code         string `json:"code"`
	Language     string `json:"language"`
	ClearContext bool   `json:"clearContext"`
}

// Event is one item of a response stream.
type Event struct {
	// Result is the event payload. It is rendered as JSON for callers.
	Result any `json:"result"`
}

// Result is the normalized payload produced by the bundled backends. Field
// names follow the AgentCore CodeInterpreterResult wire format.
type Result struct {
	Content           []ContentBlock     `json:"content"`
	IsError           bool               `json:"isError"`
	StructuredContent *StructuredContent `json:"structuredContent,omitempty"`
}

// ContentBlock is a single piece of output.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// StructuredContent carries the process-level outcome of an execution.
type StructuredContent struct {
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	ExitCode      int     `json:"exitCode"`
	ExecutionTime float64 `json:"executionTime"`
}

// Single returns a sequence that yields exactly one event.
func Single(ev Event) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		yield(ev, nil)
	}
}
