package storage

import (
	"context"
	"time"
)

// Execution is the history record of one execute_python call.
type Execution struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	CallID      string    `json:"call_id,omitempty"`
	Region      string    `json:"region"`
	Description string    `json:"description,omitempty"`
	Code        string    `json:"code"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionStore persists execution history. Reads and writes are scoped
// to the tenant carried by the context, if any.
type ExecutionStore interface {
	// SaveExecution stores a record. The tenant is taken from ctx.
	// Returns ErrConflict if the ID already exists.
	SaveExecution(ctx context.Context, e *Execution) error

	// ListExecutions returns up to limit records, newest first.
	ListExecutions(ctx context.Context, limit int) ([]*Execution, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}
