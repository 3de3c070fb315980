package codeinterpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/sandbox"
)

// Tools runs Python code through a remote code interpreter session bound
// to a single region. The session is created on first use and kept until
// Cleanup, so interpreter state carries over between calls.
type Tools struct {
	region  string
	factory sandbox.Factory

	// hooks observe session lifecycle; used for metrics.
	onStart func()
	onStop  func()

	// mu guards client and starting. It is never held across a remote call.
	mu       sync.Mutex
	client   sandbox.Client
	starting chan struct{} // closed when the in-flight start finishes
	active   atomic.Bool
}

// New creates a Tools adapter. No remote call is made until the first
// execution.
func New(region string, factory sandbox.Factory) *Tools {
	return &Tools{region: region, factory: factory}
}

// Region returns the region the adapter is bound to.
func (t *Tools) Region() string {
	return t.region
}

// Active reports whether a remote session is currently held. It does not
// wait for a start in flight.
func (t *Tools) Active() bool {
	return t.active.Load()
}

// getClient returns the session handle, creating and starting it if needed.
// Concurrent first calls wait for a single start instead of creating their
// own session.
func (t *Tools) getClient(ctx context.Context) (sandbox.Client, error) {
	for {
		t.mu.Lock()
		if t.client != nil {
			c := t.client
			t.mu.Unlock()
			return c, nil
		}
		if wait := t.starting; wait != nil {
			t.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		t.starting = done
		t.mu.Unlock()

		c, err := t.start(ctx)

		t.mu.Lock()
		t.starting = nil
		if err == nil {
			t.client = c
			t.active.Store(true)
			if t.onStart != nil {
				t.onStart()
			}
		}
		t.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		slog.Info("started code interpreter", "region", t.region)
		return c, nil
	}
}

func (t *Tools) start(ctx context.Context) (sandbox.Client, error) {
	c, err := t.factory(ctx, t.region)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ExecutePython runs code in the session and returns the first result event
// rendered as indented JSON. A non-empty description is prepended to the
// code as a comment line.
func (t *Tools) ExecutePython(ctx context.Context, code, description string) (string, error) {
	if description != "" {
		code = "# " + description + "\n" + code
	}

	label := description
	if label == "" {
		label = "code"
	}
	debug.Log("sandbox", "executing", "what", label, "code", debug.Truncate(code, 120))

	c, err := t.getClient(ctx)
	if err != nil {
		return "", err
	}

	events, err := c.Invoke(ctx, sandbox.OperationExecuteCode, sandbox.Arguments{
		Code:         code,
		Language:     sandbox.LanguagePython,
		ClearContext: false,
	})
	if err != nil {
		return "", err
	}

	// Only the head of the stream is relayed.
	for ev, err := range events {
		if err != nil {
			return "", err
		}
		return renderResult(ev.Result)
	}
	return "", sandbox.ErrNoResultProduced
}

// Cleanup stops the session if one exists. The handle is dropped even when
// Stop fails; the error is returned to the caller. A start still in flight
// is not waited for.
func (t *Tools) Cleanup(ctx context.Context) error {
	t.mu.Lock()
	c := t.client
	if c == nil {
		t.mu.Unlock()
		return nil
	}
	t.client = nil
	t.active.Store(false)
	if t.onStop != nil {
		t.onStop()
	}
	t.mu.Unlock()

	if err := c.Stop(ctx); err != nil {
		return err
	}
	slog.Info("stopped code interpreter", "region", t.region)
	return nil
}

// renderResult encodes v as JSON with two-space indentation. HTML
// characters are kept as is and non-ASCII runes are written as \uXXXX
// escapes.
func renderResult(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// escapeNonASCII rewrites every non-ASCII rune in encoded JSON as a \u
// escape, using a surrogate pair above the BMP. Such runes only occur
// inside string literals, so the result decodes to the same value.
func escapeNonASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, r := range string(b) {
		switch {
		case r < utf8.RuneSelf:
			sb.WriteRune(r)
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&sb, "\\u%04x\\u%04x", r1, r2)
		default:
			fmt.Fprintf(&sb, "\\u%04x", r)
		}
	}
	return sb.String()
}
