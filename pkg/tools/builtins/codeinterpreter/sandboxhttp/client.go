// Package sandboxhttp implements sandbox.Client on top of the sandbox
// server REST API. A sandbox is acquired when the session starts and
// released when it stops.
package sandboxhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/sandbox"
)

var (
	// ErrAtCapacity is returned when the sandbox server rejects a request
	// with HTTP 429.
	ErrAtCapacity = errors.New("sandbox at capacity")

	// ErrUnsupported is returned for operations or languages the sandbox
	// server cannot run.
	ErrUnsupported = errors.New("unsupported sandbox operation")

	errNotStarted = errors.New("sandbox session not started")
)

// ReleaseFunc returns an acquired sandbox.
type ReleaseFunc func(ctx context.Context) error

// Acquirer hands out sandbox base URLs.
type Acquirer interface {
	Acquire(ctx context.Context) (url string, release ReleaseFunc, err error)
}

// StaticAcquirer always returns the same URL and has nothing to release.
type StaticAcquirer string

// Acquire returns the static URL.
func (s StaticAcquirer) Acquire(context.Context) (string, ReleaseFunc, error) {
	if s == "" {
		return "", nil, errors.New("no sandbox URL configured")
	}
	return string(s), func(context.Context) error { return nil }, nil
}

// Options tunes the client.
type Options struct {
	// ExecutionTimeout is sent to the server as timeout_seconds. Zero
	// means 30 seconds.
	ExecutionTimeout time.Duration

	// HTTPClient defaults to a client with a 120 second timeout.
	HTTPClient *http.Client
}

// Client is a sandbox.Client bound to one acquired sandbox.
type Client struct {
	acquirer   Acquirer
	httpClient *http.Client
	timeout    time.Duration

	mu      sync.Mutex
	url     string
	release ReleaseFunc
}

var _ sandbox.Client = (*Client)(nil)

// New creates an unstarted Client.
func New(acq Acquirer, opts Options) *Client {
	c := &Client{
		acquirer:   acq,
		httpClient: opts.HTTPClient,
		timeout:    opts.ExecutionTimeout,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	return c
}

// NewFactory returns a sandbox.Factory producing Clients that share acq and
// opts. The region is only used for logging since sandboxes are addressed
// by URL.
func NewFactory(acq Acquirer, opts Options) sandbox.Factory {
	return func(_ context.Context, region string) (sandbox.Client, error) {
		debug.Log("sandbox", "creating sandbox http client", "region", region)
		return New(acq, opts), nil
	}
}

// Start acquires a sandbox.
func (c *Client) Start(ctx context.Context) error {
	url, release, err := c.acquirer.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire sandbox: %w", err)
	}

	c.mu.Lock()
	c.url = url
	c.release = release
	c.mu.Unlock()

	slog.Debug("sandbox acquired", "url", url)
	return nil
}

// Invoke runs executeCode on the acquired sandbox. The server answers with a
// single document, so the returned sequence yields exactly one event.
func (c *Client) Invoke(ctx context.Context, name string, args sandbox.Arguments) (iter.Seq2[sandbox.Event, error], error) {
	if name != sandbox.OperationExecuteCode {
		return nil, fmt.Errorf("%w: operation %q", ErrUnsupported, name)
	}
	if args.Language != sandbox.LanguagePython {
		return nil, fmt.Errorf("%w: language %q", ErrUnsupported, args.Language)
	}

	c.mu.Lock()
	url := c.url
	c.mu.Unlock()
	if url == "" {
		return nil, errNotStarted
	}

	resp, err := c.execute(ctx, url, &executeRequest{
		Code:           args.Code,
		TimeoutSeconds: int(c.timeout / time.Second),
	})
	if err != nil {
		return nil, err
	}
	return sandbox.Single(sandbox.Event{Result: resp.result()}), nil
}

// Stop releases the sandbox. Stopping an unstarted client is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	release := c.release
	c.url, c.release = "", nil
	c.mu.Unlock()

	if release == nil {
		return nil
	}
	if err := release(ctx); err != nil {
		return fmt.Errorf("release sandbox: %w", err)
	}
	return nil
}

type executeRequest struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type executeResponse struct {
	Status          string            `json:"status"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	ExitCode        int               `json:"exit_code"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	FilesProduced   map[string]string `json:"files_produced,omitempty"`
}

func (c *Client) execute(ctx context.Context, baseURL string, req *executeRequest) (*executeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	debug.Trace("sandbox", "sandbox response", "status", resp.StatusCode, "body", string(respBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrAtCapacity
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, debug.Truncate(string(respBody), 200))
	}

	var out executeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// result converts the server response into the normalized result shape.
// ExecutionTime is reported in milliseconds.
func (r *executeResponse) result() sandbox.Result {
	res := sandbox.Result{
		Content: []sandbox.ContentBlock{{Type: "text", Text: r.Stdout}},
		IsError: r.Status != "success" || r.ExitCode != 0,
		StructuredContent: &sandbox.StructuredContent{
			Stdout:        r.Stdout,
			Stderr:        r.Stderr,
			ExitCode:      r.ExitCode,
			ExecutionTime: float64(r.ExecutionTimeMs),
		},
	}
	if r.Stderr != "" {
		res.Content = append(res.Content, sandbox.ContentBlock{Type: "text", Text: r.Stderr})
	}

	names := make([]string, 0, len(r.FilesProduced))
	for name := range r.FilesProduced {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res.Content = append(res.Content, sandbox.ContentBlock{
			Type: "resource_link",
			Name: name,
			URI:  "file:///" + name,
		})
	}
	return res
}
