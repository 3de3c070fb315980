// Package agentcore implements sandbox.Client on top of the AWS Bedrock
// AgentCore Code Interpreter.
package agentcore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore/types"

	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/sandbox"
)

// DefaultIdentifier is the AWS managed code interpreter.
const DefaultIdentifier = "aws.codeinterpreter.v1"

// ErrNotStarted is returned by Invoke and Stop before Start succeeded.
var ErrNotStarted = errors.New("code interpreter session not started")

// Config selects the interpreter and session parameters.
type Config struct {
	// Identifier defaults to DefaultIdentifier.
	Identifier string

	// SessionName is optional.
	SessionName string

	// SessionTimeout is optional; zero leaves the service default.
	SessionTimeout time.Duration
}

// eventReader is the part of the SDK event stream the client consumes.
type eventReader interface {
	Events() <-chan types.CodeInterpreterStreamOutput
	Close() error
	Err() error
}

// api is the subset of the AgentCore data plane used by Client.
type api interface {
	start(ctx context.Context, in *bedrockagentcore.StartCodeInterpreterSessionInput) (string, error)
	invoke(ctx context.Context, in *bedrockagentcore.InvokeCodeInterpreterInput) (eventReader, error)
	stop(ctx context.Context, in *bedrockagentcore.StopCodeInterpreterSessionInput) error
}

type sdkAPI struct {
	client *bedrockagentcore.Client
}

func (s sdkAPI) start(ctx context.Context, in *bedrockagentcore.StartCodeInterpreterSessionInput) (string, error) {
	out, err := s.client.StartCodeInterpreterSession(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.SessionId), nil
}

func (s sdkAPI) invoke(ctx context.Context, in *bedrockagentcore.InvokeCodeInterpreterInput) (eventReader, error) {
	out, err := s.client.InvokeCodeInterpreter(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

func (s sdkAPI) stop(ctx context.Context, in *bedrockagentcore.StopCodeInterpreterSessionInput) error {
	_, err := s.client.StopCodeInterpreterSession(ctx, in)
	return err
}

// Client is one AgentCore code interpreter session.
type Client struct {
	api    api
	cfg    Config
	region string

	mu        sync.Mutex
	sessionID string
}

var _ sandbox.Client = (*Client)(nil)

// New loads the default AWS configuration for region and returns an
// unstarted Client.
func New(ctx context.Context, region string, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newClient(sdkAPI{client: bedrockagentcore.NewFromConfig(awsCfg)}, region, cfg), nil
}

func newClient(a api, region string, cfg Config) *Client {
	if cfg.Identifier == "" {
		cfg.Identifier = DefaultIdentifier
	}
	return &Client{api: a, cfg: cfg, region: region}
}

// NewFactory returns a sandbox.Factory that builds AgentCore clients.
func NewFactory(cfg Config) sandbox.Factory {
	return func(ctx context.Context, region string) (sandbox.Client, error) {
		return New(ctx, region, cfg)
	}
}

// Start opens a session.
func (c *Client) Start(ctx context.Context) error {
	in := &bedrockagentcore.StartCodeInterpreterSessionInput{
		CodeInterpreterIdentifier: aws.String(c.cfg.Identifier),
	}
	if c.cfg.SessionName != "" {
		in.Name = aws.String(c.cfg.SessionName)
	}
	if c.cfg.SessionTimeout > 0 {
		in.SessionTimeoutSeconds = aws.Int32(int32(c.cfg.SessionTimeout / time.Second))
	}

	id, err := c.api.start(ctx, in)
	if err != nil {
		return fmt.Errorf("start code interpreter session: %w", err)
	}

	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()

	slog.Debug("agentcore session started", "region", c.region, "identifier", c.cfg.Identifier, "session_id", id)
	return nil
}

// SessionID returns the remote session id, or "" before Start.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Invoke calls the named tool. The returned sequence closes the underlying
// event stream when iteration ends.
func (c *Client) Invoke(ctx context.Context, name string, args sandbox.Arguments) (iter.Seq2[sandbox.Event, error], error) {
	id := c.SessionID()
	if id == "" {
		return nil, ErrNotStarted
	}

	in := &bedrockagentcore.InvokeCodeInterpreterInput{
		CodeInterpreterIdentifier: aws.String(c.cfg.Identifier),
		SessionId:                 aws.String(id),
		Name:                      types.ToolName(name),
		Arguments: &types.ToolArguments{
			Code:         aws.String(args.Code),
			Language:     types.ProgrammingLanguage(args.Language),
			ClearContext: aws.Bool(args.ClearContext),
		},
	}

	debug.Log("sandbox", "invoking code interpreter", "tool", name, "session_id", id)
	stream, err := c.api.invoke(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("invoke code interpreter: %w", err)
	}
	return events(ctx, stream), nil
}

// Stop closes the session.
func (c *Client) Stop(ctx context.Context) error {
	id := c.SessionID()
	if id == "" {
		return ErrNotStarted
	}

	err := c.api.stop(ctx, &bedrockagentcore.StopCodeInterpreterSessionInput{
		CodeInterpreterIdentifier: aws.String(c.cfg.Identifier),
		SessionId:                 aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("stop code interpreter session: %w", err)
	}

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return nil
}

func events(ctx context.Context, stream eventReader) iter.Seq2[sandbox.Event, error] {
	return func(yield func(sandbox.Event, error) bool) {
		defer stream.Close()

		ch := stream.Events()
		for {
			select {
			case <-ctx.Done():
				yield(sandbox.Event{}, ctx.Err())
				return
			case out, ok := <-ch:
				if !ok {
					if err := stream.Err(); err != nil {
						yield(sandbox.Event{}, fmt.Errorf("code interpreter stream: %w", err))
					}
					return
				}
				res, ok := out.(*types.CodeInterpreterStreamOutputMemberResult)
				if !ok {
					debug.Log("sandbox", "skipping stream member", "type", fmt.Sprintf("%T", out))
					continue
				}
				if !yield(sandbox.Event{Result: convertResult(res.Value)}, nil) {
					return
				}
			}
		}
	}
}

func convertResult(r types.CodeInterpreterResult) sandbox.Result {
	out := sandbox.Result{
		Content: make([]sandbox.ContentBlock, 0, len(r.Content)),
		IsError: aws.ToBool(r.IsError),
	}
	for _, b := range r.Content {
		out.Content = append(out.Content, sandbox.ContentBlock{
			Type:     string(b.Type),
			Text:     aws.ToString(b.Text),
			Name:     aws.ToString(b.Name),
			URI:      aws.ToString(b.Uri),
			MimeType: aws.ToString(b.MimeType),
		})
	}
	if sc := r.StructuredContent; sc != nil {
		out.StructuredContent = &sandbox.StructuredContent{
			Stdout:        aws.ToString(sc.Stdout),
			Stderr:        aws.ToString(sc.Stderr),
			ExitCode:      int(aws.ToInt32(sc.ExitCode)),
			ExecutionTime: aws.ToFloat64(sc.ExecutionTime),
		}
	}
	return out
}
