// Package client orchestrates one request end to end: URL resolution, lazy
// credential lookup, transport delivery and the one-shot retry after a 401.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/viant/jsonrpc"

	"github.com/murl-dev/murl/auth"
	"github.com/murl-dev/murl/resolver"
	"github.com/murl-dev/murl/transport"
)

// DefaultTimeout bounds the whole exchange, both paths included.
const DefaultTimeout = 30 * time.Second

// Request is one invocation as the caller expressed it: a virtual URL plus
// raw flag values; resolution and coercion happen inside Execute.
type Request struct {
	URL     string
	Data    []string
	Headers []string
	// NoAuth skips credential lookup and the 401 retry.
	NoAuth bool
	// ForceLogin runs a fresh authorization before sending, discarding any
	// cached token for the origin.
	ForceLogin bool
}

// Result is the unwrapped response payload and how it was delivered.
type Result struct {
	Method  string
	Mode    transport.Mode
	Payload json.RawMessage
}

// Client executes virtual-URL requests against MCP endpoints.
type Client struct {
	auth        *auth.Manager
	httpClient  *http.Client
	timeout     time.Duration
	sessionWait time.Duration
}

type Option func(*Client)

// WithAuthManager sets the credential manager.
func WithAuthManager(manager *auth.Manager) Option {
	return func(c *Client) {
		c.auth = manager
	}
}

// WithHTTPClient sets the HTTP client handed to the transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithSessionWait bounds the session-SSE attempt before falling back.
func WithSessionWait(wait time.Duration) Option {
	return func(c *Client) {
		c.sessionWait = wait
	}
}

func New(options ...Option) *Client {
	ret := &Client{
		auth:        auth.New(),
		httpClient:  http.DefaultClient,
		timeout:     DefaultTimeout,
		sessionWait: transport.DefaultSessionWait,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Execute resolves the request, acquires a credential when one is cached for
// the origin, sends the envelope and unwraps the result. A 401 triggers
// exactly one reauthorization and resend of the same envelope; a tool with
// side effects can therefore run twice when the first attempt reached the
// server before being rejected. No other failure is retried.
func (c *Client) Execute(ctx context.Context, request *Request) (*Result, error) {
	spec, err := resolver.Resolve(request.URL, request.Data, request.Headers)
	if err != nil {
		return nil, argumentError(err)
	}

	bearer := ""
	if !request.NoAuth {
		if request.ForceLogin {
			bearer, err = c.auth.Login(ctx, spec.BaseURL)
		} else {
			bearer, err = c.auth.Token(ctx, spec.BaseURL)
		}
		if err != nil {
			return nil, authError("failed to acquire credential: %v", err)
		}
	}

	engine := c.engine(spec)
	envelope, err := newEnvelope(spec)
	if err != nil {
		return nil, argumentError(err)
	}
	outcome, err := c.send(ctx, engine, envelope, bearer)
	if err != nil && !request.NoAuth && unauthorized(err) {
		if bearer, err = c.auth.Reauthorize(ctx, spec.BaseURL); err != nil {
			return nil, authError("authorization failed: %v", err)
		}
		outcome, err = c.send(ctx, engine, envelope, bearer)
	}
	if err != nil {
		if unauthorized(err) {
			return nil, authError("server rejected credential: %v", err)
		}
		return nil, transportError(err)
	}
	if outcome.RPCError != nil {
		return nil, protocolError(outcome.RPCError.Code, outcome.RPCError.Message)
	}
	return &Result{
		Method:  spec.Method,
		Mode:    outcome.Mode,
		Payload: unwrapResult(spec.Method, outcome.Result),
	}, nil
}

// send bounds one delivery attempt; the interactive auth flow keeps its own
// longer deadline outside this one.
func (c *Client) send(ctx context.Context, engine *transport.Engine, envelope *jsonrpc.Request, bearer string) (*transport.Outcome, error) {
	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return engine.Send(sendCtx, envelope, bearer)
}

func (c *Client) engine(spec *resolver.Spec) *transport.Engine {
	options := []transport.Option{
		transport.WithHTTPClient(c.httpClient),
		transport.WithSessionWait(c.sessionWait),
	}
	for _, h := range spec.Headers {
		options = append(options, transport.WithHeader(h.Name, h.Value))
	}
	return transport.New(spec.BaseURL, options...)
}

func newEnvelope(spec *resolver.Spec) (*jsonrpc.Request, error) {
	envelope, err := jsonrpc.NewRequest(spec.Method, spec.Params)
	if err != nil {
		return nil, err
	}
	envelope.Jsonrpc = jsonrpc.Version
	envelope.Id = 1
	return envelope, nil
}

func unauthorized(err error) bool {
	var status *transport.StatusError
	return errors.As(err, &status) && status.StatusCode == http.StatusUnauthorized
}
