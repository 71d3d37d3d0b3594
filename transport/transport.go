// Package transport delivers a single JSON-RPC envelope to an MCP endpoint,
// negotiating between a session-based SSE proxy and direct POST with
// JSON/event-stream content negotiation.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/viant/jsonrpc"
	schema2 "github.com/viant/mcp-protocol/schema"

	"github.com/murl-dev/murl/schema"
)

// DefaultSessionWait bounds the session-SSE path: handshake plus response
// reads. Exceeding it falls back to direct POST rather than failing.
const DefaultSessionWait = 10 * time.Second

// Mode tells how the response payload was obtained.
type Mode int

const (
	// ModeImmediate is a direct POST answered with a single JSON document.
	ModeImmediate Mode = iota
	// ModeStreamedDirect is a direct POST answered over a one-shot event stream.
	ModeStreamedDirect
	// ModeStreamedSession is a response read off a session-scoped SSE stream.
	ModeStreamedSession
)

func (m Mode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModeStreamedDirect:
		return "streamed"
	case ModeStreamedSession:
		return "session"
	}
	return "unknown"
}

// Outcome is the delivered JSON-RPC response, unwrapped from the envelope.
// Exactly one of Result and RPCError is set.
type Outcome struct {
	Mode     Mode
	Result   json.RawMessage
	RPCError *jsonrpc.Error
}

// StatusError reports a non-2xx HTTP status. A 401 is surfaced untouched so
// the orchestrator can run its one-shot credential retry.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %s", e.Status)
}

type header struct {
	name  string
	value string
}

// Engine sends JSON-RPC envelopes to one MCP endpoint. It holds no
// per-request state; sessions live and die inside a single Send.
type Engine struct {
	endpoint    string
	client      *http.Client
	headers     []header
	sessionWait time.Duration
}

type Option func(*Engine)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.client = client
	}
}

// WithHeader appends a custom header sent on every request, in flag order.
func WithHeader(name, value string) Option {
	return func(e *Engine) {
		e.headers = append(e.headers, header{name: name, value: value})
	}
}

// WithSessionWait bounds the session-SSE path.
func WithSessionWait(wait time.Duration) Option {
	return func(e *Engine) {
		e.sessionWait = wait
	}
}

func New(endpoint string, options ...Option) *Engine {
	ret := &Engine{
		endpoint:    endpoint,
		client:      http.DefaultClient,
		sessionWait: DefaultSessionWait,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Send delivers the envelope and returns its unwrapped response. The
// session-SSE path is attempted first; any of its failures other than a 401
// or caller cancellation falls back to direct POST. The envelope bytes are
// identical across paths and retries; only headers differ.
func (e *Engine) Send(ctx context.Context, request *jsonrpc.Request, bearer string) (*Outcome, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	outcome, err := e.sendSession(ctx, body, request.Id, bearer)
	if err == nil {
		return outcome, nil
	}
	if terminal(ctx, err) {
		return nil, err
	}
	return e.sendDirect(ctx, body, request.Id, bearer)
}

// terminal reports session-path errors that must not trigger the fallback:
// a 401 belongs to the auth retry loop, cancellation to the caller.
func terminal(ctx context.Context, err error) bool {
	var status *StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusUnauthorized {
		return true
	}
	return ctx.Err() != nil
}

// sendDirect POSTs the envelope after an initialize handshake, accepting
// either a JSON document or a one-shot event stream in response.
func (e *Engine) sendDirect(ctx context.Context, body []byte, requestID jsonrpc.RequestId, bearer string) (*Outcome, error) {
	initBody, initID, err := initializeEnvelope()
	if err != nil {
		return nil, err
	}
	resp, err := e.post(ctx, e.endpoint, initBody, bearer, "")
	if err != nil {
		return nil, err
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	initResponse, _, err := readResponse(resp, initID)
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %v", err)
	}
	if initResponse.Error != nil {
		return nil, fmt.Errorf("initialize failed (%d): %s", initResponse.Error.Code, initResponse.Error.Message)
	}
	// best-effort: some servers insist on the notification, none return data
	if resp, err = e.post(ctx, e.endpoint, notificationEnvelope(schema.MethodNotificationInitialized), bearer, sessionID); err == nil {
		_ = resp.Body.Close()
	} else if terminal(ctx, err) {
		return nil, err
	}

	resp, err = e.post(ctx, e.endpoint, body, bearer, sessionID)
	if err != nil {
		return nil, err
	}
	streamedMode := ModeImmediate
	response, streamed, err := readResponse(resp, requestID)
	if err != nil {
		return nil, err
	}
	if streamed {
		streamedMode = ModeStreamedDirect
	}
	return outcomeFrom(response, streamedMode), nil
}

// post sends one envelope; any non-2xx status maps to StatusError.
func (e *Engine) post(ctx context.Context, endpoint string, body []byte, bearer, sessionID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for _, h := range e.headers {
		req.Header.Set(h.name, h.value)
	}
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

// readResponse negotiates on Content-Type: a JSON document parses directly,
// an event stream is read until the event whose envelope id matches.
func readResponse(resp *http.Response, requestID jsonrpc.RequestId) (*jsonrpc.Response, bool, error) {
	defer resp.Body.Close()
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		reader := newSSEReader(resp.Body)
		response, err := awaitResponse(reader, requestID)
		return response, true, err
	}
	response := &jsonrpc.Response{}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return nil, false, fmt.Errorf("failed to decode JSON-RPC response: %v", err)
	}
	return response, false, nil
}

// awaitResponse consumes SSE events until one carries the matching envelope.
func awaitResponse(reader *sseReader, requestID jsonrpc.RequestId) (*jsonrpc.Response, error) {
	for {
		event, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("stream closed without matching response: %v", err)
		}
		if len(event.Data) == 0 || event.Data[0] != '{' {
			continue
		}
		response := &jsonrpc.Response{}
		if uerr := json.Unmarshal(event.Data, response); uerr != nil {
			continue
		}
		if matchID(response.Id, requestID) {
			return response, nil
		}
	}
}

func matchID(a, b jsonrpc.RequestId) bool {
	av, aok := intID(a)
	bv, bok := intID(b)
	return aok && bok && av == bv
}

// intID normalizes a JSON-RPC id to int64. Decoded envelopes carry float64
// or json.Number; ids we build are int. Zero is a valid id.
func intID(id jsonrpc.RequestId) (int64, bool) {
	switch v := id.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		ret, err := v.Int64()
		return ret, err == nil
	case string:
		ret, err := strconv.ParseInt(v, 10, 64)
		return ret, err == nil
	}
	return 0, false
}

func outcomeFrom(response *jsonrpc.Response, mode Mode) *Outcome {
	return &Outcome{Mode: mode, Result: response.Result, RPCError: response.Error}
}

// initializeEnvelope builds the MCP handshake request, id 0.
func initializeEnvelope() ([]byte, jsonrpc.RequestId, error) {
	params := &schema2.InitializeRequestParams{
		Capabilities:    schema2.ClientCapabilities{},
		ClientInfo:      schema2.Implementation{Name: schema.ClientName, Version: schema.ClientVersion},
		ProtocolVersion: schema.ProtocolVersion,
	}
	request, err := jsonrpc.NewRequest(schema.MethodInitialize, params)
	if err != nil {
		return nil, 0, err
	}
	request.Jsonrpc = jsonrpc.Version
	request.Id = 0
	body, err := json.Marshal(request)
	if err != nil {
		return nil, 0, err
	}
	return body, request.Id, nil
}

func notificationEnvelope(method string) []byte {
	body, _ := json.Marshal(&jsonrpc.Notification{Jsonrpc: jsonrpc.Version, Method: method})
	return body
}
