package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/jsonrpc"
	"golang.org/x/oauth2"

	"github.com/murl-dev/murl/auth"
	"github.com/murl-dev/murl/schema"
	"github.com/murl-dev/murl/transport"
)

// grantFlow satisfies flow.AuthFlow without a browser.
type grantFlow struct {
	token string
	calls int
}

func (g *grantFlow) Token(_ context.Context, _ *oauth2.Config) (*oauth2.Token, error) {
	g.calls++
	return &oauth2.Token{AccessToken: g.token, Expiry: time.Now().Add(time.Hour)}, nil
}

type envelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

// mcpServer is a combined resource and OAuth endpoint serving the direct
// POST path; the MCP endpoint lives at /mcp.
type mcpServer struct {
	server *httptest.Server
	mu     sync.Mutex
	// envelope bytes of every non-handshake request, as received
	requestBodies []string
	// bearer required for non-handshake methods; empty allows anonymous
	requiredBearer string
	results        map[string]string
}

func newMCPServer() *mcpServer {
	ret := &mcpServer{results: map[string]string{}}
	ret.server = httptest.NewServer(http.HandlerFunc(ret.handle))
	return ret
}

func (m *mcpServer) endpoint() string {
	return m.server.URL + "/mcp"
}

func (m *mcpServer) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/.well-known/oauth-authorization-server":
		http.NotFound(w, r)
	case r.URL.Path == "/register":
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"client_id": "client-1"})
	case r.URL.Path == "/mcp" && r.Method == http.MethodGet:
		http.Error(w, "no stream here", http.StatusMethodNotAllowed)
	case r.URL.Path == "/mcp" && r.Method == http.MethodPost:
		m.handleRPC(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *mcpServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	request := &envelope{}
	_ = json.Unmarshal(body, request)
	switch request.Method {
	case schema.MethodInitialize:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05"}}`, request.Id)
		return
	case schema.MethodNotificationInitialized:
		w.WriteHeader(http.StatusAccepted)
		return
	}
	m.mu.Lock()
	m.requestBodies = append(m.requestBodies, string(body))
	m.mu.Unlock()
	if m.requiredBearer != "" && r.Header.Get("Authorization") != "Bearer "+m.requiredBearer {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	result, ok := m.results[request.Method]
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"Method not found"}}`, request.Id)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, request.Id, result)
}

func newTestClient(server *mcpServer, authFlow *grantFlow) *Client {
	manager := auth.New(
		auth.WithHTTPClient(server.server.Client()),
		auth.WithAuthFlow(authFlow),
		auth.WithOutput(&strings.Builder{}),
	)
	return New(
		WithAuthManager(manager),
		WithSessionWait(150*time.Millisecond),
		WithTimeout(5*time.Second),
	)
}

func TestExecuteToolsList(t *testing.T) {
	server := newMCPServer()
	defer server.server.Close()
	server.results[schema.MethodToolsList] = `{"tools":[{"name":"echo"}],"nextCursor":null}`

	mcpClient := newTestClient(server, &grantFlow{})
	result, err := mcpClient.Execute(context.Background(), &Request{
		URL:    server.endpoint() + "/tools",
		NoAuth: true,
	})
	if !assert.Nil(t, err) {
		return
	}
	assert.EqualValues(t, schema.MethodToolsList, result.Method)
	assert.EqualValues(t, transport.ModeImmediate, result.Mode)
	assert.JSONEq(t, `[{"name":"echo"}]`, string(result.Payload), "payload is unwrapped from the result member")
}

func TestExecuteToolsCallArguments(t *testing.T) {
	server := newMCPServer()
	defer server.server.Close()
	server.results[schema.MethodToolsCall] = `{"content":[{"type":"text","text":"4"}]}`

	mcpClient := newTestClient(server, &grantFlow{})
	result, err := mcpClient.Execute(context.Background(), &Request{
		URL:    server.endpoint() + "/tools/add",
		Data:   []string{"a=2", "b=2"},
		NoAuth: true,
	})
	if !assert.Nil(t, err) {
		return
	}
	assert.JSONEq(t, `[{"type":"text","text":"4"}]`, string(result.Payload))

	server.mu.Lock()
	defer server.mu.Unlock()
	if assert.EqualValues(t, 1, len(server.requestBodies)) {
		assert.Contains(t, server.requestBodies[0], `"name":"add"`)
		assert.Contains(t, server.requestBodies[0], `"a":2`)
	}
}

func TestExecuteProtocolError(t *testing.T) {
	server := newMCPServer()
	defer server.server.Close()

	mcpClient := newTestClient(server, &grantFlow{})
	_, err := mcpClient.Execute(context.Background(), &Request{
		URL:    server.endpoint() + "/tools/missing",
		NoAuth: true,
	})
	var classified *Error
	if assert.ErrorAs(t, err, &classified) {
		assert.EqualValues(t, KindProtocol, classified.Kind)
		assert.EqualValues(t, jsonrpc.MethodNotFound, classified.ProtocolCode)
	}
}

func TestExecuteArgumentError(t *testing.T) {
	mcpClient := New()
	_, err := mcpClient.Execute(context.Background(), &Request{URL: "https://example.com/unrelated"})
	var classified *Error
	if assert.ErrorAs(t, err, &classified) {
		assert.EqualValues(t, KindArgument, classified.Kind)
	}
}

func TestExecuteRetriesOnceOnUnauthorized(t *testing.T) {
	server := newMCPServer()
	defer server.server.Close()
	server.requiredBearer = "fresh"
	server.results[schema.MethodToolsList] = `{"tools":[]}`

	authFlow := &grantFlow{token: "fresh"}
	mcpClient := newTestClient(server, authFlow)
	result, err := mcpClient.Execute(context.Background(), &Request{
		URL: server.endpoint() + "/tools",
	})
	if !assert.Nil(t, err) {
		return
	}
	assert.JSONEq(t, `[]`, string(result.Payload))
	assert.EqualValues(t, 1, authFlow.calls, "one authorization per 401")

	server.mu.Lock()
	defer server.mu.Unlock()
	if assert.EqualValues(t, 2, len(server.requestBodies), "rejected request is resent exactly once") {
		assert.EqualValues(t, server.requestBodies[0], server.requestBodies[1], "retry must reuse the identical envelope")
	}
}

func TestExecuteNoAuthSurfacesUnauthorized(t *testing.T) {
	server := newMCPServer()
	defer server.server.Close()
	server.requiredBearer = "fresh"
	server.results[schema.MethodToolsList] = `{"tools":[]}`

	authFlow := &grantFlow{token: "fresh"}
	mcpClient := newTestClient(server, authFlow)
	_, err := mcpClient.Execute(context.Background(), &Request{
		URL:    server.endpoint() + "/tools",
		NoAuth: true,
	})
	var classified *Error
	if assert.ErrorAs(t, err, &classified) {
		assert.EqualValues(t, KindAuth, classified.Kind)
	}
	assert.EqualValues(t, 0, authFlow.calls)
}

func TestExecuteForceLogin(t *testing.T) {
	server := newMCPServer()
	defer server.server.Close()
	server.requiredBearer = "fresh"
	server.results[schema.MethodToolsList] = `{"tools":[]}`

	authFlow := &grantFlow{token: "fresh"}
	mcpClient := newTestClient(server, authFlow)
	result, err := mcpClient.Execute(context.Background(), &Request{
		URL:        server.endpoint() + "/tools",
		ForceLogin: true,
	})
	if !assert.Nil(t, err) {
		return
	}
	assert.JSONEq(t, `[]`, string(result.Payload))
	assert.EqualValues(t, 1, authFlow.calls, "login authorizes before sending")

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.EqualValues(t, 1, len(server.requestBodies), "no retry needed when login precedes the request")
}
