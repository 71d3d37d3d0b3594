package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/viant/jsonrpc"

	"github.com/murl-dev/murl/schema"
)

// teardownWait bounds the best-effort DELETE issued on session close; the
// caller's context may already be expired by then.
const teardownWait = 2 * time.Second

// session is one SSE-proxied conversation: an open GET stream carrying
// responses, and a session-scoped endpoint taking POSTed envelopes.
// id stays empty when the server never issued one; no header is sent then.
type session struct {
	engine       *Engine
	id           string
	postEndpoint string
	stream       *http.Response
	reader       *sseReader
	closeOnce    sync.Once
}

// sendSession runs the whole exchange over a session stream: open, MCP
// initialize handshake, envelope POST, then a read of the matching response
// event. Every step shares one deadline; on expiry the caller falls back.
func (e *Engine) sendSession(ctx context.Context, body []byte, requestID jsonrpc.RequestId, bearer string) (*Outcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.sessionWait)
	defer cancel()
	sess, err := e.openSession(waitCtx, bearer)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	initBody, initID, err := initializeEnvelope()
	if err != nil {
		return nil, err
	}
	if err = sess.post(waitCtx, initBody, bearer); err != nil {
		return nil, err
	}
	initResponse, err := sess.await(waitCtx, initID)
	if err != nil {
		return nil, err
	}
	if initResponse.Error != nil {
		return nil, fmt.Errorf("initialize failed (%d): %s", initResponse.Error.Code, initResponse.Error.Message)
	}
	if err = sess.post(waitCtx, notificationEnvelope(schema.MethodNotificationInitialized), bearer); err != nil {
		return nil, err
	}

	if err = sess.post(waitCtx, body, bearer); err != nil {
		return nil, err
	}
	response, err := sess.await(waitCtx, requestID)
	if err != nil {
		return nil, err
	}
	return outcomeFrom(response, ModeStreamedSession), nil
}

// openSession GETs the endpoint as an event stream and waits for the
// handshake event naming the session-scoped POST endpoint.
func (e *Engine) openSession(ctx context.Context, bearer string) (*session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	for _, h := range e.headers {
		req.Header.Set(h.name, h.value)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("endpoint is not session oriented: Content-Type %q", resp.Header.Get("Content-Type"))
	}
	reader := newSSEReader(resp.Body)
	endpoint, err := awaitEndpoint(reader)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	postEndpoint, sessionID, err := e.resolveSessionEndpoint(endpoint)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if sessionID == "" {
		sessionID = resp.Header.Get("Mcp-Session-Id")
	}
	return &session{
		engine:       e,
		id:           sessionID,
		postEndpoint: postEndpoint,
		stream:       resp,
		reader:       reader,
	}, nil
}

// awaitEndpoint reads stream events until the endpoint handshake arrives.
func awaitEndpoint(reader *sseReader) (string, error) {
	for {
		event, err := reader.Next()
		if err != nil {
			return "", fmt.Errorf("failed to read session handshake: %v", err)
		}
		if event.Name == "endpoint" && len(event.Data) > 0 {
			return string(event.Data), nil
		}
		if event.Name == "" || event.Name == "message" {
			continue
		}
		return "", fmt.Errorf("unexpected handshake event: %q", event.Name)
	}
}

// resolveSessionEndpoint resolves the handshake-relative endpoint against the
// base URL and extracts the session id its query carries, if any.
func (e *Engine) resolveSessionEndpoint(endpoint string) (string, string, error) {
	base, err := url.Parse(e.endpoint)
	if err != nil {
		return "", "", err
	}
	ref, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", "", fmt.Errorf("invalid session endpoint %q: %v", endpoint, err)
	}
	resolved := base.ResolveReference(ref)
	query := resolved.Query()
	sessionID := query.Get("session_id")
	if sessionID == "" {
		sessionID = query.Get("sessionId")
	}
	return resolved.String(), sessionID, nil
}

// post submits one envelope to the session endpoint; proxies acknowledge with
// an empty 2xx and deliver the response on the stream.
func (s *session) post(ctx context.Context, body []byte, bearer string) error {
	resp, err := s.engine.post(ctx, s.postEndpoint, body, bearer, s.id)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// await reads stream events until one carries the matching envelope id.
// Notifications, keepalives and other-id responses are skipped.
func (s *session) await(ctx context.Context, requestID jsonrpc.RequestId) (*jsonrpc.Response, error) {
	for {
		event, err := s.reader.Next()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				if errors.Is(cerr, context.DeadlineExceeded) {
					return nil, fmt.Errorf("timed out waiting for session response: %w", cerr)
				}
				return nil, cerr
			}
			return nil, fmt.Errorf("session stream closed without matching response: %v", err)
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

// Close tears the session down exactly once: the stream is closed and a
// best-effort DELETE releases server-side state. Runs on every exit path.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		_ = s.stream.Body.Close()
		ctx, cancel := context.WithTimeout(context.Background(), teardownWait)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.postEndpoint, nil)
		if err != nil {
			return
		}
		if s.id != "" {
			req.Header.Set("Mcp-Session-Id", s.id)
		}
		if resp, derr := s.engine.client.Do(req); derr == nil {
			_ = resp.Body.Close()
		}
	})
}
