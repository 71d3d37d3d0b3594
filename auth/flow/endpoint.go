package flow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"
)

// ErrPortUnavailable signals the recorded redirect port could not be bound;
// the caller re-registers the client on a fresh port.
var ErrPortUnavailable = errors.New("redirect port unavailable")

// ErrCallbackTimeout signals the user never completed the browser flow.
var ErrCallbackTimeout = errors.New("timed out waiting for authorization callback")

type callbackResult struct {
	code string
	err  error
}

// Endpoint is a local listener awaiting exactly one OAuth redirect callback.
// It is a scoped resource: Listen acquires it, Close releases it on every
// exit path, and Wait observes at most one result.
type Endpoint struct {
	Port      int
	server    *http.Server
	listener  net.Listener
	state     string
	result    chan callbackResult
	closeOnce sync.Once
}

// Listen binds 127.0.0.1:port (0 picks an ephemeral port) and starts serving
// the /callback route. Any other path yields 404.
func Listen(port int, state string) (*Endpoint, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind 127.0.0.1:%d: %w", port, ErrPortUnavailable)
	}
	endpoint := &Endpoint{
		Port:     listener.Addr().(*net.TCPAddr).Port,
		listener: listener,
		state:    state,
		result:   make(chan callbackResult, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", endpoint.handleCallback)
	endpoint.server = &http.Server{Handler: mux}
	go func() {
		_ = endpoint.server.Serve(listener)
	}()
	return endpoint, nil
}

// RedirectURI returns the redirect URI served by this endpoint.
func (e *Endpoint) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", e.Port)
}

func (e *Endpoint) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if state := query.Get("state"); state != e.state {
		e.respond(w, "Authorization failed: state mismatch.")
		e.deliver(callbackResult{err: fmt.Errorf("authorization state mismatch")})
		return
	}
	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		if description == "" {
			description = errCode
		}
		e.respond(w, "Authorization failed: "+description)
		e.deliver(callbackResult{err: fmt.Errorf("authorization denied: %s", description)})
		return
	}
	code := query.Get("code")
	if code == "" {
		e.respond(w, "Authorization failed: no code received.")
		e.deliver(callbackResult{err: fmt.Errorf("no authorization code received")})
		return
	}
	e.respond(w, "Authorization successful! You can close this tab.")
	e.deliver(callbackResult{code: code})
}

// deliver records the first callback only; redirects may be replayed by browsers.
func (e *Endpoint) deliver(result callbackResult) {
	select {
	case e.result <- result:
	default:
	}
}

func (e *Endpoint) respond(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	page := "<html><body style='font-family:system-ui;text-align:center;padding:3em'><h2>" +
		html.EscapeString(body) + "</h2></body></html>"
	_, _ = w.Write([]byte(page))
}

// Wait blocks until the callback arrives or ctx expires.
func (e *Endpoint) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrCallbackTimeout
		}
		return "", ctx.Err()
	case result := <-e.result:
		return result.code, result.err
	}
}

// Close releases the listener; safe to call on every exit path.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		_ = e.server.Close()
	})
}

// FreePort reserves an ephemeral local port for a redirect URI. The port is
// released before registration and rebound by Listen; the window in between
// is tolerated, matching the interactive nature of the flow.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port, nil
}
