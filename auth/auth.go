// Package auth owns the OAuth 2.0 credential lifecycle for MCP origins:
// metadata discovery, dynamic client registration, the browser PKCE flow,
// token caching and refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/viant/mcp-protocol/oauth2/meta"
	"golang.org/x/oauth2"

	"github.com/murl-dev/murl/auth/flow"
	"github.com/murl-dev/murl/auth/store"
)

// endpointTimeout bounds every call to an OAuth endpoint (discovery,
// registration, token exchange, refresh).
const endpointTimeout = 10 * time.Second

// defaultTokenLifetime is assumed when the token endpoint omits expires_in
// and the access token carries no exp claim.
const defaultTokenLifetime = time.Hour

// Manager drives per-origin authorization state. All cross-invocation state
// lives in the store; the manager itself only serializes access to it.
type Manager struct {
	store  store.Store
	flow   flow.AuthFlow
	client *http.Client
	output io.Writer
	mux    sync.Mutex
}

type Option func(*Manager)

// WithStore sets the credential store.
func WithStore(s store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithAuthFlow sets the interactive authorization flow.
func WithAuthFlow(f flow.AuthFlow) Option {
	return func(m *Manager) {
		m.flow = f
	}
}

// WithHTTPClient sets the client used for OAuth endpoint calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// WithOutput redirects interactive progress messages (default stderr).
func WithOutput(output io.Writer) Option {
	return func(m *Manager) {
		m.output = output
	}
}

func New(options ...Option) *Manager {
	ret := &Manager{
		store:  store.NewMemoryStore(),
		flow:   flow.NewBrowserFlow(),
		client: &http.Client{Timeout: endpointTimeout},
		output: os.Stderr,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Store exposes the underlying credential store.
func (m *Manager) Store() store.Store {
	return m.store
}

// Origin reduces a server URL to its scheme://host origin, the key under
// which credentials are cached.
func Origin(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %v", serverURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing scheme or host", serverURL)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// Token returns a valid cached bearer for serverURL, refreshing or fully
// re-authorizing an expired record. It returns "" without side effects when
// the origin has no cached credential: authorization starts lazily, on the
// first 401 (see Reauthorize).
func (m *Manager) Token(ctx context.Context, serverURL string) (string, error) {
	origin, err := Origin(serverURL)
	if err != nil {
		return "", err
	}
	m.mux.Lock()
	defer m.mux.Unlock()

	credential, ok := m.store.Lookup(origin)
	if !ok || credential.Token == nil {
		return "", nil
	}
	if !credential.Token.Expired() {
		return credential.Token.AccessToken, nil
	}
	if credential.Token.RefreshToken != "" {
		if record, rerr := m.refresh(ctx, credential); rerr == nil {
			credential.Token = record
			if err = m.store.Save(credential); err != nil {
				return "", fmt.Errorf("failed to store refreshed token: %v", err)
			}
			return record.AccessToken, nil
		}
	}
	// silent refresh unavailable or rejected: full re-authorization
	return m.authorize(ctx, origin, credential)
}

// Login discards any cached token for the origin and runs the full
// authorization flow regardless of cache validity.
func (m *Manager) Login(ctx context.Context, serverURL string) (string, error) {
	origin, err := Origin(serverURL)
	if err != nil {
		return "", err
	}
	m.mux.Lock()
	defer m.mux.Unlock()

	credential, _ := m.store.Lookup(origin)
	if credential != nil {
		credential.Token = nil
	}
	return m.authorize(ctx, origin, credential)
}

// Reauthorize reacts to a 401: silent refresh when a refresh token exists,
// otherwise the full flow. The caller retries the request exactly once with
// the returned bearer.
func (m *Manager) Reauthorize(ctx context.Context, serverURL string) (string, error) {
	origin, err := Origin(serverURL)
	if err != nil {
		return "", err
	}
	m.mux.Lock()
	defer m.mux.Unlock()

	credential, _ := m.store.Lookup(origin)
	if credential != nil && credential.Token != nil && credential.Token.RefreshToken != "" {
		if record, rerr := m.refresh(ctx, credential); rerr == nil {
			credential.Token = record
			if err = m.store.Save(credential); err != nil {
				return "", fmt.Errorf("failed to store refreshed token: %v", err)
			}
			return record.AccessToken, nil
		}
	}
	return m.authorize(ctx, origin, credential)
}

// authorize runs discovery, registration (reusing a cached registration when
// its redirect port can still be bound) and the interactive flow, then
// persists the resulting credential. Caller holds m.mux.
func (m *Manager) authorize(ctx context.Context, origin string, cached *store.Credential) (string, error) {
	metadata := m.discoverMetadata(ctx, origin)

	if cached != nil && cached.Registration != nil && cached.Registration.RedirectURI != "" {
		config := oauthConfig(cached.Registration, metadata.AuthorizationEndpoint, metadata.TokenEndpoint)
		token, ferr := m.flow.Token(ctx, config)
		if ferr == nil {
			return m.persist(origin, metadata, cached.Registration, token)
		}
		if !errors.Is(ferr, flow.ErrPortUnavailable) {
			return "", ferr
		}
		// recorded redirect port taken: fall through to a fresh registration
	}

	if metadata.RegistrationEndpoint == "" {
		return "", fmt.Errorf("server does not advertise a registration endpoint; manual client registration may be required")
	}
	port, err := flow.FreePort()
	if err != nil {
		return "", fmt.Errorf("failed to allocate redirect port: %v", err)
	}
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	m.printf("Registering client...")
	registered, err := RegisterClient(ctx, metadata.RegistrationEndpoint, redirectURI, m.client)
	if err != nil {
		return "", err
	}
	registration := &store.ClientRegistration{
		ClientID:             registered.ClientID,
		ClientSecret:         registered.ClientSecret,
		RegistrationEndpoint: metadata.RegistrationEndpoint,
		RedirectURI:          redirectURI,
	}

	config := oauthConfig(registration, metadata.AuthorizationEndpoint, metadata.TokenEndpoint)
	token, err := m.flow.Token(ctx, config)
	if err != nil {
		return "", err
	}
	return m.persist(origin, metadata, registration, token)
}

func (m *Manager) persist(origin string, metadata *meta.AuthorizationServerMetadata, registration *store.ClientRegistration, token *oauth2.Token) (string, error) {
	credential := &store.Credential{
		Origin:                origin,
		AuthorizationEndpoint: metadata.AuthorizationEndpoint,
		TokenEndpoint:         metadata.TokenEndpoint,
		Registration:          registration,
		Token:                 m.tokenRecord(token, nil),
	}
	if err := m.store.Save(credential); err != nil {
		return "", fmt.Errorf("failed to store token: %v", err)
	}
	return credential.Token.AccessToken, nil
}

// refresh exchanges the refresh token for a new access token, preserving the
// old refresh token when the provider omits one.
func (m *Manager) refresh(ctx context.Context, credential *store.Credential) (*store.TokenRecord, error) {
	if credential.Registration == nil || credential.TokenEndpoint == "" {
		return nil, fmt.Errorf("no registration cached for %s", credential.Origin)
	}
	config := oauthConfig(credential.Registration, credential.AuthorizationEndpoint, credential.TokenEndpoint)
	seed := &oauth2.Token{
		AccessToken:  credential.Token.AccessToken,
		RefreshToken: credential.Token.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	refreshed, err := config.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %v", err)
	}
	return m.tokenRecord(refreshed, credential.Token), nil
}

// tokenRecord converts an oauth2 token, recovering expiry from the JWT exp
// claim when the endpoint omitted expires_in and keeping a prior refresh
// token the provider chose not to rotate.
func (m *Manager) tokenRecord(token *oauth2.Token, prior *store.TokenRecord) *store.TokenRecord {
	record := &store.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		record.Scope = scope
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = jwtExpiry(token.AccessToken)
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = time.Now().Add(defaultTokenLifetime)
	}
	if record.RefreshToken == "" && prior != nil {
		record.RefreshToken = prior.RefreshToken
	}
	return record
}

func (m *Manager) discoverMetadata(ctx context.Context, origin string) *meta.AuthorizationServerMetadata {
	m.printf("Discovering OAuth metadata...")
	metadata, err := meta.FetchAuthorizationServerMetadata(ctx, origin, m.client)
	if err != nil {
		// no published well-known document: assume conventional locations
		return defaultMetadata(origin)
	}
	return metadata
}

// defaultMetadata synthesizes conventional endpoints for an origin that does
// not publish RFC 8414 metadata.
func defaultMetadata(origin string) *meta.AuthorizationServerMetadata {
	return &meta.AuthorizationServerMetadata{
		Issuer:                origin,
		AuthorizationEndpoint: origin + "/authorize",
		TokenEndpoint:         origin + "/token",
		RegistrationEndpoint:  origin + "/register",
	}
}

func oauthConfig(registration *store.ClientRegistration, authURL, tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     registration.ClientID,
		ClientSecret: registration.ClientSecret,
		RedirectURL:  registration.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (m *Manager) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(m.output, format+"\n", args...)
}
