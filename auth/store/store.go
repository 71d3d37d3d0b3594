package store

import (
	"sync"
	"time"
)

// ExpiryBuffer is how long before expires_at a token is already treated as
// expired, absorbing clock skew and in-flight request latency.
const ExpiryBuffer = 60 * time.Second

// ClientRegistration is a dynamically registered OAuth client (RFC 7591),
// created once per origin and reused across invocations.
type ClientRegistration struct {
	ClientID             string `json:"client_id"`
	ClientSecret         string `json:"client_secret,omitempty"`
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`
	RedirectURI          string `json:"redirect_uri,omitempty"`
}

// TokenRecord is the persisted outcome of a token exchange or refresh.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// Expired reports whether the access token may no longer be sent.
// A record without expires_at is always treated as expired.
func (t *TokenRecord) Expired() bool {
	if t == nil || t.AccessToken == "" || t.ExpiresAt.IsZero() {
		return true
	}
	return !time.Now().Before(t.ExpiresAt.Add(-ExpiryBuffer))
}

// Credential groups everything cached for one server origin.
type Credential struct {
	Origin                string              `json:"server_origin"`
	AuthorizationEndpoint string              `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string              `json:"token_endpoint,omitempty"`
	Registration          *ClientRegistration `json:"registration,omitempty"`
	Token                 *TokenRecord        `json:"token,omitempty"`
}

// Store is a pluggable persistence layer for per-origin credentials.
// The in-memory default is fine for tests; the file store survives restarts.
type Store interface {
	Lookup(origin string) (*Credential, bool)
	Save(credential *Credential) error
	Delete(origin string) error
}

type memoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*Credential
}

// NewMemoryStore creates an in-memory credential store.
func NewMemoryStore() Store {
	return &memoryStore{credentials: map[string]*Credential{}}
}

func (m *memoryStore) Lookup(origin string) (*Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if credential, ok := m.credentials[origin]; ok {
		return credential, true
	}
	return nil, false
}

func (m *memoryStore) Save(credential *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[credential.Origin] = credential
	return nil
}

func (m *memoryStore) Delete(origin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, origin)
	return nil
}
