package flow

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// CallbackTimeout bounds how long the flow waits for the browser redirect.
const CallbackTimeout = 60 * time.Second

// AuthFlow acquires a token interactively for an OAuth client config whose
// RedirectURL is already registered with the authorization server.
type AuthFlow interface {
	Token(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error)
}

// BrowserFlow implements the authorization-code + PKCE flow through the
// system browser and a local redirect endpoint.
type BrowserFlow struct {
	// Timeout overrides CallbackTimeout when positive.
	Timeout time.Duration
	// Output receives interactive progress messages; defaults to stderr.
	Output io.Writer
	// OpenBrowser overrides the system browser launcher, used by tests.
	OpenBrowser func(authURL string) error
}

func NewBrowserFlow() *BrowserFlow {
	return &BrowserFlow{}
}

func (f *BrowserFlow) Token(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	redirect, err := url.Parse(config.RedirectURL)
	if err != nil || redirect.Port() == "" {
		return nil, fmt.Errorf("invalid redirect URL %q", config.RedirectURL)
	}
	port, err := strconv.Atoi(redirect.Port())
	if err != nil {
		return nil, fmt.Errorf("invalid redirect port %q", redirect.Port())
	}

	state := uuid.New().String()
	verifier := oauth2.GenerateVerifier()

	endpoint, err := Listen(port, state)
	if err != nil {
		return nil, err
	}
	defer endpoint.Close()

	authURL := config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	f.printf("Opening browser for authorization...")
	if err = f.open(authURL); err != nil {
		return nil, fmt.Errorf("failed to open browser: %v", err)
	}

	f.printf("Waiting for authorization (press Ctrl+C to cancel)...")
	waitCtx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()
	code, err := endpoint.Wait(waitCtx)
	if err != nil {
		return nil, err
	}

	f.printf("Exchanging authorization code for token...")
	token, err := config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %v", err)
	}
	if token == nil {
		return nil, fmt.Errorf("failed to get token")
	}
	f.printf("Authorization successful!")
	return token, nil
}

func (f *BrowserFlow) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return CallbackTimeout
}

func (f *BrowserFlow) open(authURL string) error {
	if f.OpenBrowser != nil {
		return f.OpenBrowser(authURL)
	}
	return Open(authURL).Start()
}

func (f *BrowserFlow) printf(format string, args ...interface{}) {
	output := f.Output
	if output == nil {
		output = os.Stderr
	}
	_, _ = fmt.Fprintf(output, format+"\n", args...)
}
