// Package murl turns REST-like virtual URLs into MCP JSON-RPC calls over
// HTTP, handling transport negotiation and OAuth credential management.
package murl

import (
	"io"
	"net/http"
	"time"

	"github.com/murl-dev/murl/auth"
	"github.com/murl-dev/murl/auth/store"
	"github.com/murl-dev/murl/client"
)

// Options configures a persistent-credential client. The zero value uses the
// default credentials directory, timeout and HTTP client.
type Options struct {
	// CredentialsDir overrides the per-origin credential cache location,
	// ~/.murl/credentials by default.
	CredentialsDir string
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// HTTPClient is shared by the transport and the OAuth endpoints.
	HTTPClient *http.Client
	// Output receives authorization progress lines, os.Stderr by default.
	Output io.Writer
}

// New builds a client backed by the on-disk credential store.
func New(options *Options) (*client.Client, error) {
	if options == nil {
		options = &Options{}
	}
	dir := options.CredentialsDir
	if dir == "" {
		var err error
		if dir, err = store.DefaultDir(); err != nil {
			return nil, err
		}
	}
	authOptions := []auth.Option{auth.WithStore(store.NewFileStore(dir))}
	if options.HTTPClient != nil {
		authOptions = append(authOptions, auth.WithHTTPClient(options.HTTPClient))
	}
	if options.Output != nil {
		authOptions = append(authOptions, auth.WithOutput(options.Output))
	}
	clientOptions := []client.Option{client.WithAuthManager(auth.New(authOptions...))}
	if options.HTTPClient != nil {
		clientOptions = append(clientOptions, client.WithHTTPClient(options.HTTPClient))
	}
	if options.Timeout > 0 {
		clientOptions = append(clientOptions, client.WithTimeout(options.Timeout))
	}
	return client.New(clientOptions...), nil
}
