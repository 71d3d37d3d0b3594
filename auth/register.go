package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/murl-dev/murl/schema"
)

// ClientRegistrationRequest is the RFC 7591 registration document for this client.
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// ClientRegistrationResponse carries the issued client credentials.
type ClientRegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// RegisterClient performs RFC 7591 Dynamic Client Registration for a public
// client using the authorization-code grant.
func RegisterClient(ctx context.Context, registrationEndpoint, redirectURI string, client *http.Client) (*ClientRegistrationResponse, error) {
	if client == nil {
		client = http.DefaultClient
	}
	payload := &ClientRegistrationRequest{
		ClientName:              schema.ClientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("client registration failed (%d): %s", resp.StatusCode, body)
	}
	registration := &ClientRegistrationResponse{}
	if err = json.NewDecoder(resp.Body).Decode(registration); err != nil {
		return nil, fmt.Errorf("client registration returned invalid JSON: %v", err)
	}
	if registration.ClientID == "" {
		return nil, fmt.Errorf("client registration response missing client_id")
	}
	return registration, nil
}
