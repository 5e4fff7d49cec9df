package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDirectory reads public profiles from the profile directory service.
type HTTPDirectory struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDirectory creates a directory client for baseURL.
func NewHTTPDirectory(baseURL string, httpClient *http.Client) *HTTPDirectory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDirectory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type directoryProfile struct {
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	PublicKey   string `json:"publicKey"`
}

// GetPublicProfile returns the display identity of address. Unknown addresses
// yield an empty profile.
func (d *HTTPDirectory) GetPublicProfile(ctx context.Context, address string) (Profile, error) {
	p, err := d.fetch(ctx, address)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Address: address, DisplayName: p.DisplayName, Avatar: p.Avatar}, nil
}

// GetUserProfilePublicKey returns the outbox public key published by address,
// or "" when it has none.
func (d *HTTPDirectory) GetUserProfilePublicKey(ctx context.Context, address string) (string, error) {
	p, err := d.fetch(ctx, address)
	if err != nil {
		return "", err
	}
	return p.PublicKey, nil
}

func (d *HTTPDirectory) fetch(ctx context.Context, address string) (directoryProfile, error) {
	var p directoryProfile

	u := fmt.Sprintf("%s/profiles/%s", d.baseURL, url.PathEscape(strings.ToLower(address)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return p, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return p, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return p, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return p, fmt.Errorf("profile directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return p, fmt.Errorf("failed to decode profile: %w", err)
	}
	return p, nil
}
