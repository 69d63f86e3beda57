package comet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxBootstrapBody = 1 << 20

// Resolver produces the target for one connection attempt.
type Resolver interface {
	Resolve(ctx context.Context) (Target, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (Target, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context) (Target, error) {
	return f(ctx)
}

// StaticResolver always returns the same target.
type StaticResolver Target

// Resolve returns the fixed target.
func (r StaticResolver) Resolve(ctx context.Context) (Target, error) {
	if err := ctx.Err(); err != nil {
		return Target{}, err
	}
	return Target(r), nil
}

// HTTPResolver fetches a target from the gateway token endpoint.
type HTTPResolver struct {
	URL      string
	AppID    string
	DeviceID string
	Version  string
	Client   *http.Client
}

type bootstrapResponse struct {
	Addresses []string `json:"addresses"`
	Token     string   `json:"token"`
	ExpireAt  int64    `json:"expire_at,omitempty"`
}

// Resolve issues the bootstrap request and returns the first address.
func (r *HTTPResolver) Resolve(ctx context.Context) (Target, error) {
	if strings.TrimSpace(r.URL) == "" {
		return Target{}, errors.New("bootstrap url is empty")
	}
	endpoint, err := url.Parse(r.URL)
	if err != nil {
		return Target{}, fmt.Errorf("parse bootstrap url: %w", err)
	}
	query := endpoint.Query()
	query.Set("aid", r.AppID)
	query.Set("did", r.DeviceID)
	query.Set("ver", r.Version)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Target{}, err
	}
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Target{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Target{}, fmt.Errorf("bootstrap request returned status %d", resp.StatusCode)
	}

	var payload bootstrapResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBootstrapBody)).Decode(&payload); err != nil {
		return Target{}, fmt.Errorf("decode bootstrap response: %w", err)
	}
	if len(payload.Addresses) == 0 || strings.TrimSpace(payload.Addresses[0]) == "" {
		return Target{}, errors.New("bootstrap response has no address")
	}
	if payload.Token == "" {
		return Target{}, errors.New("bootstrap response has no token")
	}
	return Target{Address: strings.TrimSpace(payload.Addresses[0]), Token: payload.Token}, nil
}

// Endpoint builds the websocket URL for target.
func Endpoint(target Target, path string, extraQuery string) string {
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	endpoint := "ws://" + target.Address + path + "?tok=" + url.QueryEscape(target.Token)
	if extraQuery != "" {
		endpoint += "&" + strings.TrimPrefix(extraQuery, "&")
	}
	return endpoint
}
