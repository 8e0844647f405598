// Package weather looks up current conditions for the /weather slash command.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/courier/internal/apierr"
)

const op = "weather: lookup"

// ErrInvalidLocation means the service could not geocode the address.
var ErrInvalidLocation = errors.New("Invalid geolocation.")

// Report is the service's answer for one address.
type Report struct {
	Message     string      `json:"message"`
	Address     string      `json:"address"`
	Summary     string      `json:"weatherSummary"`
	Temperature json.Number `json:"temperature"`
}

// Client queries GET {url}/weather?address=...
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. A nil httpClient gets one with the given timeout.
func New(baseURL string, httpClient *http.Client, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("weather: url is required")
	}
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

// Lookup fetches the report for address. A 400 response yields an
// apierr Rejected error wrapping ErrInvalidLocation.
func (c *Client) Lookup(ctx context.Context, address string) (*Report, error) {
	u := c.baseURL + "/weather?address=" + url.QueryEscape(strings.TrimSpace(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apierr.New(op, apierr.Transport, "", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.New(op, apierr.Transport, "", fmt.Errorf("unable to connect to weather service: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, apierr.New(op, apierr.Rejected, "invalid_geolocation", ErrInvalidLocation)
	case resp.StatusCode >= 500:
		return nil, apierr.New(op, apierr.Transport, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("%s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, apierr.New(op, apierr.Rejected, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("%s", resp.Status))
	}

	var r Report
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&r); err != nil {
		return nil, apierr.New(op, apierr.Transport, "invalid_response", fmt.Errorf("decode: %w", err))
	}
	return &r, nil
}
