// Package assistant is a client for a Watson Assistant v1 style message API.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/courier/internal/apierr"
	"github.com/zulandar/courier/internal/config"
)

const (
	op = "assistant: message"
	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Client calls the message endpoint of one workspace.
type Client struct {
	endpoint string
	username string
	password string
	apiKey   string
	http     *http.Client
}

// Opts holds parameters for creating a Client.
type Opts struct {
	URL         string // service base, e.g. https://gateway.watsonplatform.net/assistant/api
	WorkspaceID string
	Version     string // API version date; defaults to 2018-02-16
	Username    string
	Password    string
	APIKey      string // bearer token; used when Username is empty
	HTTPClient  *http.Client
	Timeout     time.Duration // used only when HTTPClient is nil
}

// New creates a Client.
func New(opts Opts) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("assistant: url is required")
	}
	if opts.WorkspaceID == "" {
		return nil, fmt.Errorf("assistant: workspace id is required")
	}
	if opts.Username == "" && opts.APIKey == "" {
		return nil, fmt.Errorf("assistant: username or api key is required")
	}
	version := opts.Version
	if version == "" {
		version = "2018-02-16"
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	endpoint := fmt.Sprintf("%s/v1/workspaces/%s/message?version=%s",
		base, url.PathEscape(opts.WorkspaceID), url.QueryEscape(version))
	return &Client{
		endpoint: endpoint,
		username: opts.Username,
		password: opts.Password,
		apiKey:   opts.APIKey,
		http:     hc,
	}, nil
}

// NewFromConfig creates a Client from the assistant config section.
func NewFromConfig(cfg config.AssistantConfig) (*Client, error) {
	return New(Opts{
		URL:         cfg.URL,
		WorkspaceID: cfg.WorkspaceID,
		Version:     cfg.Version,
		Username:    cfg.Username,
		Password:    cfg.Password,
		APIKey:      cfg.APIKey,
		Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
	})
}

// Reply is one turn's output.
type Reply struct {
	Text  string
	State json.RawMessage // context to pass on the next turn
}

type messageRequest struct {
	Input            messageInput    `json:"input"`
	Context          json.RawMessage `json:"context,omitempty"`
	AlternateIntents bool            `json:"alternate_intents"`
}

type messageInput struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Output struct {
		Text json.RawMessage `json:"text"`
	} `json:"output"`
	Context json.RawMessage `json:"context"`
	Error   string          `json:"error"`
}

// Converse sends text with the prior conversation context and returns the
// backend's reply. An empty prior omits the context field entirely. When the
// backend returns no context the prior one is carried forward.
func (c *Client) Converse(ctx context.Context, text string, prior json.RawMessage) (*Reply, error) {
	reqBody := messageRequest{
		Input:            messageInput{Text: text},
		AlternateIntents: true,
	}
	if len(bytes.TrimSpace(prior)) > 0 && !bytes.Equal(bytes.TrimSpace(prior), []byte("null")) {
		reqBody.Context = prior
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apierr.New(op, apierr.Rejected, "invalid_context", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apierr.New(op, apierr.Transport, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		code := ""
		if apierr.IsTimeout(err) {
			code = "timeout"
		}
		return nil, apierr.New(op, apierr.Transport, code, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apierr.New(op, apierr.Transport, "", fmt.Errorf("read body: %w", err))
	}

	var out messageResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Error)
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, apierr.New(op, apierr.Rejected, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("%s", msg))
	}
	if decodeErr != nil {
		return nil, apierr.New(op, apierr.Transport, "invalid_response", fmt.Errorf("decode: %w", decodeErr))
	}

	replyText, err := outputText(out.Output.Text)
	if err != nil {
		return nil, apierr.New(op, apierr.Transport, "invalid_response", err)
	}
	state := out.Context
	if len(state) == 0 || bytes.Equal(state, []byte("null")) {
		state = prior
	}
	return &Reply{Text: replyText, State: state}, nil
}

// outputText accepts output.text as a string or an array of strings. Array
// entries are joined with a single space.
func outputText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("output.text: %w", err)
	}
	return strings.Join(parts, " "), nil
}
