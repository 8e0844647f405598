// Package slack implements platform.Client on top of the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/courier/internal/apierr"
	"github.com/zulandar/courier/internal/logging"
	"github.com/zulandar/courier/internal/platform"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// defaultAPIURL is used when Opts.APIURL is empty.
	defaultAPIURL = "https://slack.com/api/"
)

// notFoundCodes are Slack error codes that mean the entity is missing or not
// visible to the token, as opposed to a rejected request.
var notFoundCodes = map[string]bool{
	"channel_not_found": true,
	"user_not_found":    true,
	"team_not_found":    true,
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	GetTeamInfoContext(ctx context.Context) (*slackapi.TeamInfo, error)
	GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetUserInfoContext(ctx context.Context, user string) (*slackapi.User, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Client implements platform.Client. A slack-go client is built per call
// from the team's token, so one Client serves every registered team.
type Client struct {
	apiURL     string
	httpClient *http.Client
	newClient  func(token string) slackClient
	backoff    time.Duration
	log        *slog.Logger
}

// Opts holds parameters for creating a Client.
type Opts struct {
	APIURL     string       // Slack Web API base, with trailing slash
	HTTPClient *http.Client // optional; defaults to http.DefaultClient
	Logger     *slog.Logger
	// Backoff is the first wait between rate-limit retries when Slack sends
	// no Retry-After. Defaults to one second.
	Backoff time.Duration
	// For testing: build clients without going through slack-go's HTTP layer.
	NewClient func(token string) slackClient
}

// New creates a Client.
func New(opts Opts) *Client {
	c := &Client{
		apiURL:     opts.APIURL,
		httpClient: opts.HTTPClient,
		newClient:  opts.NewClient,
		backoff:    opts.Backoff,
		log:        logging.OrDefault(opts.Logger),
	}
	if c.apiURL == "" {
		c.apiURL = defaultAPIURL
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	if c.newClient == nil {
		c.newClient = func(token string) slackClient {
			return slackapi.New(token,
				slackapi.OptionAPIURL(c.apiURL),
				slackapi.OptionHTTPClient(c.httpClient),
			)
		}
	}
	return c
}

var _ platform.Client = (*Client)(nil)

// TeamInfo calls team.info.
func (c *Client) TeamInfo(ctx context.Context, token string) (*platform.Team, error) {
	api := c.newClient(token)
	var info *slackapi.TeamInfo
	err := c.retryOnRateLimit(ctx, "team.info", func() error {
		var apiErr error
		info, apiErr = api.GetTeamInfoContext(ctx)
		return apiErr
	})
	if err != nil {
		return nil, classify("slack: team.info", err)
	}
	return &platform.Team{ID: info.ID, Name: info.Name, Domain: info.Domain}, nil
}

// ChannelInfo calls conversations.info, which covers public and private
// channels alike.
func (c *Client) ChannelInfo(ctx context.Context, token, channelID string) (*platform.Channel, error) {
	if channelID == "" {
		return nil, apierr.Rejectedf("slack: conversations.info", "channel_not_specified", "channel id is required")
	}
	api := c.newClient(token)
	var ch *slackapi.Channel
	err := c.retryOnRateLimit(ctx, "conversations.info", func() error {
		var apiErr error
		ch, apiErr = api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{ChannelID: channelID})
		return apiErr
	})
	if err != nil {
		return nil, classify("slack: conversations.info", err)
	}
	return &platform.Channel{ID: ch.ID, Name: ch.Name, IsPrivate: ch.IsPrivate}, nil
}

// UserInfo calls users.info.
func (c *Client) UserInfo(ctx context.Context, token, userID string) (*platform.User, error) {
	if userID == "" {
		return nil, apierr.Rejectedf("slack: users.info", "user_not_specified", "user id is required")
	}
	api := c.newClient(token)
	var u *slackapi.User
	err := c.retryOnRateLimit(ctx, "users.info", func() error {
		var apiErr error
		u, apiErr = api.GetUserInfoContext(ctx, userID)
		return apiErr
	})
	if err != nil {
		return nil, classify("slack: users.info", err)
	}
	return &platform.User{
		ID:          u.ID,
		Name:        u.Name,
		RealName:    u.RealName,
		DisplayName: u.Profile.DisplayName,
		IsBot:       u.IsBot,
	}, nil
}

// PostMessage calls chat.postMessage with plain text.
func (c *Client) PostMessage(ctx context.Context, token, channelID, text string) (string, error) {
	api := c.newClient(token)
	var ts string
	err := c.retryOnRateLimit(ctx, "chat.postMessage", func() error {
		var apiErr error
		_, ts, apiErr = api.PostMessageContext(ctx, channelID, slackapi.MsgOptionText(text, false))
		return apiErr
	})
	if err != nil {
		return "", classify("slack: chat.postMessage", err)
	}
	return ts, nil
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func (c *Client) retryOnRateLimit(ctx context.Context, method string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * c.backoff
		}
		c.log.Warn("slack: rate limited", "method", method, "attempt", attempt+1, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// classify maps slack-go errors onto the apierr taxonomy.
func classify(op string, err error) error {
	var se slackapi.SlackErrorResponse
	if errors.As(err, &se) {
		if notFoundCodes[se.Err] {
			return apierr.New(op, apierr.NotFound, se.Err, err)
		}
		return apierr.New(op, apierr.Rejected, se.Err, err)
	}

	var sce slackapi.StatusCodeError
	if errors.As(err, &sce) {
		code := fmt.Sprintf("http_%d", sce.Code)
		if sce.Code >= 500 {
			return apierr.New(op, apierr.Transport, code, err)
		}
		return apierr.New(op, apierr.Rejected, code, err)
	}

	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return apierr.New(op, apierr.Transport, "ratelimited", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(op, apierr.Transport, "timeout", err)
	}
	return apierr.New(op, apierr.Transport, "", err)
}
