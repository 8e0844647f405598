package gateway

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/zulandar/courier/internal/pipeline"
)

// envelope is the outer Events API payload.
type envelope struct {
	Token     string          `json:"token"`
	TeamID    string          `json:"team_id"`
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
}

// innerEvent is the subset of a message event the pipeline needs.
type innerEvent struct {
	Type    string     `json:"type"`
	Subtype string     `json:"subtype"`
	Team    string     `json:"team"`
	Channel string     `json:"channel"`
	User    string     `json:"user"`
	Text    string     `json:"text"`
	BotID   string     `json:"bot_id"`
	TS      flexString `json:"ts"`
}

// flexString accepts a JSON string or number. Slack sends timestamps as
// strings but some relays forward them as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n)
	return nil
}

// readBody reads the request body and, when a signing secret is set,
// checks the Slack request signature. It writes the error response itself
// and returns ok=false on failure.
func (h *handler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	if h.signingSecret == "" {
		return body, true
	}
	sv, err := slack.NewSecretsVerifier(c.Request.Header, h.signingSecret)
	if err == nil {
		_, _ = sv.Write(body)
		err = sv.Ensure()
	}
	if err != nil {
		h.log.Warn("gateway: signature check failed", "error", err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

// tokenValid reports whether token matches the configured verification
// token. An empty token never matches.
func (h *handler) tokenValid(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func (h *handler) handleEvents(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&env); err != nil || !h.tokenValid(env.Token) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	switch env.Type {
	case slackevents.URLVerification:
		if env.Challenge == "" {
			c.String(http.StatusBadRequest, "missing challenge")
			return
		}
		c.PureJSON(http.StatusOK, gin.H{"challenge": env.Challenge})

	case slackevents.CallbackEvent:
		var inner innerEvent
		if len(env.Event) == 0 || json.Unmarshal(env.Event, &inner) != nil {
			c.String(http.StatusBadRequest, "malformed event payload")
			return
		}
		res, err := h.proc.Process(c.Request.Context(), toEvent(env, inner))
		h.respond(c, res, err)

	case slackevents.AppRateLimited:
		h.log.Warn("gateway: app rate limited by slack", "team_id", env.TeamID)
		c.Status(http.StatusOK)

	default:
		c.Status(http.StatusOK)
	}
}

func toEvent(env envelope, inner innerEvent) pipeline.Event {
	teamID := env.TeamID
	if teamID == "" {
		teamID = inner.Team
	}
	return pipeline.Event{
		EventID:   env.EventID,
		TeamID:    teamID,
		ChannelID: inner.Channel,
		UserID:    inner.User,
		Type:      inner.Type,
		SubType:   inner.Subtype,
		Text:      inner.Text,
		TS:        string(inner.TS),
		BotID:     inner.BotID,
	}
}

// respond maps a pipeline outcome onto the HTTP response.
func (h *handler) respond(c *gin.Context, res *pipeline.Result, err error) {
	if err != nil {
		kind := pipeline.KindOf(err)
		if kind == pipeline.KindPartialSuccess && res != nil {
			c.Header("X-Slack-No-Retry", "1")
			c.String(http.StatusAccepted, res.Reply)
			return
		}
		c.String(statusFor(kind), err.Error())
		return
	}
	if res == nil || res.Outcome == pipeline.OutcomeNoOp {
		c.Status(http.StatusOK)
		return
	}
	c.String(http.StatusOK, res.Reply)
}

func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindUnauthorized:
		return http.StatusUnauthorized
	case pipeline.KindCredentialNotFound:
		return http.StatusNotFound
	case pipeline.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case pipeline.KindBackendRejected, pipeline.KindConversationBackend:
		return http.StatusBadGateway
	case pipeline.KindTransportFailure:
		return http.StatusGatewayTimeout
	case pipeline.KindPartialSuccess:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
