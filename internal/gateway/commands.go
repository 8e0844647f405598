package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"github.com/zulandar/courier/internal/pipeline"
)

// jsonCommand is the JSON shape relays post. slack.SlashCommand's own
// decoder requires fields such as is_enterprise_install that relays omit.
type jsonCommand struct {
	Token       string `json:"token"`
	TeamID      string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Command     string `json:"command"`
	Text        string `json:"text"`
	ResponseURL string `json:"response_url"`
}

func (j jsonCommand) slashCommand() slack.SlashCommand {
	return slack.SlashCommand{
		Token:       j.Token,
		TeamID:      j.TeamID,
		ChannelID:   j.ChannelID,
		UserID:      j.UserID,
		UserName:    j.UserName,
		Command:     j.Command,
		Text:        j.Text,
		ResponseURL: j.ResponseURL,
	}
}

// handleCommands serves slash commands, sent form-encoded by Slack or as
// JSON by relays. A body that cannot be parsed carries no valid token and
// is refused like a token mismatch.
func (h *handler) handleCommands(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	var sc slack.SlashCommand
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var jc jsonCommand
		if err := json.Unmarshal(body, &jc); err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		sc = jc.slashCommand()
	} else {
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		parsed, err := slack.SlashCommandParse(c.Request)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		sc = parsed
	}
	if !h.tokenValid(sc.Token) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	text, err := h.proc.Command(c.Request.Context(), pipeline.SlashCommand{
		Command:     sc.Command,
		Text:        sc.Text,
		TeamID:      sc.TeamID,
		ChannelID:   sc.ChannelID,
		UserID:      sc.UserID,
		UserName:    sc.UserName,
		ResponseURL: sc.ResponseURL,
	})
	if err != nil {
		c.String(statusFor(pipeline.KindOf(err)), err.Error())
		return
	}
	c.String(http.StatusOK, text)
}
