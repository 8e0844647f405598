package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/courier/internal/session"
)

// ErrUnknownCommand is the cause for slash commands without a handler.
var ErrUnknownCommand = errors.New("Un-implemented slash command!")

// SlashCommand is one slash command invocation.
type SlashCommand struct {
	Command     string // e.g. "/weather"
	Text        string
	TeamID      string
	ChannelID   string
	UserID      string
	UserName    string
	ResponseURL string
}

// Command resolves the team's credential, looks up the invoking user and
// dispatches on the command name. It returns the response text.
func (p *Pipeline) Command(ctx context.Context, cmd SlashCommand) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	log := p.log.With("team_id", cmd.TeamID, "command", cmd.Command)

	ec := EnrichmentContext{
		TeamID: cmd.TeamID,
		Event:  Event{TeamID: cmd.TeamID, ChannelID: cmd.ChannelID, UserID: cmd.UserID, Text: cmd.Text},
	}
	ec, err := p.run(ctx, ec, []stage{
		{StageCredential, p.resolveCredential},
		{StageEnrich, p.lookupUser},
	})
	if err != nil {
		log.Error("pipeline: command failed", "error", err)
		return "", err
	}

	var text string
	switch strings.ToLower(strings.TrimSpace(cmd.Command)) {
	case "/weather":
		text, err = p.weatherCommand(ctx, ec, cmd.Text)
	case "/ask":
		text, err = p.askCommand(ctx, ec, cmd.Text)
	default:
		err = fail(StageCommand, KindBackendRejected, cmd.TeamID, ErrUnknownCommand)
	}
	if err != nil {
		log.Warn("pipeline: command failed", "error", err)
		return "", err
	}
	log.Info("pipeline: command answered", "user_id", cmd.UserID)
	return text, nil
}

// lookupUser is the enrichment slash commands need.
func (p *Pipeline) lookupUser(ctx context.Context, ec EnrichmentContext) (EnrichmentContext, error) {
	if ec.Credential == nil {
		return ec, fail(StageEnrich, KindInternal, ec.TeamID, ErrMissingContext)
	}
	cctx, cancel := p.callContext(ctx)
	defer cancel()
	u, err := p.platform.UserInfo(cctx, ec.Credential.AccessToken, ec.Event.UserID)
	if err != nil {
		return ec, remoteFailure(StageEnrich, ec.TeamID, err)
	}
	ec.User = u
	return ec, nil
}

func (p *Pipeline) weatherCommand(ctx context.Context, ec EnrichmentContext, address string) (string, error) {
	if p.weather == nil {
		return "", fail(StageCommand, KindBackendRejected, ec.TeamID, errors.New("weather lookup is not configured"))
	}
	cctx, cancel := p.callContext(ctx)
	defer cancel()
	r, err := p.weather.Lookup(cctx, address)
	if err != nil {
		return "", remoteFailure(StageCommand, ec.TeamID, err)
	}
	return fmt.Sprintf("Hey %s, the temperature at %s is %s and %s Celsius",
		ec.User.PreferredName(), r.Address, r.Summary, r.Temperature), nil
}

// askCommand runs a conversational turn keyed by team and user, so a
// user's /ask conversation follows them across channels.
func (p *Pipeline) askCommand(ctx context.Context, ec EnrichmentContext, text string) (string, error) {
	if p.assistant == nil {
		return "", fail(StageCommand, KindBackendRejected, ec.TeamID, errors.New("assistant is not configured"))
	}
	key := session.Key{TeamID: ec.TeamID, UserID: ec.Event.UserID}
	turn, err := p.turn(ctx, key, text)
	if err != nil {
		return "", p.turnFailure(StageCommand, ec.TeamID, err)
	}
	return replyText(*ec.User, text, turn), nil
}
