package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zulandar/courier/internal/apierr"
	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/models"
	"github.com/zulandar/courier/internal/platform"
	"github.com/zulandar/courier/internal/session"
)

func (p *Pipeline) resolveCredential(ctx context.Context, ec EnrichmentContext) (EnrichmentContext, error) {
	cctx, cancel := p.callContext(ctx)
	defer cancel()
	cred, err := p.creds.Resolve(cctx, ec.TeamID)
	switch {
	case errors.Is(err, credential.ErrNotFound), errors.Is(err, credential.ErrDuplicate):
		return ec, fail(StageCredential, KindCredentialNotFound, ec.TeamID, err)
	case err != nil:
		return ec, fail(StageCredential, KindStoreUnavailable, ec.TeamID, err)
	}
	ec.Credential = cred
	return ec, nil
}

// enrich looks up team, channel and user concurrently. A channel the
// token cannot see gets the placeholder name.
func (p *Pipeline) enrich(ctx context.Context, ec EnrichmentContext) (EnrichmentContext, error) {
	if ec.Credential == nil {
		return ec, fail(StageEnrich, KindInternal, ec.TeamID, ErrMissingContext)
	}
	token := ec.Credential.AccessToken

	var (
		team    *platform.Team
		channel *platform.Channel
		user    *platform.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := p.callContext(gctx)
		defer cancel()
		t, err := p.platform.TeamInfo(cctx, token)
		if err != nil {
			return err
		}
		team = t
		return nil
	})
	g.Go(func() error {
		cctx, cancel := p.callContext(gctx)
		defer cancel()
		c, err := p.platform.ChannelInfo(cctx, token, ec.Event.ChannelID)
		if apierr.IsNotFound(err) {
			channel = &platform.Channel{ID: ec.Event.ChannelID, Name: p.placeholder, IsPrivate: true}
			return nil
		}
		if err != nil {
			return err
		}
		channel = c
		return nil
	})
	g.Go(func() error {
		cctx, cancel := p.callContext(gctx)
		defer cancel()
		u, err := p.platform.UserInfo(cctx, token, ec.Event.UserID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return ec, remoteFailure(StageEnrich, ec.TeamID, err)
	}

	ec.Team, ec.Channel, ec.User = team, channel, user
	return ec, nil
}

func (p *Pipeline) guard(_ context.Context, ec EnrichmentContext) (EnrichmentContext, error) {
	ev := ec.Event
	switch {
	case ev.Type != "message":
		return ec, skip(fmt.Sprintf("event type %q", ev.Type))
	case ev.BotID != "":
		return ec, skip("bot-originated message")
	case ec.Credential != nil && ec.Credential.BotUserID != "" && ev.UserID == ec.Credential.BotUserID:
		return ec, skip("own message")
	}
	return ec, nil
}

// converse runs the conversational turn when an assistant is configured.
func (p *Pipeline) converse(ctx context.Context, ec EnrichmentContext) (EnrichmentContext, error) {
	if p.assistant == nil {
		return ec, nil
	}
	key := session.NewKey(p.scope, ec.TeamID, ec.Event.ChannelID, ec.Event.UserID)
	turn, err := p.turn(ctx, key, ec.Event.Text)
	if err != nil {
		return ec, p.turnFailure(StageConverse, ec.TeamID, err)
	}
	ec.Turn = turn
	return ec, nil
}

// turn runs one serialized conversational turn for key.
func (p *Pipeline) turn(ctx context.Context, key session.Key, text string) (*Turn, error) {
	var turn *Turn
	err := p.sessions.Turn(ctx, key, func(prior session.State) (session.State, error) {
		cctx, cancel := p.callContext(ctx)
		defer cancel()
		r, err := p.assistant.Converse(cctx, text, prior)
		if err != nil {
			return nil, err
		}
		turn = &Turn{Text: r.Text, State: r.State}
		return r.State, nil
	})
	if err != nil {
		return nil, err
	}
	return turn, nil
}

func (p *Pipeline) turnFailure(stage Stage, teamID string, err error) *Error {
	var se *session.StoreError
	if errors.As(err, &se) {
		return fail(stage, KindStoreUnavailable, teamID, err)
	}
	return fail(stage, KindConversationBackend, teamID, err)
}

func (p *Pipeline) reply(ctx context.Context, ec EnrichmentContext) (EnrichmentContext, error) {
	if ec.Credential == nil || ec.User == nil {
		return ec, fail(StageReply, KindInternal, ec.TeamID, ErrMissingContext)
	}
	text := replyText(*ec.User, ec.Event.Text, ec.Turn)

	cctx, cancel := p.callContext(ctx)
	defer cancel()
	ts, err := p.platform.PostMessage(cctx, ec.Credential.AccessToken, ec.Event.ChannelID, text)
	if err != nil {
		return ec, remoteFailure(StageReply, ec.TeamID, err)
	}
	ec.Reply = &PostedReply{Text: text, TS: ts}
	return ec, nil
}

// replyText greets the user and either echoes the text or relays the
// assistant's answer.
func replyText(u platform.User, text string, turn *Turn) string {
	if turn != nil {
		return fmt.Sprintf("Hey %s, %s", u.PreferredName(), turn.Text)
	}
	return fmt.Sprintf("Hey %s, you said %s", u.PreferredName(), text)
}

func (p *Pipeline) persist(ctx context.Context, ec EnrichmentContext) (EnrichmentContext, error) {
	if ec.Team == nil || ec.Channel == nil || ec.User == nil || ec.Reply == nil {
		return ec, fail(StagePersist, KindInternal, ec.TeamID, ErrMissingContext)
	}
	ev := ec.Event
	rec := &models.EventRecord{
		EventKey:     ev.Key(),
		TeamID:       ec.TeamID,
		TeamName:     ec.Team.Name,
		ChannelID:    ev.ChannelID,
		ChannelName:  ec.Channel.Name,
		UserID:       ev.UserID,
		UserName:     ec.User.Name,
		UserRealName: ec.User.RealName,
		Type:         ev.Type,
		SubType:      ev.SubType,
		Text:         ev.Text,
		TS:           ev.TS,
		Datetime:     platform.FormatTimestamp(ev.TS),
		Reply:        ec.Reply.Text,
		CreatedAt:    time.Now().UTC(),
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
	defer cancel()
	if err := p.recorder.Append(cctx, rec); err != nil {
		return ec, fail(StagePersist, KindPartialSuccess, ec.TeamID, err)
	}
	ec.Record = rec
	return ec, nil
}
