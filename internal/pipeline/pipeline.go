// Package pipeline turns an inbound chat event into an enriched reply.
//
// A run is an ordered list of stages over an EnrichmentContext: credential
// resolution, concurrent team/channel/user enrichment, a guard, an optional
// conversational turn, the reply and persistence. The first failing stage
// ends the run; a guard or filter ends it as a no-op success.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/courier/internal/assistant"
	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/logging"
	"github.com/zulandar/courier/internal/models"
	"github.com/zulandar/courier/internal/platform"
	"github.com/zulandar/courier/internal/session"
	"github.com/zulandar/courier/internal/weather"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultCallTimeout = 10 * time.Second
	defaultPlaceholder = "Private Channel"
)

// CredentialResolver finds the bot credential for a team.
type CredentialResolver interface {
	Resolve(ctx context.Context, teamID string) (*credential.Credential, error)
}

// Conversation is the conversational backend.
type Conversation interface {
	Converse(ctx context.Context, text string, prior json.RawMessage) (*assistant.Reply, error)
}

// Ledger records which events have been taken by a run.
type Ledger interface {
	Claim(ctx context.Context, key, teamID string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Recorder persists enriched event records.
type Recorder interface {
	Append(ctx context.Context, rec *models.EventRecord) error
}

// WeatherLookup backs the /weather command.
type WeatherLookup interface {
	Lookup(ctx context.Context, address string) (*weather.Report, error)
}

// Pipeline processes events and slash commands.
type Pipeline struct {
	creds       CredentialResolver
	platform    platform.Client
	assistant   Conversation
	sessions    *session.Manager
	scope       session.Scope
	ledger      Ledger
	recorder    Recorder
	weather     WeatherLookup
	placeholder string
	timeout     time.Duration
	callTimeout time.Duration
	log         *slog.Logger

	stages []stage
}

// Opts holds parameters for creating a Pipeline.
type Opts struct {
	Credentials CredentialResolver // required
	Platform    platform.Client    // required
	Recorder    Recorder           // required
	// Assistant enables the conversational turn. Without it replies use the
	// echo template. Sessions is required when Assistant is set.
	Assistant Conversation
	Sessions  *session.Manager
	Scope     session.Scope // defaults to session.ScopeUser
	// Ledger enables redelivery deduplication.
	Ledger  Ledger
	Weather WeatherLookup

	PlaceholderChannel string        // name used when the channel is not visible
	Timeout            time.Duration // whole run
	CallTimeout        time.Duration // each remote call
	Logger             *slog.Logger
}

type stageFunc func(context.Context, EnrichmentContext) (EnrichmentContext, error)

type stage struct {
	name Stage
	run  stageFunc
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.Credentials == nil {
		return nil, fmt.Errorf("pipeline: credentials are required")
	}
	if opts.Platform == nil {
		return nil, fmt.Errorf("pipeline: platform client is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("pipeline: recorder is required")
	}
	if opts.Assistant != nil && opts.Sessions == nil {
		return nil, fmt.Errorf("pipeline: sessions are required with an assistant")
	}
	p := &Pipeline{
		creds:       opts.Credentials,
		platform:    opts.Platform,
		assistant:   opts.Assistant,
		sessions:    opts.Sessions,
		scope:       opts.Scope,
		ledger:      opts.Ledger,
		recorder:    opts.Recorder,
		weather:     opts.Weather,
		placeholder: opts.PlaceholderChannel,
		timeout:     opts.Timeout,
		callTimeout: opts.CallTimeout,
		log:         logging.OrDefault(opts.Logger),
	}
	if p.scope == "" {
		p.scope = session.ScopeUser
	}
	if p.placeholder == "" {
		p.placeholder = defaultPlaceholder
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.callTimeout <= 0 {
		p.callTimeout = defaultCallTimeout
	}
	p.stages = []stage{
		{StageCredential, p.resolveCredential},
		{StageEnrich, p.enrich},
		{StageGuard, p.guard},
		{StageConverse, p.converse},
		{StageReply, p.reply},
		{StagePersist, p.persist},
	}
	return p, nil
}

// Process runs the pipeline for one event. Filtered, duplicate and guarded
// events return an OutcomeNoOp result. On failure the error is a *Error;
// for KindPartialSuccess the Result is returned too.
func (p *Pipeline) Process(ctx context.Context, ev Event) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	log := p.log.With("team_id", ev.TeamID, "channel_id", ev.ChannelID, "event_key", ev.Key())

	if ev.Ignored() {
		log.Debug("pipeline: ignored subtype", "subtype", ev.SubType)
		return noOp("ignored subtype " + ev.SubType), nil
	}

	claimed := false
	if p.ledger != nil {
		cctx, ccancel := context.WithTimeout(ctx, p.callTimeout)
		ok, err := p.ledger.Claim(cctx, ev.Key(), ev.TeamID)
		ccancel()
		if err != nil {
			perr := fail(StageFilter, KindStoreUnavailable, ev.TeamID, err)
			log.Error("pipeline: claim failed", "error", perr)
			return nil, perr
		}
		if !ok {
			log.Info("pipeline: duplicate event dropped")
			return noOp("duplicate event"), nil
		}
		claimed = true
	}

	ec, err := p.run(ctx, EnrichmentContext{TeamID: ev.TeamID, Event: ev}, p.stages)

	var na *notApplicable
	if errors.As(err, &na) {
		log.Debug("pipeline: nothing to do", "reason", na.reason)
		return noOp(na.reason), nil
	}
	if err != nil {
		if claimed && ec.Reply == nil {
			p.release(ctx, ev.Key(), log)
		}
		var perr *Error
		if errors.As(err, &perr) && perr.ReplySent() {
			log.Warn("pipeline: reply sent but not recorded", "error", err)
			return resultOf(ec), err
		}
		log.Error("pipeline: run failed", "error", err)
		return nil, err
	}

	log.Info("pipeline: replied", "user_id", ev.UserID, "reply_ts", ec.Reply.TS)
	return resultOf(ec), nil
}

// run executes stages in order, stopping at the first error. It returns the
// context as of the last successful stage.
func (p *Pipeline) run(ctx context.Context, ec EnrichmentContext, stages []stage) (EnrichmentContext, error) {
	for _, s := range stages {
		next, err := s.run(ctx, ec)
		if err != nil {
			return ec, err
		}
		ec = next
	}
	return ec, nil
}

// release drops the claim so redelivery can retry the event. It outlives
// the run's deadline.
func (p *Pipeline) release(ctx context.Context, key string, log *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
	defer cancel()
	if err := p.ledger.Release(rctx, key); err != nil {
		log.Warn("pipeline: release claim", "error", err)
	}
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.callTimeout)
}

func resultOf(ec EnrichmentContext) *Result {
	r := &Result{Outcome: OutcomeReplied, Record: ec.Record}
	if ec.Reply != nil {
		r.Reply = ec.Reply.Text
		r.ReplyTS = ec.Reply.TS
	}
	return r
}
