// Package registration implements the Slack app install flow: redirect to
// the authorize page, exchange the returned code and record the team's bot
// credential.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/logging"
)

// Registrar records a completed install.
type Registrar interface {
	Register(ctx context.Context, reg credential.Registration) (*credential.Credential, error)
}

// Flow drives the OAuth code exchange.
type Flow struct {
	oauth  *oauth2.Config
	scopes []string
	store  Registrar
	http   *http.Client
	log    *slog.Logger
}

// Opts holds parameters for creating a Flow.
type Opts struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	Store        Registrar
	HTTPClient   *http.Client // optional, used for the token exchange
	Logger       *slog.Logger
}

// New creates a Flow.
func New(opts Opts) (*Flow, error) {
	switch {
	case opts.ClientID == "":
		return nil, fmt.Errorf("registration: client id is required")
	case opts.ClientSecret == "":
		return nil, fmt.Errorf("registration: client secret is required")
	case opts.AuthURL == "" || opts.TokenURL == "":
		return nil, fmt.Errorf("registration: auth and token urls are required")
	case opts.Store == nil:
		return nil, fmt.Errorf("registration: store is required")
	}
	return &Flow{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		scopes: opts.Scopes,
		store:  opts.Store,
		http:   opts.HTTPClient,
		log:    logging.OrDefault(opts.Logger),
	}, nil
}

// NewFromConfig creates a Flow from the slack config section.
func NewFromConfig(cfg config.SlackConfig, store Registrar, logger *slog.Logger) (*Flow, error) {
	return New(Opts{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		Store:        store,
		Logger:       logger,
	})
}

// AuthURL returns the authorize page URL. Slack expects scopes comma
// separated.
func (f *Flow) AuthURL(state string) string {
	return f.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", strings.Join(f.scopes, ",")))
}

// Complete exchanges code for a bot token and registers the team,
// replacing any earlier registration.
func (f *Flow) Complete(ctx context.Context, code string) (*credential.Credential, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("registration: code is required")
	}
	if f.http != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.http)
	}
	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return nil, fmt.Errorf("registration: exchange: %s: %w", re.ErrorCode, err)
		}
		return nil, fmt.Errorf("registration: exchange: %w", err)
	}

	reg, err := registrationFromToken(tok)
	if err != nil {
		return nil, err
	}
	cred, err := f.store.Register(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	f.log.Info("registration: team installed", "team_id", cred.TeamID, "team_name", cred.TeamName)
	return cred, nil
}

// registrationFromToken reads the team and bot identity Slack returns next
// to the token. The older response shape nests the bot token under "bot".
func registrationFromToken(tok *oauth2.Token) (credential.Registration, error) {
	reg := credential.Registration{
		AccessToken: tok.AccessToken,
		BotUserID:   extraString(tok.Extra("bot_user_id")),
		Scope:       extraString(tok.Extra("scope")),
	}
	if team, ok := tok.Extra("team").(map[string]interface{}); ok {
		reg.TeamID = extraString(team["id"])
		reg.TeamName = extraString(team["name"])
	}
	if reg.TeamID == "" {
		reg.TeamID = extraString(tok.Extra("team_id"))
		reg.TeamName = extraString(tok.Extra("team_name"))
	}
	if bot, ok := tok.Extra("bot").(map[string]interface{}); ok {
		if t := extraString(bot["bot_access_token"]); t != "" {
			reg.AccessToken = t
		}
		if id := extraString(bot["bot_user_id"]); id != "" {
			reg.BotUserID = id
		}
	}
	if reg.TeamID == "" {
		return reg, fmt.Errorf("registration: token response has no team id")
	}
	return reg, nil
}

func extraString(v interface{}) string {
	s, _ := v.(string)
	return s
}
