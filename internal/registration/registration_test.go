package registration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/logging"
)

type fakeRegistrar struct {
	got []credential.Registration
	err error
}

func (f *fakeRegistrar) Register(_ context.Context, reg credential.Registration) (*credential.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, reg)
	return &credential.Credential{
		TeamID: reg.TeamID, TeamName: reg.TeamName, AccessToken: reg.AccessToken,
		BotUserID: reg.BotUserID, Scope: reg.Scope,
	}, nil
}

func tokenServer(t *testing.T, body string, form *url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if form != nil {
			*form = r.PostForm
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFlow(t *testing.T, tokenURL string, store Registrar) *Flow {
	t.Helper()
	f, err := New(Opts{
		ClientID:     "123.456",
		ClientSecret: "shh",
		RedirectURL:  "https://courier.example.com/slack/oauth",
		AuthURL:      "https://slack.example.com/oauth/v2/authorize",
		TokenURL:     tokenURL,
		Scopes:       []string{"chat:write", "users:read"},
		Store:        store,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	return f
}

func TestAuthURL(t *testing.T) {
	f := newFlow(t, "https://slack.example.com/api/oauth.v2.access", &fakeRegistrar{})
	u, err := url.Parse(f.AuthURL("state-1"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "slack.example.com", u.Host)
	assert.Equal(t, "123.456", q.Get("client_id"))
	assert.Equal(t, "chat:write,users:read", q.Get("scope"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "https://courier.example.com/slack/oauth", q.Get("redirect_uri"))
}

func TestComplete_V2Response(t *testing.T) {
	var form url.Values
	srv := tokenServer(t, `{
		"ok": true,
		"access_token": "xoxb-new",
		"token_type": "bot",
		"scope": "chat:write,users:read",
		"bot_user_id": "UBOT",
		"app_id": "A1",
		"team": {"id": "T1", "name": "Acme"}
	}`, &form)
	store := &fakeRegistrar{}
	f := newFlow(t, srv.URL, store)

	cred, err := f.Complete(context.Background(), "code-1")
	require.NoError(t, err)

	assert.Equal(t, "code-1", form.Get("code"))
	assert.Equal(t, "123.456", form.Get("client_id"))
	assert.Equal(t, "shh", form.Get("client_secret"))

	require.Len(t, store.got, 1)
	reg := store.got[0]
	assert.Equal(t, "T1", reg.TeamID)
	assert.Equal(t, "Acme", reg.TeamName)
	assert.Equal(t, "xoxb-new", reg.AccessToken)
	assert.Equal(t, "UBOT", reg.BotUserID)
	assert.Equal(t, "chat:write,users:read", reg.Scope)
	assert.Equal(t, "T1", cred.TeamID)
}

func TestComplete_LegacyBotShape(t *testing.T) {
	srv := tokenServer(t, `{
		"ok": true,
		"access_token": "xoxp-user",
		"scope": "bot",
		"team_id": "T2",
		"team_name": "Globex",
		"bot": {"bot_user_id": "UB2", "bot_access_token": "xoxb-legacy"}
	}`, nil)
	store := &fakeRegistrar{}
	f := newFlow(t, srv.URL, store)

	_, err := f.Complete(context.Background(), "code")
	require.NoError(t, err)
	require.Len(t, store.got, 1)
	assert.Equal(t, "T2", store.got[0].TeamID)
	assert.Equal(t, "Globex", store.got[0].TeamName)
	assert.Equal(t, "xoxb-legacy", store.got[0].AccessToken)
	assert.Equal(t, "UB2", store.got[0].BotUserID)
}

func TestComplete_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"slack error", `{"ok":false,"error":"invalid_code"}`, "c"},
		{"no team", `{"ok":true,"access_token":"xoxb-1"}`, "c"},
		{"empty code", `{}`, " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tokenServer(t, tt.body, nil)
			store := &fakeRegistrar{}
			f := newFlow(t, srv.URL, store)
			_, err := f.Complete(context.Background(), tt.code)
			assert.Error(t, err)
			assert.Empty(t, store.got)
		})
	}
}

func TestComplete_StoreFailure(t *testing.T) {
	srv := tokenServer(t, `{"ok":true,"access_token":"xoxb-1","team":{"id":"T1","name":"Acme"}}`, nil)
	store := &fakeRegistrar{err: errors.New("db down")}
	f := newFlow(t, srv.URL, store)
	_, err := f.Complete(context.Background(), "c")
	assert.ErrorContains(t, err, "db down")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{ClientSecret: "s", AuthURL: "a", TokenURL: "t", Store: &fakeRegistrar{}})
	assert.ErrorContains(t, err, "client id")
	_, err = New(Opts{ClientID: "i", AuthURL: "a", TokenURL: "t", Store: &fakeRegistrar{}})
	assert.ErrorContains(t, err, "client secret")
	_, err = New(Opts{ClientID: "i", ClientSecret: "s", Store: &fakeRegistrar{}})
	assert.ErrorContains(t, err, "urls are required")
	_, err = New(Opts{ClientID: "i", ClientSecret: "s", AuthURL: "a", TokenURL: "t"})
	assert.ErrorContains(t, err, "store is required")
}

func TestNewFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte("slack: {verification_token: v, client_id: '1.2', client_secret: s}\n"))
	require.NoError(t, err)
	f, err := NewFromConfig(cfg.Slack, &fakeRegistrar{}, nil)
	require.NoError(t, err)
	assert.Contains(t, f.AuthURL("x"), "https://slack.com/oauth/v2/authorize")
}
