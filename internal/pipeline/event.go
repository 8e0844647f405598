package pipeline

import (
	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/models"
	"github.com/zulandar/courier/internal/platform"
	"github.com/zulandar/courier/internal/session"
)

// ignoredSubtypes are platform housekeeping and bot-originated messages.
// Replying to them would loop or add noise.
var ignoredSubtypes = map[string]bool{
	"bot_message":   true,
	"channel_join":  true,
	"group_join":    true,
	"channel_leave": true,
	"group_leave":   true,
}

// Event is one inbound event callback, normalized by the gateway.
type Event struct {
	EventID   string
	TeamID    string
	ChannelID string
	UserID    string
	Type      string
	SubType   string
	Text      string
	TS        string
	BotID     string
}

// Key identifies the event for deduplication: the platform event id when
// present, otherwise team, channel and timestamp.
func (e Event) Key() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.TeamID + ":" + e.ChannelID + ":" + e.TS
}

// Ignored reports whether the event's subtype is filtered before any work.
func (e Event) Ignored() bool {
	return ignoredSubtypes[e.SubType]
}

// Turn is the conversational backend's output for one event.
type Turn struct {
	Text  string
	State session.State
}

// PostedReply is a message the pipeline posted.
type PostedReply struct {
	Text string
	TS   string
}

// EnrichmentContext accumulates stage outputs. A pointer field is non-nil
// only once the stage producing it has succeeded.
type EnrichmentContext struct {
	TeamID string
	Event  Event

	Credential *credential.Credential
	Team       *platform.Team
	Channel    *platform.Channel
	User       *platform.User
	Turn       *Turn
	Reply      *PostedReply
	Record     *models.EventRecord
}

// Outcome is how a successful run ended.
type Outcome int

const (
	// OutcomeNoOp means the event was accepted with nothing to do.
	OutcomeNoOp Outcome = iota
	// OutcomeReplied means a reply was posted.
	OutcomeReplied
)

func (o Outcome) String() string {
	if o == OutcomeReplied {
		return "replied"
	}
	return "no-op"
}

// Result describes a run. On a PartialSuccess error the Result is returned
// alongside the error and still carries the posted reply.
type Result struct {
	Outcome Outcome
	Reason  string // why a no-op run did nothing
	Reply   string
	ReplyTS string
	Record  *models.EventRecord
}

func noOp(reason string) *Result {
	return &Result{Outcome: OutcomeNoOp, Reason: reason}
}
