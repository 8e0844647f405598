package pipeline

import (
	"errors"
	"fmt"

	"github.com/zulandar/courier/internal/apierr"
)

// Stage names a pipeline step for error reporting.
type Stage string

const (
	StageFilter     Stage = "filter"
	StageCredential Stage = "credential"
	StageEnrich     Stage = "enrich"
	StageGuard      Stage = "guard"
	StageConverse   Stage = "converse"
	StageReply      Stage = "reply"
	StagePersist    Stage = "persist"
	StageCommand    Stage = "command"
)

// Kind classifies a failed run.
type Kind int

const (
	// KindUnauthorized is used by the gateway for requests failing token or
	// signature checks; the pipeline never sees them.
	KindUnauthorized Kind = iota
	// KindNotApplicable names filtered events. Those runs succeed as no-ops
	// and are never returned as errors.
	KindNotApplicable
	KindCredentialNotFound
	KindBackendRejected
	KindTransportFailure
	KindStoreUnavailable
	KindConversationBackend
	// KindPartialSuccess means the reply was posted but the record was not
	// persisted. The event must not be replayed.
	KindPartialSuccess
	// KindInternal means a stage ran without the context it depends on.
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnauthorized:        "unauthorized",
	KindNotApplicable:       "not applicable",
	KindCredentialNotFound:  "credential not found",
	KindBackendRejected:     "backend rejected",
	KindTransportFailure:    "transport failure",
	KindStoreUnavailable:    "store unavailable",
	KindConversationBackend: "conversation backend error",
	KindPartialSuccess:      "partial success",
	KindInternal:            "internal error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrMissingContext is the cause when a stage needs a field an earlier
// stage did not produce.
var ErrMissingContext = errors.New("missing enrichment context")

// Error is a failed run. Its message names the stage, team and cause and
// never includes the credential's token.
type Error struct {
	Stage  Stage
	Kind   Kind
	TeamID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s: team %s: %s: %v", e.Stage, e.TeamID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReplySent reports whether a reply reached the channel before the failure.
func (e *Error) ReplySent() bool { return e.Kind == KindPartialSuccess }

// KindOf returns the Kind of a pipeline error, or KindInternal for errors
// the pipeline did not produce.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// notApplicable ends a run as a successful no-op.
type notApplicable struct {
	reason string
}

func (n *notApplicable) Error() string { return "not applicable: " + n.reason }

func skip(reason string) error { return &notApplicable{reason: reason} }

func fail(stage Stage, kind Kind, teamID string, err error) *Error {
	return &Error{Stage: stage, Kind: kind, TeamID: teamID, Err: err}
}

// remoteFailure maps a classified remote call failure onto a Kind. Lookups
// that find nothing count as rejections here; callers that tolerate
// NotFound handle it before calling.
func remoteFailure(stage Stage, teamID string, err error) *Error {
	if apierr.KindOf(err) == apierr.Transport {
		return fail(stage, KindTransportFailure, teamID, err)
	}
	return fail(stage, KindBackendRejected, teamID, err)
}
