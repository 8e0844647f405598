// Package platform defines the chat platform calls the event pipeline needs.
// Implementations normalize the platform's ok/error envelope into either a
// parsed payload or an *apierr.Error.
package platform

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Client is one verb per remote capability. Every call takes the team's
// access token explicitly so a single Client serves all registered teams.
type Client interface {
	TeamInfo(ctx context.Context, token string) (*Team, error)
	ChannelInfo(ctx context.Context, token, channelID string) (*Channel, error)
	UserInfo(ctx context.Context, token, userID string) (*User, error)
	// PostMessage posts text to channelID and returns the new message's
	// timestamp.
	PostMessage(ctx context.Context, token, channelID, text string) (string, error)
}

// Team is the workspace an event came from.
type Team struct {
	ID     string
	Name   string
	Domain string
}

// Channel is the conversation an event was posted in.
type Channel struct {
	ID        string
	Name      string
	IsPrivate bool
}

// User is the author of an event.
type User struct {
	ID          string
	Name        string
	RealName    string
	DisplayName string
	IsBot       bool
}

// PreferredName returns the real name, falling back to the user name.
// The display name and the id are used only when both are empty.
func (u User) PreferredName() string {
	for _, s := range []string{u.RealName, u.Name, u.DisplayName} {
		if s != "" {
			return s
		}
	}
	return u.ID
}

// ParseTimestamp converts a Slack timestamp (e.g. "1700000000.000100") to a
// time.Time, keeping the sub-second part. Returns the zero time on error.
func ParseTimestamp(ts string) time.Time {
	secPart, fracPart, _ := strings.Cut(strings.TrimSpace(ts), ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		fracPart += strings.Repeat("0", 9-len(fracPart))
		nsec, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}
		}
	}
	return time.Unix(sec, nsec).UTC()
}

// FormatTimestamp renders a Slack timestamp as "2006-01-02 15:04:05.000" in
// UTC. Returns an empty string when ts cannot be parsed.
func FormatTimestamp(ts string) string {
	t := ParseTimestamp(ts)
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05.000")
}
