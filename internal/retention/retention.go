// Package retention prunes the processed-event ledger and idle
// conversation sessions on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/logging"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Pruner deletes rows older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Janitor runs the pruning pass.
type Janitor struct {
	events     Pruner
	sessions   Pruner
	eventAge   time.Duration
	sessionAge time.Duration
	schedule   cron.Schedule
	log        *slog.Logger
	now        func() time.Time
}

// Opts holds parameters for creating a Janitor.
type Opts struct {
	Events     Pruner // required
	Sessions   Pruner // optional; nil when sessions expire on their own
	EventAge   time.Duration
	SessionAge time.Duration
	Cron       string
	Logger     *slog.Logger
}

// Report counts rows removed by one pass.
type Report struct {
	Events   int64
	Sessions int64
}

// New creates a Janitor.
func New(opts Opts) (*Janitor, error) {
	if opts.Events == nil {
		return nil, fmt.Errorf("retention: events pruner is required")
	}
	if opts.EventAge <= 0 {
		return nil, fmt.Errorf("retention: event age must be positive")
	}
	if opts.Sessions != nil && opts.SessionAge <= 0 {
		return nil, fmt.Errorf("retention: session age must be positive")
	}
	sched, err := cronParser.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("retention: parse cron %q: %w", opts.Cron, err)
	}
	return &Janitor{
		events:     opts.Events,
		sessions:   opts.Sessions,
		eventAge:   opts.EventAge,
		sessionAge: opts.SessionAge,
		schedule:   sched,
		log:        logging.OrDefault(opts.Logger),
		now:        time.Now,
	}, nil
}

// NewFromConfig creates a Janitor from the retention config section.
func NewFromConfig(cfg config.RetentionConfig, events, sessions Pruner, logger *slog.Logger) (*Janitor, error) {
	return New(Opts{
		Events:     events,
		Sessions:   sessions,
		EventAge:   days(cfg.ProcessedEventDays),
		SessionAge: days(cfg.SessionIdleDays),
		Cron:       cfg.Cron,
		Logger:     logger,
	})
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// RunOnce performs one pruning pass. Both pruners run even if the first
// fails.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error
	now := j.now()

	n, err := j.events.Prune(ctx, now.Add(-j.eventAge))
	if err != nil {
		errs = append(errs, err)
	}
	rep.Events = n

	if j.sessions != nil {
		n, err := j.sessions.Prune(ctx, now.Add(-j.sessionAge))
		if err != nil {
			errs = append(errs, err)
		}
		rep.Sessions = n
	}

	if err := errors.Join(errs...); err != nil {
		return rep, fmt.Errorf("retention: %w", err)
	}
	return rep, nil
}

// Next returns the next scheduled run after t.
func (j *Janitor) Next(t time.Time) time.Time {
	return j.schedule.Next(t)
}

// Start runs pruning passes on the schedule until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	for {
		wait := time.Until(j.Next(j.now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		rep, err := j.RunOnce(ctx)
		if err != nil {
			j.log.Error("retention: prune failed", "error", err)
			continue
		}
		j.log.Info("retention: pruned", "processed_events", rep.Events, "sessions", rep.Sessions)
	}
}
