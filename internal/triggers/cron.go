package triggers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// cronRunner fires on a standard 5-field cron expression. The expression is
// validated at registration; newCronRunner parses it again each time the
// runner is built, in case the document was edited on disk.
type cronRunner struct {
	trigger  *Trigger
	schedule cron.Schedule
	fire     func(*Trigger, map[string]any)
}

func newCronRunner(t *Trigger, fire func(*Trigger, map[string]any)) (*cronRunner, error) {
	schedule, err := cron.ParseStandard(t.ConfigString("schedule"))
	if err != nil {
		return nil, err
	}
	return &cronRunner{trigger: t, schedule: schedule, fire: fire}, nil
}

func (r *cronRunner) Run(ctx context.Context) error {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.fire(r.trigger, map[string]any{
				"schedule": r.trigger.ConfigString("schedule"),
				"firedAt":  next.Format(time.RFC3339),
			})
		}
	}
}
