package jobs

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bfd-etl/pipeline/pkg/errors"
)

// Schedule is a fixed delay between the end of one run and the start of the next
type Schedule struct {
	RepeatDelay int64
	Unit        time.Duration
}

// Every returns a schedule repeating after d
func Every(d time.Duration) *Schedule {
	return &Schedule{RepeatDelay: d.Milliseconds(), Unit: time.Millisecond}
}

// Interval converts the schedule to a sleep duration.
// A nil schedule or a non-positive delay yields zero, meaning run once.
func (s *Schedule) Interval() time.Duration {
	if s == nil || s.RepeatDelay <= 0 || s.Unit <= 0 {
		return 0
	}
	return time.Duration(s.RepeatDelay) * s.Unit
}

func (s *Schedule) String() string {
	if s.Interval() <= 0 {
		return "once"
	}
	return "@every " + s.Interval().String()
}

// ParseSchedule accepts "" or "@once" (run once), a Go duration such as
// "90s", or a cron "@every <duration>" descriptor. Calendar cron
// expressions are rejected since runners only sleep a fixed delay.
func ParseSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "@once" {
		return nil, nil
	}

	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, nil
		}
		return Every(d), nil
	}

	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schedule %q", expr)
	}

	delay, ok := parsed.(cron.ConstantDelaySchedule)
	if !ok {
		return nil, errors.Newf("schedule %q is a calendar expression, use @every <duration>", expr)
	}
	return Every(delay.Delay), nil
}
