package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerInfo describes where a reference instant sits between two firings
// of a cron expression. Translation providers use it to compute how long a
// quota-exhaustion cooldown must last: until the next period boundary.
type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// cron.Schedule only exposes Next, so the previous firing is found by
// stepping the search origin backwards until Next lands at or before ref.
const lookbackStep = time.Hour

// GetTriggerInfo evaluates expr (six-field, seconds included) around ref.
func GetTriggerInfo(expr string, ref time.Time) (*TriggerInfo, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: expr,
		Next:       schedule.Next(ref),
	}
	info.TimeUntilNext = info.Next.Sub(ref)

	origin := ref.Add(-time.Minute)
	for i := 0; i < 366*24; i++ {
		candidate := schedule.Next(origin.Add(-time.Duration(i) * lookbackStep))
		if !candidate.After(ref) {
			info.Last = candidate
			info.TimeSinceLast = ref.Sub(candidate)
			break
		}
	}
	return info, nil
}
