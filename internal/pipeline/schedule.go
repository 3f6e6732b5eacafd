package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultInterval = 60 * time.Second

// ParseSchedule accepts whole seconds ("60"), a Go duration ("60s", "5m")
// or a standard cron expression, including descriptors such as "@every 90s"
// or "@hourly".
// Empty input yields the default interval.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return cron.Every(DefaultInterval), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		s = strconv.Itoa(n) + "s"
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < time.Second {
			return nil, fmt.Errorf("poll interval %q: must be at least 1s", raw)
		}
		return cron.Every(d), nil
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return nil, fmt.Errorf("poll interval %q: %w", raw, err)
	}
	return sched, nil
}

// delayUntilNext returns how long to sleep from now until the next tick.
func delayUntilNext(s cron.Schedule, now time.Time) time.Duration {
	next := s.Next(now)
	if next.IsZero() {
		return DefaultInterval
	}
	return max(next.Sub(now), 0)
}
