package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun computes the next occurrence of rec strictly after now, or
// nil if the schedule has no more occurrences. Pure: no I/O, no clock
// reads, timezone resolution is explicit. The strictly-after rule is
// what prevents the engine from refiring the same instant forever;
// once is the single exception, returning start_date verbatim.
func NextRun(rec Recurrence, now time.Time) *time.Time {
	loc := loadLocation(rec.Timezone)

	var next time.Time
	switch rec.Frequency {
	case FrequencyOnce:
		if rec.StartDate == nil {
			return nil
		}
		next = *rec.StartDate

	case FrequencyDaily:
		next = nextDaily(rec, now, loc)

	case FrequencyWeekly:
		next = nextWeekly(rec, now, loc)

	case FrequencyMonthly:
		next = nextMonthly(rec, now, loc)

	case FrequencyCustom:
		if rec.CronExpr == nil {
			return nil
		}
		sched, err := cron.ParseStandard(*rec.CronExpr)
		if err != nil {
			// Creation-time validation rejects bad expressions; a bad
			// stored value means the schedule never fires again.
			return nil
		}
		base := now
		if rec.StartDate != nil && rec.StartDate.After(now) {
			// Allow an occurrence exactly at start_date.
			base = rec.StartDate.Add(-time.Second)
		}
		next = sched.Next(base.In(loc))

	default:
		return nil
	}

	if next.IsZero() {
		return nil
	}

	// Never compute an occurrence before the start date.
	if rec.Frequency != FrequencyOnce && rec.StartDate != nil {
		for next.Before(*rec.StartDate) {
			next = advance(rec, next)
			if next.IsZero() {
				return nil
			}
		}
	}

	// No occurrence at or past the end date.
	if rec.EndDate != nil && !next.Before(*rec.EndDate) {
		return nil
	}

	return &next
}

// loadLocation resolves a timezone name, falling back to UTC for empty
// or unrecognized names.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func nextDaily(rec Recurrence, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), rec.Hour, rec.Minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeekly(rec Recurrence, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)

	target := int(local.Weekday())
	if rec.DayOfWeek != nil {
		target = *rec.DayOfWeek
	}

	// Delta of 0 means next week: "this weekday" is always a future
	// occurrence when computing fresh.
	delta := (target - int(local.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}

	candidate := time.Date(local.Year(), local.Month(), local.Day(), rec.Hour, rec.Minute, 0, 0, loc)
	candidate = candidate.AddDate(0, 0, delta)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func nextMonthly(rec Recurrence, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)

	day := 1
	if rec.DayOfMonth != nil {
		day = clampDayOfMonth(*rec.DayOfMonth)
	}

	candidate := time.Date(local.Year(), local.Month(), day, rec.Hour, rec.Minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = time.Date(local.Year(), local.Month()+1, day, rec.Hour, rec.Minute, 0, 0, loc)
	}
	return candidate
}

// clampDayOfMonth limits the day to 1..28 so every month has the date.
func clampDayOfMonth(day int) int {
	if day < 1 {
		return 1
	}
	if day > 28 {
		return 28
	}
	return day
}

// advance moves an occurrence forward by one period. Used to roll past
// a future start date.
func advance(rec Recurrence, t time.Time) time.Time {
	switch rec.Frequency {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyCustom:
		if rec.CronExpr == nil {
			return time.Time{}
		}
		sched, err := cron.ParseStandard(*rec.CronExpr)
		if err != nil {
			return time.Time{}
		}
		return sched.Next(t)
	}
	return time.Time{}
}
