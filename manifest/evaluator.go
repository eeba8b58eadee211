package manifest

import (
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
// Minute resolution; seconds-extended expressions are rejected.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a cron expression and returns the schedule.
// Exported so seeding can validate expressions before persisting.
func ParseCron(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Evaluator decides whether a manifest is due. It is pure with respect to
// the store: all inputs arrive as projections. Capacity (MaxActiveJobs) is
// never a factor here — "what's due" stays separate from "what's affordable",
// which is the dispatcher's concern.
type Evaluator struct {
	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule
}

// NewEvaluator creates an Evaluator with an empty cron cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{parsed: make(map[string]cronlib.Schedule)}
}

// IsDue reports whether the manifest should be queued at now. parent is the
// projection of the manifest this one depends on, or nil when it has none
// (or the parent is missing or disabled — both mean "not due").
//
// Reference time for time-based schedules is the last successful run, or
// creation time if the manifest has never succeeded. A failed attempt never
// advances the reference, so a failed manifest is due again on the next
// evaluation — that is the automatic-retry path.
func (e *Evaluator) IsDue(p *Projection, now time.Time, parent *Projection) (bool, error) {
	switch p.Schedule {
	case ScheduleCron:
		sched, err := e.schedule(p.CronExpression)
		if err != nil {
			return false, err
		}
		ref := p.CreatedAt
		if p.LastSuccessfulRun != nil {
			ref = *p.LastSuccessfulRun
		}
		return !sched.Next(ref).After(now), nil

	case ScheduleInterval:
		ref := p.CreatedAt
		if p.LastSuccessfulRun != nil {
			ref = *p.LastSuccessfulRun
		}
		return now.Sub(ref) >= p.Interval, nil

	case ScheduleDependent:
		if parent == nil || parent.LastSuccessfulRun == nil {
			return false, nil
		}
		if p.LastSuccessfulRun == nil {
			return true, nil
		}
		return parent.LastSuccessfulRun.After(*p.LastSuccessfulRun), nil

	case ScheduleDormantDependent, ScheduleNone:
		// Dormant dependents are driven only by explicit activation;
		// None is manual-trigger only.
		return false, nil

	default:
		return false, nil
	}
}

// schedule returns the cached parse of expr, parsing on first use.
func (e *Evaluator) schedule(expr string) (cronlib.Schedule, error) {
	e.parsedMu.RLock()
	sched, ok := e.parsed[expr]
	e.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	e.parsedMu.Lock()
	e.parsed[expr] = sched
	e.parsedMu.Unlock()
	return sched, nil
}
