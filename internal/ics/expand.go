package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"coursecal/internal/log"
	"coursecal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls recurrence expansion for previews and export
// self-checks.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound the expansion window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion of open-ended rules. Zero
	// means defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences plus the ids of events that
// hit the per-event cap.
type ExpandResult struct {
	Occurrences []model.Occurrence
	Truncated   []string
}

// Expand turns a set of events into concrete occurrences within the
// window, sorted by start time. Recurrence semantics are delegated to the
// rrule engine so the preview matches what calendar clients will render
// from the emitted RRULE.
func Expand(events []*model.Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	for _, ev := range events {
		occ, hitCap, err := expandEvent(ev, cfg)
		if err != nil {
			log.Warn("expand: skipping event", "id", ev.ID, "reason", err.Error())
			continue
		}
		if hitCap {
			result.Truncated = append(result.Truncated, ev.ID)
		}
		result.Occurrences = append(result.Occurrences, occ...)
	}

	sort.Slice(result.Occurrences, func(i, j int) bool {
		a, b := result.Occurrences[i], result.Occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.EventID < b.EventID
	})
	return result, nil
}

func expandEvent(ev *model.Event, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	if !ev.Time.Recurring() {
		if overlaps(ev.Time.Start, ev.Time.End, cfg.RangeStart, cfg.RangeEnd) {
			return []model.Occurrence{makeOccurrence(ev, ev.Time.Start)}, false, nil
		}
		return nil, false, nil
	}

	r, err := RuleToRRule(ev.Time)
	if err != nil {
		return nil, false, err
	}

	times := r.Between(cfg.RangeStart, cfg.RangeEnd, true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(times))
	for _, start := range times {
		out = append(out, makeOccurrence(ev, start.In(ev.Time.Start.Location())))
	}
	return out, hitCap, nil
}

// RuleToRRule converts a recurring temporal value into an rrule instance
// anchored at its first occurrence. Generated instances inherit the
// value's duration.
func RuleToRRule(tv model.TemporalValue) (*rrule.RRule, error) {
	if tv.Rule == nil {
		return nil, errors.New("temporal value has no recurrence rule")
	}
	opt := rrule.ROption{
		Freq:     freqToRRule(tv.Rule.Frequency),
		Interval: tv.Rule.Interval,
		Count:    tv.Rule.Count,
		Dtstart:  tv.Start,
	}
	if tv.Rule.Until != nil {
		opt.Until = tv.Rule.Until.UTC()
	}
	for _, d := range tv.Rule.Days {
		opt.Byweekday = append(opt.Byweekday, weekdayToRRule(d))
	}
	return rrule.NewRRule(opt)
}

func freqToRRule(f model.Frequency) rrule.Frequency {
	switch f {
	case model.FreqDaily:
		return rrule.DAILY
	case model.FreqMonthly:
		return rrule.MONTHLY
	default:
		return rrule.WEEKLY
	}
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

func weekdayToRRule(d time.Weekday) rrule.Weekday {
	return rruleWeekdays[d]
}

func makeOccurrence(ev *model.Event, start time.Time) model.Occurrence {
	return model.Occurrence{
		EventID:  ev.ID,
		Title:    ev.Title,
		Location: ev.Location,
		Start:    start,
		End:      start.Add(ev.Time.Duration()),
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
