package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies an academic event. It is only used to pick
// default-duration and reminder heuristics, never as a hard constraint.
type EventKind string

const (
	KindLecture     EventKind = "lecture"
	KindExam        EventKind = "exam"
	KindAssignment  EventKind = "assignment"
	KindProject     EventKind = "project"
	KindOfficeHours EventKind = "office_hours"
	KindOther       EventKind = "other"
)

// Frequency is how often a recurring event repeats.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// RecurrenceRule describes a repeating occurrence, mirroring the closed
// set of RRULE shapes the assembler can emit. Exactly one of Until / Count
// may be set; neither means the schedule is open-ended.
type RecurrenceRule struct {
	Frequency Frequency      `json:"frequency"`
	Interval  int            `json:"interval"`
	Days      []time.Weekday `json:"daysOfWeek,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
	Count     int            `json:"count,omitempty"`
}

// Validate checks the structural invariants of the rule.
func (r *RecurrenceRule) Validate() error {
	switch r.Frequency {
	case FreqDaily, FreqWeekly, FreqMonthly:
	default:
		return fmt.Errorf("invalid recurrence frequency %q", r.Frequency)
	}
	if r.Interval < 1 {
		return errors.New("recurrence interval must be >= 1")
	}
	if r.Until != nil && r.Count > 0 {
		return errors.New("recurrence may carry either an until date or a count, not both")
	}
	if r.Count < 0 {
		return errors.New("recurrence count must not be negative")
	}
	if r.Frequency == FreqWeekly && len(r.Days) == 0 {
		return errors.New("weekly recurrence requires a day-of-week set")
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d in recurrence", d)
		}
	}
	return nil
}

// Bounded reports whether the rule has an explicit terminator.
func (r *RecurrenceRule) Bounded() bool {
	return r.Until != nil || r.Count > 0
}

// SameShape reports whether two rules repeat on the same schedule shape:
// same frequency, same interval and same day-of-week set. Terminators are
// deliberately not compared; two mentions of the same lecture often state
// the bound differently.
func (r *RecurrenceRule) SameShape(o *RecurrenceRule) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Frequency != o.Frequency || r.Interval != o.Interval {
		return false
	}
	if len(r.Days) != len(o.Days) {
		return false
	}
	var a, b uint8
	for _, d := range r.Days {
		a |= 1 << uint(d)
	}
	for _, d := range o.Days {
		b |= 1 << uint(d)
	}
	return a == b
}

// Clone returns a deep copy of the rule.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := *r
	out.Days = append([]time.Weekday(nil), r.Days...)
	if r.Until != nil {
		u := *r.Until
		out.Until = &u
	}
	return &out
}

// TemporalValue is a resolved time: a single occurrence when Rule is nil,
// a recurring one otherwise. For recurring values Start/End describe the
// first occurrence and every generated instance inherits End-Start.
//
// Placeholder marks a value synthesized after interpretation failed; such
// events stay visible and flagged instead of being dropped.
type TemporalValue struct {
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Rule        *RecurrenceRule `json:"rule,omitempty"`
	Placeholder bool            `json:"placeholder,omitempty"`
}

// Recurring reports whether the value carries a recurrence rule.
func (tv TemporalValue) Recurring() bool { return tv.Rule != nil }

// Duration is the per-instance duration.
func (tv TemporalValue) Duration() time.Duration { return tv.End.Sub(tv.Start) }

// Validate checks the temporal invariants shared by ledger and assembler.
func (tv TemporalValue) Validate() error {
	if tv.Start.IsZero() || tv.End.IsZero() {
		return errors.New("temporal value requires both start and end")
	}
	if !tv.End.After(tv.Start) {
		return errors.New("temporal value end must be after start")
	}
	if tv.Rule != nil {
		return tv.Rule.Validate()
	}
	return nil
}

// Clone returns a deep copy of the value.
func (tv TemporalValue) Clone() TemporalValue {
	out := tv
	out.Rule = tv.Rule.Clone()
	return out
}

// RawCandidate is an unstructured event guess from the upstream extraction
// step. It is consumed exactly once by the normalizer and then discarded.
type RawCandidate struct {
	Title           string  `json:"title"`
	WhenText        string  `json:"whenText"`
	LocationText    string  `json:"locationText"`
	DescriptionText string  `json:"descriptionText,omitempty"`
	SourceDocument  string  `json:"sourceDocument"`
	Confidence      float64 `json:"confidence"`
}

// Event is the canonical, validated, editable calendar entry.
//
// CreatedAt is the fixed origination timestamp assigned once at creation;
// the assembler reuses it as DTSTAMP so that re-exporting an unchanged
// session yields a byte-identical payload.
type Event struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Kind           EventKind     `json:"type"`
	Time           TemporalValue `json:"time"`
	Location       string        `json:"location"`
	Description    string        `json:"description,omitempty"`
	Confidence     float64       `json:"confidence"`
	Confirmed      bool          `json:"confirmed"`
	NeedsReview    bool          `json:"needsReview"`
	SourceDocument string        `json:"sourceDocument"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Clone returns a deep copy so ledger reads never alias internal state.
func (e *Event) Clone() *Event {
	out := *e
	out.Time = e.Time.Clone()
	return &out
}

// Occurrence is a single concrete instance of an event after recurrence
// expansion, used for previews and export self-checks.
type Occurrence struct {
	EventID  string
	Title    string
	Location string
	Start    time.Time
	End      time.Time
}

// NewEventID allocates a session-unique event identifier.
func NewEventID() string {
	return "evt-" + uuid.New().String()[:8]
}
