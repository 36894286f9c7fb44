package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"coursecal/internal/config"
	"coursecal/internal/log"
	"coursecal/internal/model"
)

// ContentType is the media type of an exported calendar payload.
const ContentType = "text/calendar; charset=utf-8"

const prodID = "-//coursecal//Course Outline to Calendar//EN"

// localTimeLayout is the RFC 5545 local date-time form used together with
// a TZID parameter. Every timed value in the payload carries one; naive
// local times are never emitted.
const localTimeLayout = "20060102T150405"

// State tracks the assembler through one export run.
type State int

const (
	StateCollecting State = iota
	StateAssembling
	StateEmitted
)

// AssemblyError signals a defect at export time: an empty session, or an
// event whose temporal value is internally inconsistent despite having
// passed ledger validation. It is fatal to the export attempt only.
type AssemblyError struct {
	EventID string
	Reason  string
}

func (e *AssemblyError) Error() string {
	if e.EventID == "" {
		return "assembly failed: " + e.Reason
	}
	return fmt.Sprintf("assembly failed on event %s: %s", e.EventID, e.Reason)
}

// Export is the finished payload handed to the download step.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Assembler serializes a session's events into a single calendar payload.
// Assembly is read-only with respect to the ledger and idempotent:
// re-running on an unchanged event set yields a byte-identical payload,
// since event order follows the ledger, UIDs derive from event ids and
// DTSTAMP reuses each event's fixed creation time.
type Assembler struct {
	calendarName string
	tzid         string
	loc          *time.Location
	state        State
}

// NewAssembler builds an assembler anchored to the configured timezone.
func NewAssembler(cfg *config.Config) (*Assembler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Assembler{
		calendarName: cfg.CalendarName,
		tzid:         cfg.Timezone,
		loc:          loc,
		state:        StateCollecting,
	}, nil
}

// State returns the assembler's current phase.
func (a *Assembler) State() State { return a.state }

// Assemble produces the payload for one session. events must be the
// ledger's snapshot in insertion order.
func (a *Assembler) Assemble(sessionID string, events []*model.Event) (*Export, error) {
	a.state = StateAssembling
	if len(events) == 0 {
		a.state = StateCollecting
		return nil, &AssemblyError{Reason: "session has no events to export"}
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	cal.SetXWRCalName(a.calendarName)
	cal.SetXWRTimezone(a.tzid)

	for _, ev := range events {
		if err := ev.Time.Validate(); err != nil {
			a.state = StateCollecting
			return nil, &AssemblyError{EventID: ev.ID, Reason: err.Error()}
		}
		if err := a.addEvent(cal, ev); err != nil {
			a.state = StateCollecting
			return nil, &AssemblyError{EventID: ev.ID, Reason: err.Error()}
		}
	}

	// Serialize with CRLF terminators regardless of platform; calendar
	// clients require the RFC 5545 line-ending convention.
	data := []byte(cal.Serialize(ical.WithNewLineWindows))
	a.state = StateEmitted

	log.Info("assemble: payload emitted",
		"session", sessionID,
		"events", len(events),
		"bytes", len(data),
	)
	return &Export{
		Filename:    fmt.Sprintf("course_%s.ics", sessionID),
		ContentType: ContentType,
		Data:        data,
	}, nil
}

// addEvent appends one VEVENT. A recurring value becomes exactly one base
// occurrence plus one RRULE, never a pre-expanded instance list.
func (a *Assembler) addEvent(cal *ical.Calendar, ev *model.Event) error {
	ve := cal.AddEvent(ev.ID + "@coursecal")
	ve.SetDtStampTime(ev.CreatedAt.UTC())
	ve.SetSummary(ev.Title)

	tz := &ical.KeyValues{Key: "TZID", Value: []string{a.tzid}}
	ve.SetProperty(ical.ComponentPropertyDtStart, ev.Time.Start.In(a.loc).Format(localTimeLayout), tz)
	ve.SetProperty(ical.ComponentPropertyDtEnd, ev.Time.End.In(a.loc).Format(localTimeLayout), tz)

	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	ve.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(ev.Kind)))

	if ev.Time.Recurring() {
		value, err := rruleValue(ev.Time)
		if err != nil {
			return err
		}
		ve.AddRrule(value)
		return nil
	}

	// Reminders only on single occurrences; recurring alarms fire on
	// every instance and annoy more than they help.
	trigger, message := alarmFor(ev.Kind)
	alarm := ve.AddAlarm()
	alarm.SetAction(ical.ActionDisplay)
	alarm.SetTrigger(trigger)
	alarm.SetProperty(ical.ComponentPropertyDescription, message)
	return nil
}

// rruleValue encodes the recurrence rule as an RRULE property value.
// UNTIL is emitted in UTC as RFC 5545 requires for TZID-anchored starts.
func rruleValue(tv model.TemporalValue) (string, error) {
	r, err := RuleToRRule(tv)
	if err != nil {
		return "", err
	}
	s := r.String()
	// The rrule engine renders "DTSTART:...\nRRULE:FREQ=..."; only the
	// rule value belongs in the property.
	if i := strings.Index(s, "RRULE:"); i >= 0 {
		s = s[i+len("RRULE:"):]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty RRULE for rule %+v", tv.Rule)
	}
	return s, nil
}

// alarmFor maps an event kind to its reminder trigger and message.
func alarmFor(kind model.EventKind) (trigger, message string) {
	switch kind {
	case model.KindExam:
		return "-P1D", "Exam tomorrow!"
	case model.KindAssignment:
		return "-P2D", "Assignment due in 2 days"
	case model.KindLecture:
		return "-PT30M", "Class starts in 30 minutes"
	case model.KindProject:
		return "-P3D", "Project deadline in 3 days"
	default:
		return "-PT1H", "Event starting soon"
	}
}
