package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ParsedComponent is the normalized readback of one VEVENT from a
// generated payload. It exists for round-trip verification: a correct
// export must reproduce every event's times, day-of-week set and
// termination condition when parsed again.
type ParsedComponent struct {
	UID         string
	Summary     string
	Location    string
	Description string
	Categories  string

	Start   time.Time
	End     time.Time
	DtStamp time.Time

	// RawRRule is the RRULE value string, empty for single occurrences.
	RawRRule string
}

// Parse reads a calendar payload back into components. Per-event parse
// problems fail the whole call; a payload we generated has no excuse for
// a malformed VEVENT.
func Parse(body []byte) ([]ParsedComponent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty calendar body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]ParsedComponent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		pc, err := parseVEvent(ve)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedComponent, error) {
	var out ParsedComponent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		out.Categories = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	var err error
	if out.Start, err = propTime(ve, ical.ComponentPropertyDtStart); err != nil {
		return out, err
	}
	if out.End, err = propTime(ve, ical.ComponentPropertyDtEnd); err != nil {
		return out, err
	}
	if out.DtStamp, err = propTime(ve, ical.ComponentPropertyDtstamp); err != nil {
		return out, err
	}
	return out, nil
}

// propTime reads a date-time property, honoring a TZID parameter or a
// trailing Z. Naive values without either are treated as a defect in the
// payload, which is exactly what the round-trip check exists to catch.
func propTime(ve *ical.VEvent, name ical.ComponentProperty) (time.Time, error) {
	p := ve.GetProperty(name)
	if p == nil {
		return time.Time{}, errors.New("missing property " + string(name))
	}
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, errors.New("empty property " + string(name))
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	if p.ICalParameters != nil {
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			loc, err := time.LoadLocation(tzs[0])
			if err != nil {
				return time.Time{}, err
			}
			return time.ParseInLocation("20060102T150405", v, loc)
		}
	}

	return time.Time{}, errors.New("property " + string(name) + " has neither TZID nor UTC marker")
}
