package temporal

import (
	"strings"
	"time"

	"coursecal/internal/config"
	"coursecal/internal/log"
	"coursecal/internal/model"
)

// Result is the outcome of interpreting a free-text time fragment. A
// failed interpretation still yields a value (a flagged placeholder) so
// that no candidate is ever silently dropped.
type Result struct {
	Value      model.TemporalValue
	Confidence float64
}

// Interpreter converts free-text date/time/recurrence fragments into
// structured temporal values.
//
// The interpretation is a deterministic, fully-enumerated handler chain:
// the recurrence handler runs first, then the absolute-date handler, then
// the placeholder fallback. Each handler either claims the text or passes.
type Interpreter struct {
	loc       *time.Location
	reference time.Time
	dayStart  int
	dayEnd    int
	duration  func(model.EventKind) time.Duration
}

// New builds an Interpreter from configuration. reference anchors
// year-less dates: "Jan 6" resolves to the first January 6 on or after it.
func New(cfg *config.Config, reference time.Time) (*Interpreter, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Interpreter{
		loc:       loc,
		reference: reference.In(loc),
		dayStart:  cfg.AcademicDayStart,
		dayEnd:    cfg.AcademicDayEnd,
		duration:  cfg.DurationFor,
	}, nil
}

type handler struct {
	name string
	fn   func(in *Interpreter, text string, kind model.EventKind) (Result, bool)
}

// Handler order is the precedence contract: recurrence wording wins over a
// bare date mention, and the placeholder only fires when both pass.
var handlers = []handler{
	{"recurrence", (*Interpreter).parseRecurrence},
	{"absolute", (*Interpreter).parseAbsolute},
}

// Interpret resolves whenText for an event of the given kind.
func (in *Interpreter) Interpret(whenText string, kind model.EventKind) Result {
	text := normalizeText(whenText)
	if text != "" {
		for _, h := range handlers {
			if res, ok := h.fn(in, text, kind); ok {
				log.Debug("temporal: resolved", "handler", h.name, "text", text, "confidence", res.Confidence)
				return res
			}
		}
	}

	log.Debug("temporal: unresolved, using placeholder", "text", text)
	return in.placeholder(kind)
}

// placeholder produces the synthetic value used when no handler resolves
// the text: the next day at the start of academic hours, flagged so the
// review step surfaces it.
func (in *Interpreter) placeholder(kind model.EventKind) Result {
	day := in.refDate().AddDate(0, 0, 1)
	start := time.Date(day.Year(), day.Month(), day.Day(), in.dayStart, 0, 0, 0, in.loc)
	return Result{
		Value: model.TemporalValue{
			Start:       start,
			End:         start.Add(in.duration(kind)),
			Placeholder: true,
		},
		Confidence: 0,
	}
}

// parseRecurrence handles "every Tue/Thu 2:00-3:20pm, starts Jan 6, 13
// weeks" style fragments and their daily/monthly cousins.
func (in *Interpreter) parseRecurrence(text string, kind model.EventKind) (Result, bool) {
	hasEvery := strings.Contains(text, "every ") || strings.Contains(text, "each ")
	hasFreqWord := strings.Contains(text, "daily") || strings.Contains(text, "weekly") ||
		strings.Contains(text, "biweekly") || strings.Contains(text, "monthly")
	if !hasEvery && !hasFreqWord && !mentionsPluralWeekday(text) {
		return Result{}, false
	}

	conf := 1.0

	freq := model.FreqWeekly
	interval := 1
	switch {
	case strings.Contains(text, "biweekly") || strings.Contains(text, "every other week"):
		interval = 2
	case strings.Contains(text, "daily") || strings.Contains(text, "every day") || strings.Contains(text, "each day"):
		freq = model.FreqDaily
	case strings.Contains(text, "monthly") || strings.Contains(text, "every month"):
		freq = model.FreqMonthly
	}
	if m := reEveryN.FindStringSubmatch(text); m != nil {
		interval = atoi(m[1])
		switch m[2] {
		case "day":
			freq = model.FreqDaily
		case "week":
			freq = model.FreqWeekly
		case "month":
			freq = model.FreqMonthly
		}
	}
	if interval < 1 {
		interval = 1
	}

	days := parseWeekdays(text)
	if len(days) > 0 && freq == model.FreqWeekly {
		// Weekday list present: weekly is the only sensible reading.
	} else if len(days) > 0 && freq == model.FreqDaily {
		// "every day" plus a weekday list is contradictory; trust the list.
		freq = model.FreqWeekly
		conf *= 0.8
	}

	// Split off the until-clause before hunting for the anchor date so the
	// terminator date is never mistaken for the start date.
	anchorText := text
	untilTail := ""
	if loc := reUntil.FindStringIndex(text); loc != nil {
		anchorText = text[:loc[0]]
		untilTail = text[loc[1]:]
	}

	// ISO dates would otherwise be misread as clock ranges ("01-20").
	timeText := reISODate.ReplaceAllString(anchorText, " ")
	startMin, endMin, tconf, hasTime := in.timeOfDay(timeText, kind)
	if hasTime {
		conf *= tconf
	} else {
		startMin = in.dayStart * 60
		endMin = startMin + int(in.duration(kind).Minutes())
		conf *= 0.7
	}

	anchor, ok := in.findAnchor(anchorText)
	if !ok {
		anchor = in.refDate().AddDate(0, 0, 1)
		conf *= 0.6
	}

	if freq == model.FreqWeekly && len(days) == 0 {
		// No explicit weekday set; fall back to the anchor's weekday.
		days = []time.Weekday{anchor.Weekday()}
		conf *= 0.7
	}
	if freq != model.FreqWeekly {
		days = nil
	}

	first := anchor
	if freq == model.FreqWeekly {
		first = firstOnDays(anchor, days)
	}
	start := time.Date(first.Year(), first.Month(), first.Day(), startMin/60, startMin%60, 0, 0, in.loc)
	end := start.Add(time.Duration(endMin-startMin) * time.Minute)

	rule := &model.RecurrenceRule{Frequency: freq, Interval: interval, Days: days}
	in.applyTerminator(rule, text, untilTail, anchor, &conf)

	value := model.TemporalValue{Start: start, End: end, Rule: rule}
	if err := value.Validate(); err != nil {
		log.Warn("temporal: recurrence candidate failed validation", "text", text, "reason", err.Error())
		return Result{}, false
	}
	return Result{Value: value, Confidence: clamp(conf)}, true
}

// applyTerminator resolves at most one terminator, preferring an explicit
// until-date over a stated span in weeks over a stated session count.
// Absence of all three leaves the rule open-ended, which is itself a
// meaningful outcome (a standing office hour).
func (in *Interpreter) applyTerminator(rule *model.RecurrenceRule, text, untilTail string, anchor time.Time, conf *float64) {
	if untilTail != "" {
		if cd, ok := findDate(untilTail); ok {
			u := in.anchorDate(cd)
			// Inclusive bound: the stated day still hosts an occurrence.
			u = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, in.loc)
			rule.Until = &u
			if !cd.hasYear {
				*conf *= 0.95
			}
			return
		}
		*conf *= 0.8
	}

	if loc := reWeeksFor.FindStringSubmatchIndex(text); loc != nil {
		// "every 2 weeks" is an interval, not a terminator.
		prefix := text[:loc[0]]
		if !strings.HasSuffix(strings.TrimSpace(prefix), "every") {
			n := atoi(text[loc[2]:loc[3]])
			if n > 0 {
				switch rule.Frequency {
				case model.FreqWeekly:
					rule.Count = maxInt(1, n/rule.Interval) * len(rule.Days)
				case model.FreqDaily:
					rule.Count = maxInt(1, n*7/rule.Interval)
				case model.FreqMonthly:
					u := anchor.AddDate(0, 0, n*7)
					u = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, in.loc)
					rule.Until = &u
				}
				return
			}
		}
	}

	if m := reSessions.FindStringSubmatch(text); m != nil {
		if n := atoi(m[1]); n > 0 {
			rule.Count = n
		}
	}
}

// parseAbsolute handles single-occurrence fragments: a date plus an
// optional time or time range.
func (in *Interpreter) parseAbsolute(text string, kind model.EventKind) (Result, bool) {
	cd, ok := findDate(text)
	if !ok {
		return Result{}, false
	}

	conf := 1.0
	if !cd.hasYear {
		conf *= 0.95
	}
	if cd.approx {
		conf *= 0.9
	}
	day := in.anchorDate(cd)

	// ISO dates would otherwise be misread as clock ranges ("01-20").
	timeText := reISODate.ReplaceAllString(text, " ")

	var start, end time.Time
	if startMin, endMin, tconf, hasTime := in.timeOfDay(timeText, kind); hasTime {
		conf *= tconf
		start = time.Date(day.Year(), day.Month(), day.Day(), startMin/60, startMin%60, 0, 0, in.loc)
		end = start.Add(time.Duration(endMin-startMin) * time.Minute)
	} else if kind == model.KindAssignment || kind == model.KindProject {
		// Date-only deadline: due by end of day.
		start = time.Date(day.Year(), day.Month(), day.Day(), 23, 45, 0, 0, in.loc)
		end = time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 0, 0, in.loc)
		conf *= 0.8
	} else {
		start = time.Date(day.Year(), day.Month(), day.Day(), in.dayStart, 0, 0, 0, in.loc)
		end = start.Add(in.duration(kind))
		conf *= 0.7
	}

	value := model.TemporalValue{Start: start, End: end}
	if err := value.Validate(); err != nil {
		return Result{}, false
	}
	return Result{Value: value, Confidence: clamp(conf)}, true
}

// timeOfDay extracts a start/end pair in minutes after midnight, resolving
// missing meridiems with the academic-hours preference. The returned
// factor reflects how much was inferred.
func (in *Interpreter) timeOfDay(text string, kind model.EventKind) (startMin, endMin int, factor float64, ok bool) {
	if s, e, found := findTimeRange(text); found {
		return in.resolveRange(s, e)
	}
	if c, found := findClock(text); found {
		m, f := in.resolveClock(c)
		dur := int(in.duration(kind).Minutes())
		return m, m + dur, f * 0.9, true
	}
	return 0, 0, 0, false
}

// resolveClock maps a clock mention to minutes after midnight. A bare
// hour with no meridiem picks the reading inside academic hours and
// lowers confidence instead of failing.
func (in *Interpreter) resolveClock(c clockMention) (minutes int, factor float64) {
	h := c.hour
	switch c.meridiem {
	case "am":
		if h == 12 {
			h = 0
		}
		return h*60 + c.minute, 1.0
	case "pm":
		if h != 12 {
			h += 12
		}
		return h*60 + c.minute, 1.0
	}
	// 24-hour readings above 12 are unambiguous.
	if h > 12 {
		return h*60 + c.minute, 1.0
	}
	// Prefer the interpretation falling inside academic hours.
	if h < in.dayStart && h+12 <= in.dayEnd {
		return (h+12)*60 + c.minute, 0.8
	}
	return h*60 + c.minute, 0.8
}

// resolveRange resolves a start/end clock pair, propagating a single
// stated meridiem across the range ("2:00-3:20pm") and repairing
// inverted readings.
func (in *Interpreter) resolveRange(s, e clockMention) (startMin, endMin int, factor float64, ok bool) {
	factor = 1.0

	switch {
	case s.meridiem == "" && e.meridiem != "":
		s.meridiem = e.meridiem
		factor = 0.95
	case s.meridiem != "" && e.meridiem == "":
		e.meridiem = s.meridiem
		factor = 0.95
	case s.meridiem == "" && e.meridiem == "":
		// Both ambiguous; resolveClock applies the academic-hours penalty.
	}

	sm, sf := in.resolveClock(s)
	em, ef := in.resolveClock(e)
	factor *= minFloat(sf, ef)

	// "11:00-1:20pm" crosses noon: the propagated meridiem over-shot the
	// start, so pull it back twelve hours.
	if sm >= em && sm >= 12*60 {
		sm -= 12 * 60
	}
	// "10:00-2:00" with no meridiem: push the end past noon.
	if sm >= em && em+12*60 < 24*60 {
		em += 12 * 60
	}
	if sm >= em {
		return 0, 0, 0, false
	}
	return sm, em, factor, true
}

// findAnchor finds the schedule's first-occurrence date, preferring an
// explicit "starts ..." clause over the first date mentioned.
func (in *Interpreter) findAnchor(text string) (time.Time, bool) {
	search := text
	if loc := reStarts.FindStringIndex(text); loc != nil {
		search = text[loc[1]:]
	}
	cd, ok := findDate(search)
	if !ok && search != text {
		cd, ok = findDate(text)
	}
	if !ok {
		return time.Time{}, false
	}
	return in.anchorDate(cd), true
}

// anchorDate turns a civil date into a concrete local date, resolving a
// missing year to the first occurrence on or after the reference date.
func (in *Interpreter) anchorDate(cd civilDate) time.Time {
	if cd.hasYear {
		if cd.year < 100 {
			cd.year += 2000
		}
		return time.Date(cd.year, cd.month, cd.day, 0, 0, 0, 0, in.loc)
	}
	ref := in.refDate()
	d := time.Date(ref.Year(), cd.month, cd.day, 0, 0, 0, 0, in.loc)
	if d.Before(ref) {
		d = d.AddDate(1, 0, 0)
	}
	return d
}

// refDate is the reference instant truncated to a local calendar day.
func (in *Interpreter) refDate() time.Time {
	return time.Date(in.reference.Year(), in.reference.Month(), in.reference.Day(), 0, 0, 0, 0, in.loc)
}

// firstOnDays advances anchor to the first day whose weekday is in days.
func firstOnDays(anchor time.Time, days []time.Weekday) time.Time {
	for i := 0; i < 7; i++ {
		d := anchor.AddDate(0, 0, i)
		for _, wd := range days {
			if d.Weekday() == wd {
				return d
			}
		}
	}
	return anchor
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
