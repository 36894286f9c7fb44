package dedup

import (
	"strings"
	"time"
	"unicode"

	"github.com/agext/levenshtein"

	"coursecal/internal/config"
	"coursecal/internal/model"
)

// Matcher decides whether two events denote the same real-world
// occurrence and merges them when they do. Both the decision and the
// merge are deterministic and commutative: evaluating (a, b) and (b, a)
// yields the same outcome and the same merged fields.
type Matcher struct {
	// StartTolerance is the window within which two single-occurrence
	// start times count as the same time.
	StartTolerance time.Duration

	// TitleDistanceRatio caps the edit distance between normalized titles
	// as a fraction of the longer title, with a floor of two edits.
	TitleDistanceRatio float64
}

// NewMatcher builds a Matcher from configuration.
func NewMatcher(cfg *config.Config) *Matcher {
	return &Matcher{
		StartTolerance:     cfg.StartTolerance(),
		TitleDistanceRatio: cfg.Dedup.TitleDistanceRatio,
	}
}

// Match applies the ordered match rule:
//  1. starts within tolerance and near-duplicate titles;
//  2. same recurrence shape, same normalized title and overlapping
//     schedule windows (the same lecture quoted in two places).
//
// First rule that fires wins; recurring and single events never match
// under rule 1 unless their first occurrences align.
func (m *Matcher) Match(a, b *model.Event) bool {
	if a.Time.Recurring() != b.Time.Recurring() {
		// A recurring mention and a one-off mention of the same title are
		// kept apart; a lecture series does not swallow its own exam.
		return false
	}

	if absDuration(a.Time.Start.Sub(b.Time.Start)) <= m.StartTolerance &&
		m.nearDuplicateTitles(a.Title, b.Title) {
		// Two series with coinciding first occurrences can still run on
		// different day sets; only a matching shape makes them one event.
		if !a.Time.Recurring() || a.Time.Rule.SameShape(b.Time.Rule) {
			return true
		}
	}

	if a.Time.Recurring() && b.Time.Recurring() {
		return a.Time.Rule.SameShape(b.Time.Rule) &&
			NormalizeTitle(a.Title) == NormalizeTitle(b.Title) &&
			m.windowsOverlap(a.Time, b.Time)
	}
	return false
}

// Merge combines two duplicate events. The higher-confidence event is the
// base; empty fields are filled from the other mention, and corroboration
// raises the merged confidence to the maximum of the two. The caller owns
// identity: the merged event keeps the base's ID and CreatedAt, and the
// review flag must be recomputed afterwards.
func (m *Matcher) Merge(a, b *model.Event) *model.Event {
	base, other := a, b
	if preferSecond(a, b) {
		base, other = b, a
	}

	out := base.Clone()
	if out.Location == "" {
		out.Location = other.Location
	}
	if out.Description == "" {
		out.Description = other.Description
	}
	if other.Confidence > out.Confidence {
		out.Confidence = other.Confidence
	}
	out.Confirmed = a.Confirmed || b.Confirmed
	// A bounded schedule beats an open-ended one for the same series.
	if out.Time.Recurring() && other.Time.Recurring() &&
		!out.Time.Rule.Bounded() && other.Time.Rule.Bounded() {
		out.Time.Rule = other.Time.Rule.Clone()
	}
	return out
}

// preferSecond reports whether b should be the merge base. The tie-break
// chain is intrinsic to the events so the choice is symmetric in the
// argument order: confidence, then location presence, then description
// length, then the smaller ID.
func preferSecond(a, b *model.Event) bool {
	if a.Confidence != b.Confidence {
		return b.Confidence > a.Confidence
	}
	if (a.Location != "") != (b.Location != "") {
		return b.Location != ""
	}
	if len(a.Description) != len(b.Description) {
		return len(b.Description) > len(a.Description)
	}
	return b.ID < a.ID
}

// nearDuplicateTitles compares titles case- and punctuation-insensitively
// with a length-relative edit-distance budget.
func (m *Matcher) nearDuplicateTitles(a, b string) bool {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == nb {
		return true
	}
	// One title extending the other by whole words ("Midterm" vs
	// "Midterm Exam") is the schedule-table-vs-prose case.
	if len(na) >= 4 && len(nb) >= 4 {
		if strings.Contains(" "+na+" ", " "+nb+" ") || strings.Contains(" "+nb+" ", " "+na+" ") {
			return true
		}
	}
	longer := len(na)
	if len(nb) > longer {
		longer = len(nb)
	}
	budget := int(float64(longer) * m.TitleDistanceRatio)
	if budget < 2 {
		budget = 2
	}
	return levenshtein.Distance(na, nb, nil) <= budget
}

// NormalizeTitle lower-cases, strips punctuation and collapses whitespace
// so cosmetic differences never defeat the duplicate check.
func NormalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// windowsOverlap checks that two recurring values plausibly describe the
// same standing slot: same time of day within tolerance and overlapping
// date ranges.
func (m *Matcher) windowsOverlap(a, b model.TemporalValue) bool {
	if absDuration(timeOfDay(a.Start)-timeOfDay(b.Start)) > m.StartTolerance {
		return false
	}
	aEnd := scheduleEnd(a)
	bEnd := scheduleEnd(b)
	return !aEnd.Before(b.Start) && !bEnd.Before(a.Start)
}

// scheduleEnd approximates the last day a recurring value covers. Count
// terminators are converted through the rule's cadence; open-ended rules
// extend indefinitely.
func scheduleEnd(tv model.TemporalValue) time.Time {
	r := tv.Rule
	if r.Until != nil {
		return *r.Until
	}
	if r.Count > 0 {
		var days int
		switch r.Frequency {
		case model.FreqDaily:
			days = r.Count * r.Interval
		case model.FreqWeekly:
			perWeek := len(r.Days)
			if perWeek == 0 {
				perWeek = 1
			}
			weeks := (r.Count + perWeek - 1) / perWeek
			days = weeks * 7 * r.Interval
		case model.FreqMonthly:
			days = r.Count * 31 * r.Interval
		}
		return tv.Start.AddDate(0, 0, days)
	}
	return tv.Start.AddDate(10, 0, 0)
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
