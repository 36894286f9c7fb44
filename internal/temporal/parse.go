package temporal

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Low-level fragment parsers shared by the interpretation handlers.
// Each works on text that normalizeText already lower-cased, dash-unified
// and whitespace-collapsed, so the patterns stay simple.

var (
	reTimeRange = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s*(?:-|to)\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	reClock     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b|\b(\d{1,2})\s*(am|pm)\b`)

	reISODate   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	reMonthDay  = regexp.MustCompile(`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	reDayMonth  = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?(?:,?\s+(\d{4}))?\b`)
	reSlashDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}))?\b`)

	reWeekday = regexp.MustCompile(`\b(sundays?|mondays?|tuesdays?|tues?|wednesdays?|weds?|thursdays?|thurs?|thu|fridays?|fri|saturdays?|sat|sun|mon|wed)\b`)

	reUntil    = regexp.MustCompile(`\b(?:until|through|thru|till|ending)\b`)
	reStarts   = regexp.MustCompile(`\b(?:start(?:s|ing)?|begin(?:s|ning)?|from)\b(?:\s+on\b)?`)
	reWeeksFor = regexp.MustCompile(`\b(?:for\s+)?(\d{1,2})\s+weeks?\b`)
	reSessions = regexp.MustCompile(`\b(\d{1,3})\s+(?:sessions?|classes|meetings?|occurrences)\b`)
	reEveryN   = regexp.MustCompile(`\bevery\s+(\d{1,2})(?:st|nd|rd|th)?\s+(day|week|month)s?\b`)
)

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var weekdaysByPrefix = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// normalizeText prepares free text for the fragment parsers: lower-case,
// unified dashes, collapsed whitespace.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	for _, dash := range []string{"–", "—", "−"} {
		s = strings.ReplaceAll(s, dash, "-")
	}
	return strings.Join(strings.Fields(s), " ")
}

// parseWeekdays extracts the set of weekdays mentioned in text, sorted and
// deduplicated so downstream comparisons are deterministic.
func parseWeekdays(text string) []time.Weekday {
	seen := map[time.Weekday]bool{}
	for _, m := range reWeekday.FindAllString(text, -1) {
		if len(m) < 3 {
			continue
		}
		if d, ok := weekdaysByPrefix[m[:3]]; ok {
			seen[d] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// mentionsPluralWeekday reports whether text names a weekday in plural form
// ("tuesdays"), which by itself implies a weekly schedule.
func mentionsPluralWeekday(text string) bool {
	for _, m := range reWeekday.FindAllString(text, -1) {
		if strings.HasSuffix(m, "s") && len(m) > 4 {
			return true
		}
	}
	return false
}

// civilDate is a year/month/day triple before timezone anchoring.
type civilDate struct {
	year     int
	month    time.Month
	day      int
	hasYear  bool
	approx   bool // slash dates are ambiguous (assumed month/day)
}

// findDate locates the first recognizable date in text. Month-name,
// ISO and slash forms are supported; the year may be absent.
func findDate(text string) (civilDate, bool) {
	if m := reISODate.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if validMonthDay(mo, d) {
			return civilDate{year: y, month: time.Month(mo), day: d, hasYear: true}, true
		}
	}
	if m := reMonthDay.FindStringSubmatch(text); m != nil {
		mo := monthsByPrefix[m[1]]
		d, _ := strconv.Atoi(m[2])
		if validMonthDay(int(mo), d) {
			cd := civilDate{month: mo, day: d}
			if m[3] != "" {
				cd.year, _ = strconv.Atoi(m[3])
				cd.hasYear = true
			}
			return cd, true
		}
	}
	if m := reDayMonth.FindStringSubmatch(text); m != nil {
		mo := monthsByPrefix[m[2]]
		d, _ := strconv.Atoi(m[1])
		if validMonthDay(int(mo), d) {
			cd := civilDate{month: mo, day: d}
			if m[3] != "" {
				cd.year, _ = strconv.Atoi(m[3])
				cd.hasYear = true
			}
			return cd, true
		}
	}
	if m := reSlashDate.FindStringSubmatch(text); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		if validMonthDay(mo, d) {
			cd := civilDate{month: time.Month(mo), day: d, approx: true}
			if m[3] != "" {
				cd.year, _ = strconv.Atoi(m[3])
				cd.hasYear = true
			}
			return cd, true
		}
	}
	return civilDate{}, false
}

func validMonthDay(m, d int) bool {
	return m >= 1 && m <= 12 && d >= 1 && d <= 31
}

// clockMention is a clock reading before meridiem resolution.
type clockMention struct {
	hour     int
	minute   int
	meridiem string // "", "am" or "pm"
}

func (c clockMention) valid() bool {
	if c.minute < 0 || c.minute > 59 {
		return false
	}
	if c.meridiem != "" {
		return c.hour >= 1 && c.hour <= 12
	}
	return c.hour >= 0 && c.hour <= 23
}

// findTimeRange locates "2:00-3:20pm" style ranges.
func findTimeRange(text string) (start, end clockMention, ok bool) {
	m := reTimeRange.FindStringSubmatch(text)
	if m == nil {
		return clockMention{}, clockMention{}, false
	}
	start = clockMention{hour: atoi(m[1]), minute: atoi(m[2]), meridiem: m[3]}
	end = clockMention{hour: atoi(m[4]), minute: atoi(m[5]), meridiem: m[6]}
	if !start.valid() || !end.valid() {
		return clockMention{}, clockMention{}, false
	}
	return start, end, true
}

// findClock locates a single "10:00am" / "10am" / "14:00" mention.
func findClock(text string) (clockMention, bool) {
	m := reClock.FindStringSubmatch(text)
	if m == nil {
		return clockMention{}, false
	}
	var c clockMention
	if m[1] != "" {
		c = clockMention{hour: atoi(m[1]), minute: atoi(m[2]), meridiem: m[3]}
	} else {
		c = clockMention{hour: atoi(m[4]), meridiem: m[5]}
	}
	if !c.valid() {
		return clockMention{}, false
	}
	return c, true
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
