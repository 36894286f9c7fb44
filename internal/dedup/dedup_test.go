package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecal/internal/config"
	"coursecal/internal/model"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	return NewMatcher(config.DefaultConfig())
}

func singleEvent(id, title string, start time.Time, dur time.Duration) *model.Event {
	return &model.Event{
		ID:    id,
		Title: title,
		Kind:  model.KindExam,
		Time: model.TemporalValue{
			Start: start,
			End:   start.Add(dur),
		},
		Confidence: 0.8,
		CreatedAt:  time.Date(2025, 12, 20, 10, 0, 0, 0, time.UTC),
	}
}

func weeklyEvent(id, title string, start time.Time, days []time.Weekday, count int) *model.Event {
	return &model.Event{
		ID:    id,
		Title: title,
		Kind:  model.KindLecture,
		Time: model.TemporalValue{
			Start: start,
			End:   start.Add(80 * time.Minute),
			Rule: &model.RecurrenceRule{
				Frequency: model.FreqWeekly,
				Interval:  1,
				Days:      days,
				Count:     count,
			},
		},
		Confidence: 0.8,
		CreatedAt:  time.Date(2025, 12, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestMatch_TableVersusProse(t *testing.T) {
	m := newTestMatcher(t)
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	// The same midterm quoted in a schedule table and in prose, three
	// minutes apart with a longer title in one place.
	a := singleEvent("evt-aaaa1111", "Midterm", time.Date(2026, 10, 14, 10, 0, 0, 0, loc), 2*time.Hour)
	b := singleEvent("evt-bbbb2222", "Midterm Exam", time.Date(2026, 10, 14, 10, 3, 0, 0, loc), 2*time.Hour)
	b.Location = "Southam Hall"
	b.Confidence = 0.9

	assert.True(t, m.Match(a, b))
	assert.True(t, m.Match(b, a), "matching is symmetric")

	merged := m.Merge(a, b)
	assert.Equal(t, "Midterm Exam", merged.Title, "higher-confidence mention is the base")
	assert.Equal(t, "Southam Hall", merged.Location)
	assert.Equal(t, 0.9, merged.Confidence)
}

func TestMatch_OutsideToleranceIsDistinct(t *testing.T) {
	m := newTestMatcher(t)

	a := singleEvent("evt-a", "Quiz 1", time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC), time.Hour)
	b := singleEvent("evt-b", "Quiz 1", time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC), time.Hour)

	assert.False(t, m.Match(a, b), "30 minutes apart exceeds the default tolerance")
}

func TestMatch_UnrelatedTitlesAtSameTime(t *testing.T) {
	m := newTestMatcher(t)

	a := singleEvent("evt-a", "Midterm Exam", time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC), time.Hour)
	b := singleEvent("evt-b", "Guest Speaker", time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC), time.Hour)

	assert.False(t, m.Match(a, b))
}

func TestMatch_RecurringNeverMatchesSingle(t *testing.T) {
	m := newTestMatcher(t)
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	series := weeklyEvent("evt-a", "COMP 2404 Lecture", start, []time.Weekday{time.Tuesday, time.Thursday}, 26)
	oneOff := singleEvent("evt-b", "COMP 2404 Lecture", start, 80*time.Minute)

	assert.False(t, m.Match(series, oneOff))
	assert.False(t, m.Match(oneOff, series))
}

func TestMatch_SameSeriesDifferentTerminators(t *testing.T) {
	m := newTestMatcher(t)
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)
	days := []time.Weekday{time.Tuesday, time.Thursday}

	bounded := weeklyEvent("evt-a", "COMP 2404 Lecture", start, days, 26)
	open := weeklyEvent("evt-b", "comp 2404 lecture", start, days, 0)

	assert.True(t, m.Match(bounded, open), "terminators do not change the series shape")

	merged := m.Merge(open, bounded)
	require.True(t, merged.Time.Rule.Bounded(), "bounded schedule wins over the open-ended one")
	assert.Equal(t, 26, merged.Time.Rule.Count)
}

func TestMatch_DifferentDaySetsAreDistinct(t *testing.T) {
	m := newTestMatcher(t)
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	a := weeklyEvent("evt-a", "Lecture", start, []time.Weekday{time.Tuesday, time.Thursday}, 26)
	b := weeklyEvent("evt-b", "Lecture", start, []time.Weekday{time.Monday, time.Wednesday}, 26)

	// Coinciding first occurrence and identical title must not collapse
	// two schedules running on different days.
	assert.False(t, m.Match(a, b))
	assert.False(t, m.Match(b, a))
}

func TestMerge_FieldUnionIsOrderIndependent(t *testing.T) {
	m := newTestMatcher(t)
	start := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	a := singleEvent("evt-a", "Midterm", start, 2*time.Hour)
	a.Description = "Covers weeks 1 through 6"
	b := singleEvent("evt-b", "Midterm Exam", start.Add(2*time.Minute), 2*time.Hour)
	b.Location = "Southam Hall"
	b.Confidence = 0.9
	b.Confirmed = true

	ab := m.Merge(a, b)
	ba := m.Merge(b, a)

	assert.Equal(t, ab.Title, ba.Title)
	assert.Equal(t, ab.Location, ba.Location)
	assert.Equal(t, ab.Description, ba.Description)
	assert.Equal(t, ab.Confidence, ba.Confidence)
	assert.Equal(t, ab.Confirmed, ba.Confirmed)
	assert.True(t, ab.Confirmed, "confirmation survives the merge")
	assert.Equal(t, "Covers weeks 1 through 6", ab.Description, "empty fields filled from the other mention")
}

func TestMerge_EqualConfidenceTieBreak(t *testing.T) {
	m := newTestMatcher(t)
	start := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	a := singleEvent("evt-zzzz", "Midterm", start, 2*time.Hour)
	b := singleEvent("evt-aaaa", "Midterm", start, 2*time.Hour)

	ab := m.Merge(a, b)
	ba := m.Merge(b, a)
	assert.Equal(t, ab.ID, ba.ID, "tie-break is intrinsic, not argument order")
}

func TestNearDuplicateTitles(t *testing.T) {
	m := newTestMatcher(t)

	tests := []struct {
		a, b string
		want bool
	}{
		{"Midterm Exam", "midterm exam", true},
		{"Midterm Exam!", "Midterm  Exam", true},
		{"Midterm", "Midterm Exam", true},
		{"Assignment 1", "Assignment 2", true}, // one edit apart
		{"Lecture", "Midterm", false},
		{"Quiz", "Final", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, m.nearDuplicateTitles(tt.a, tt.b))
			assert.Equal(t, tt.want, m.nearDuplicateTitles(tt.b, tt.a))
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "comp2404 lecture", NormalizeTitle("  COMP-2404: Lecture!  "))
	assert.Equal(t, "midterm exam", NormalizeTitle("Midterm\tExam"))
}
