package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecal/internal/config"
	"coursecal/internal/dedup"
	"coursecal/internal/model"
)

func newTestSession() *Session {
	return newSession("test-session", 0.6)
}

func testEvent(id, title string, start time.Time) *model.Event {
	return &model.Event{
		ID:       id,
		Title:    title,
		Kind:     model.KindLecture,
		Location: "Room 101",
		Time: model.TemporalValue{
			Start: start,
			End:   start.Add(time.Hour),
		},
		Confidence:     0.9,
		SourceDocument: "outline.pdf",
		CreatedAt:      time.Date(2025, 12, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestInsert_RejectsInvalidEvent(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	var verr *ValidationError

	err := s.Insert(&model.Event{ID: "evt-x", Time: model.TemporalValue{Start: start, End: start.Add(time.Hour)}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	bad := testEvent("evt-y", "Lecture", start)
	bad.Time.End = bad.Time.Start.Add(-time.Hour)
	err = s.Insert(bad)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "time", verr.Field)

	assert.Empty(t, s.List(), "rejected inserts leave no trace")
}

func TestInsert_DuplicateIDRejected(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(testEvent("evt-a", "Lecture 1", start)))
	err := s.Insert(testEvent("evt-a", "Lecture 2", start.Add(24*time.Hour)))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)
}

func TestCommit_MergesDuplicateKeepingResidentIdentity(t *testing.T) {
	s := newTestSession()
	m := dedup.NewMatcher(config.DefaultConfig())
	start := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	first := testEvent("evt-first", "Midterm", start)
	first.Kind = model.KindExam
	first.CreatedAt = time.Date(2025, 12, 20, 10, 0, 0, 0, time.UTC)

	mergedInto, err := s.Commit(first, m)
	require.NoError(t, err)
	assert.Empty(t, mergedInto)

	second := testEvent("evt-second", "Midterm Exam", start.Add(2*time.Minute))
	second.Kind = model.KindExam
	second.Confidence = 0.95
	second.CreatedAt = time.Date(2025, 12, 20, 11, 0, 0, 0, time.UTC)

	mergedInto, err = s.Commit(second, m)
	require.NoError(t, err)
	assert.Equal(t, "evt-first", mergedInto)

	got, ok := s.Get("evt-first")
	require.True(t, ok)
	assert.Equal(t, "Midterm Exam", got.Title, "higher-confidence mention supplies the fields")
	assert.Equal(t, first.CreatedAt, got.CreatedAt, "resident timestamp survives the merge")
	assert.Equal(t, 0.95, got.Confidence)

	_, ok = s.Get("evt-second")
	assert.False(t, ok)
	assert.Len(t, s.List(), 1)
}

func TestCommit_CrossDocumentMergeKeepsResidentDocument(t *testing.T) {
	s := newTestSession()
	m := dedup.NewMatcher(config.DefaultConfig())
	start := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	resident := testEvent("evt-resident", "Midterm", start)
	resident.Kind = model.KindExam
	resident.SourceDocument = "outline.pdf"
	_, err := s.Commit(resident, m)
	require.NoError(t, err)

	// The duplicate from another document wins the merge base on
	// confidence, but the stored event must stay grouped where it lives.
	incoming := testEvent("evt-incoming", "Midterm Exam", start.Add(2*time.Minute))
	incoming.Kind = model.KindExam
	incoming.Confidence = 0.95
	incoming.SourceDocument = "schedule.pdf"

	mergedInto, err := s.Commit(incoming, m)
	require.NoError(t, err)
	assert.Equal(t, "evt-resident", mergedInto)

	got, ok := s.Get("evt-resident")
	require.True(t, ok)
	assert.Equal(t, "Midterm Exam", got.Title)
	assert.Equal(t, "outline.pdf", got.SourceDocument)

	groups := s.ListByDocument()
	require.Len(t, groups, 1)
	require.Len(t, groups["outline.pdf"], 1)
	assert.Equal(t, "outline.pdf", groups["outline.pdf"][0].SourceDocument,
		"grouping and the event's own document field agree")

	st := s.Stats()
	assert.Equal(t, []string{"outline.pdf"}, st.Documents)
}

func TestCommit_DistinctEventsBothKept(t *testing.T) {
	s := newTestSession()
	m := dedup.NewMatcher(config.DefaultConfig())
	start := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	_, err := s.Commit(testEvent("evt-a", "Midterm", start), m)
	require.NoError(t, err)
	_, err = s.Commit(testEvent("evt-b", "Final Exam", start.Add(48*time.Hour)), m)
	require.NoError(t, err)

	assert.Len(t, s.List(), 2)
}

func TestCommit_ConcurrentDuplicatesCollapseToOne(t *testing.T) {
	s := newTestSession()
	m := dedup.NewMatcher(config.DefaultConfig())
	start := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := testEvent(fmt.Sprintf("evt-%04d", i), "Midterm Exam", start)
			ev.Kind = model.KindExam
			_, err := s.Commit(ev, m)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.List(), 1, "every concurrent duplicate lands on the same resident event")
}

func TestUpdate_InvalidPatchLeavesStateIntact(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(testEvent("evt-a", "Lecture", start)))

	bad := model.TemporalValue{Start: start, End: start.Add(-time.Hour)}
	_, err := s.Update("evt-a", Patch{Time: &bad})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	got, ok := s.Get("evt-a")
	require.True(t, ok)
	assert.Equal(t, start, got.Time.Start)
	assert.Equal(t, start.Add(time.Hour), got.Time.End)
}

func TestUpdate_TimePatchClearsPlaceholder(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	ev := testEvent("evt-a", "Final Exam", start)
	ev.Time.Placeholder = true
	ev.Confidence = 0
	require.NoError(t, s.Insert(ev))

	fixed := model.TemporalValue{
		Start: time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC),
	}
	conf := 1.0
	got, err := s.Update("evt-a", Patch{Time: &fixed, Confidence: &conf})
	require.NoError(t, err)

	assert.False(t, got.Time.Placeholder)
	assert.False(t, got.NeedsReview)
}

func TestUpdate_WhitespaceTitleRejected(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(testEvent("evt-a", "Lecture", start)))

	blank := " \t "
	_, err := s.Update("evt-a", Patch{Title: &blank})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	got, ok := s.Get("evt-a")
	require.True(t, ok)
	assert.Equal(t, "Lecture", got.Title)

	// A messy but non-empty title is canonicalized, not rejected.
	messy := "  Guest   Lecture "
	updated, err := s.Update("evt-a", Patch{Title: &messy})
	require.NoError(t, err)
	assert.Equal(t, "Guest Lecture", updated.Title)
}

func TestUpdate_UnknownID(t *testing.T) {
	s := newTestSession()
	title := "X"
	_, err := s.Update("evt-missing", Patch{Title: &title})

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "evt-missing", nf.ID)
}

func TestConfirm_WaivesLowConfidenceOnly(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	low := testEvent("evt-low", "Lecture", start)
	low.Confidence = 0.2
	low.NeedsReview = true
	require.NoError(t, s.Insert(low))

	incomplete := testEvent("evt-inc", "Seminar", start)
	incomplete.Location = ""
	incomplete.NeedsReview = true
	require.NoError(t, s.Insert(incomplete))

	got, err := s.Confirm("evt-low")
	require.NoError(t, err)
	assert.False(t, got.NeedsReview)

	got, err = s.Confirm("evt-inc")
	require.NoError(t, err)
	assert.True(t, got.NeedsReview, "confirmation cannot waive a missing location")
}

func TestDelete_IsIdempotent(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(testEvent("evt-a", "Lecture", start)))

	s.Delete("evt-a")
	s.Delete("evt-a")
	s.Delete("evt-never-existed")

	assert.Empty(t, s.List())
	st := s.Stats()
	assert.Zero(t, st.Total)
}

func TestList_PreservesInsertionOrderAndIsolation(t *testing.T) {
	s := newTestSession()
	base := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev := testEvent(fmt.Sprintf("evt-%d", i), fmt.Sprintf("Lecture %d", i), base.AddDate(0, 0, i))
		require.NoError(t, s.Insert(ev))
	}

	list := s.List()
	require.Len(t, list, 5)
	for i, ev := range list {
		assert.Equal(t, fmt.Sprintf("evt-%d", i), ev.ID)
	}

	// Mutating the returned copy must not leak into the ledger.
	list[0].Title = "tampered"
	got, _ := s.Get("evt-0")
	assert.Equal(t, "Lecture 0", got.Title)
}

func TestStats(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	a := testEvent("evt-a", "Lecture", start)
	b := testEvent("evt-b", "Midterm", start.AddDate(0, 0, 1))
	b.Kind = model.KindExam
	b.SourceDocument = "syllabus.pdf"
	c := testEvent("evt-c", "Office Hours", start.AddDate(0, 0, 2))
	c.Kind = model.KindOfficeHours
	c.Location = ""
	c.NeedsReview = true

	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))
	require.NoError(t, s.Insert(c))

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.NeedsReview)
	assert.Equal(t, map[model.EventKind]int{
		model.KindLecture:     1,
		model.KindExam:        1,
		model.KindOfficeHours: 1,
	}, st.ByKind)
	assert.Equal(t, []string{"outline.pdf", "syllabus.pdf"}, st.Documents)
}

func TestListByDocument(t *testing.T) {
	s := newTestSession()
	start := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)

	a := testEvent("evt-a", "Lecture", start)
	b := testEvent("evt-b", "Midterm", start.AddDate(0, 0, 1))
	b.SourceDocument = "syllabus.pdf"
	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))

	groups := s.ListByDocument()
	require.Len(t, groups, 2)
	require.Len(t, groups["outline.pdf"], 1)
	assert.Equal(t, "evt-a", groups["outline.pdf"][0].ID)
	require.Len(t, groups["syllabus.pdf"], 1)
	assert.Equal(t, "evt-b", groups["syllabus.pdf"][0].ID)
}

func TestStore(t *testing.T) {
	st := NewStore(0.6)

	s1 := st.GetOrCreate("session-1")
	s2 := st.GetOrCreate("session-2")
	assert.NotSame(t, s1, s2)
	assert.Same(t, s1, st.GetOrCreate("session-1"))

	got, ok := st.Get("session-1")
	assert.True(t, ok)
	assert.Same(t, s1, got)

	st.Delete("session-1")
	_, ok = st.Get("session-1")
	assert.False(t, ok)
}
