package normalize

import (
	"errors"
	"strings"
	"time"

	"coursecal/internal/config"
	"coursecal/internal/log"
	"coursecal/internal/model"
	"coursecal/internal/temporal"
)

// ErrEmptyTitle is the single condition under which a candidate is
// rejected instead of degraded: there is nothing to show the user.
var ErrEmptyTitle = errors.New("candidate has empty title")

// Normalizer builds canonical events out of raw candidates. It cannot
// fail for any candidate with a non-empty title; the worst case is a
// maximally degraded event (placeholder time, empty location, flagged).
type Normalizer struct {
	cfg    *config.Config
	interp *temporal.Interpreter

	// Now is the event-creation clock; swapped out in tests.
	Now func() time.Time
}

// New builds a Normalizer around an interpreter.
func New(cfg *config.Config, interp *temporal.Interpreter) *Normalizer {
	return &Normalizer{cfg: cfg, interp: interp, Now: time.Now}
}

// Normalize combines a raw candidate with its interpreted temporal value
// into a new Event, allocating its identity and origination timestamp.
func (n *Normalizer) Normalize(cand model.RawCandidate) (*model.Event, error) {
	title := collapseSpace(cand.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	kind := Classify(title + " " + cand.DescriptionText)
	res := n.interp.Interpret(cand.WhenText, kind)

	location := collapseSpace(cand.LocationText)
	locConf := 1.0
	if location == "" {
		locConf = 0.5
	}

	ev := &model.Event{
		ID:             model.NewEventID(),
		Title:          title,
		Kind:           kind,
		Time:           res.Value,
		Location:       location,
		Description:    collapseSpace(cand.DescriptionText),
		Confidence:     minConfidence(clamp01(cand.Confidence), res.Confidence, locConf),
		SourceDocument: cand.SourceDocument,
		CreatedAt:      n.Now().UTC().Truncate(time.Second),
	}
	Recompute(ev, n.cfg.ReviewThreshold)

	log.Debug("normalize: event created",
		"id", ev.ID,
		"title", ev.Title,
		"kind", string(ev.Kind),
		"confidence", ev.Confidence,
		"needs_review", ev.NeedsReview,
	)
	return ev, nil
}

// Recompute re-derives the needsReview flag. Low confidence can be waived
// by explicit user confirmation; missing location and unresolved time
// cannot, since no amount of confirmation makes the event exportable as
// the user intends.
func Recompute(ev *model.Event, threshold float64) {
	lowConfidence := ev.Confidence < threshold && !ev.Confirmed
	ev.NeedsReview = lowConfidence || ev.Location == "" || ev.Time.Placeholder
}

// kindKeywords maps lightweight title cues to event kinds; first match in
// this order wins. Exam cues come before lecture cues so "midterm lecture
// review" leans toward the stricter reminder policy.
var kindKeywords = []struct {
	kind  model.EventKind
	words []string
}{
	{model.KindExam, []string{"exam", "midterm", "final", "quiz", "test"}},
	{model.KindAssignment, []string{"assignment", "homework", "problem set", "due", "submission", "deliverable"}},
	{model.KindProject, []string{"project", "milestone", "demo day", "presentation"}},
	{model.KindOfficeHours, []string{"office hour", "office hours", "consultation", "drop-in"}},
	{model.KindLecture, []string{"lecture", "class", "seminar", "lab", "tutorial", "session"}},
}

// Classify derives the event kind from title/description keywords. The
// result only selects duration and reminder heuristics.
func Classify(text string) model.EventKind {
	lower := strings.ToLower(text)
	for _, kk := range kindKeywords {
		for _, w := range kk.words {
			if strings.Contains(lower, w) {
				return kk.kind
			}
		}
	}
	return model.KindOther
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func minConfidence(vals ...float64) float64 {
	min := 1.0
	for _, v := range vals {
		if v < min {
			min = v
		}
	}
	return min
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
