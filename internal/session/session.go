package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"coursecal/internal/dedup"
	"coursecal/internal/log"
	"coursecal/internal/model"
	"coursecal/internal/normalize"
)

// ValidationError reports a rejected ledger mutation. Only the offending
// operation fails; the session's prior state is untouched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an operation against an unknown event id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %s not found", e.ID)
}

// Session is the ledger for one upload session: the only mutable shared
// state in the engine. Events are kept in insertion order with a
// per-document index for display grouping and dedup scoping. All
// mutations for a session serialize on its lock; different sessions never
// block each other.
type Session struct {
	id        string
	threshold float64

	mu     sync.RWMutex
	order  []string
	events map[string]*model.Event
	byDoc  map[string][]string
}

func newSession(id string, threshold float64) *Session {
	return &Session{
		id:        id,
		threshold: threshold,
		events:    map[string]*model.Event{},
		byDoc:     map[string][]string{},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Insert adds a new event without duplicate checking. It fails with a
// ValidationError when invariants do not hold.
func (s *Session) Insert(ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ev)
}

func (s *Session) insertLocked(ev *model.Event) error {
	if err := validate(ev); err != nil {
		return err
	}
	if _, exists := s.events[ev.ID]; exists {
		return &ValidationError{Field: "id", Reason: "already present in session"}
	}
	s.events[ev.ID] = ev.Clone()
	s.order = append(s.order, ev.ID)
	s.byDoc[ev.SourceDocument] = append(s.byDoc[ev.SourceDocument], ev.ID)
	return nil
}

// Commit inserts ev unless the matcher identifies it as a duplicate of an
// existing event, in which case the two are merged in place. The whole
// check-then-mutate runs under the session lock, so concurrent pipelines
// always dedup against a consistent snapshot. The event's own document is
// scanned first, then the rest of the session; within each scope the scan
// follows insertion order, keeping the outcome deterministic.
//
// The merged event keeps the ledger-resident ID, CreatedAt and
// SourceDocument: ids handed to the UI stay valid, exports stay
// byte-stable and document grouping stays consistent.
func (s *Session) Commit(ev *model.Event, m *dedup.Matcher) (mergedInto string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validate(ev); err != nil {
		return "", err
	}

	for _, id := range s.dedupScanOrderLocked(ev.SourceDocument) {
		existing := s.events[id]
		if !m.Match(existing, ev) {
			continue
		}
		merged := m.Merge(existing, ev)
		merged.ID = existing.ID
		merged.CreatedAt = existing.CreatedAt
		// byDoc still indexes the event under the resident document, so
		// the field must agree with the grouping.
		merged.SourceDocument = existing.SourceDocument
		normalize.Recompute(merged, s.threshold)
		s.events[id] = merged
		log.Info("ledger: merged duplicate",
			"session", s.id,
			"into", id,
			"title", merged.Title,
			"confidence", merged.Confidence,
		)
		return id, nil
	}

	return "", s.insertLocked(ev)
}

// dedupScanOrderLocked lists candidate ids: primary scope first (same
// source document), then the remainder of the session.
func (s *Session) dedupScanOrderLocked(doc string) []string {
	sameDoc := s.byDoc[doc]
	out := make([]string, 0, len(s.order))
	out = append(out, sameDoc...)
	seen := make(map[string]bool, len(sameDoc))
	for _, id := range sameDoc {
		seen[id] = true
	}
	for _, id := range s.order {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Patch carries the editable fields of an update; nil members are left
// unchanged.
type Patch struct {
	Title       *string
	Location    *string
	Description *string
	Kind        *model.EventKind
	Time        *model.TemporalValue
	Confidence  *float64
}

// Update applies a partial edit, re-validating invariants. On violation
// the specific operation fails and prior state is left intact.
func (s *Session) Update(id string, p Patch) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	next := cur.Clone()
	if p.Title != nil {
		// Canonicalize like the normalizer does, so a whitespace-only
		// title cannot slip past the non-empty invariant via an edit.
		next.Title = strings.Join(strings.Fields(*p.Title), " ")
	}
	if p.Location != nil {
		next.Location = *p.Location
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Kind != nil {
		next.Kind = *p.Kind
	}
	if p.Time != nil {
		next.Time = p.Time.Clone()
		// A user-supplied time is authoritative; it is no longer the
		// synthetic stand-in from a failed interpretation.
		next.Time.Placeholder = false
	}
	if p.Confidence != nil {
		next.Confidence = *p.Confidence
	}

	if err := validate(next); err != nil {
		return nil, err
	}
	normalize.Recompute(next, s.threshold)
	s.events[id] = next
	return next.Clone(), nil
}

// Confirm records the user's sign-off on a flagged event and recomputes
// the review flag; completeness problems keep the flag raised.
func (s *Session) Confirm(id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	cur.Confirmed = true
	normalize.Recompute(cur, s.threshold)
	return cur.Clone(), nil
}

// Delete removes an event. Deleting an unknown id is a no-op so that
// duplicate UI actions stay harmless.
func (s *Session) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return
	}
	delete(s.events, id)
	s.order = removeID(s.order, id)
	for doc, ids := range s.byDoc {
		s.byDoc[doc] = removeID(ids, id)
	}
}

// Get returns a copy of one event.
func (s *Session) Get(id string) (*model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

// List returns all events in insertion order. The returned events are
// copies; callers never observe later mutations.
func (s *Session) List() []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.events[id].Clone())
	}
	return out
}

// ListByDocument groups events by source document for the review UI,
// documents sorted by name, events in insertion order within each.
func (s *Session) ListByDocument() map[string][]*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]*model.Event, len(s.byDoc))
	for doc, ids := range s.byDoc {
		group := make([]*model.Event, 0, len(ids))
		for _, id := range ids {
			group = append(group, s.events[id].Clone())
		}
		out[doc] = group
	}
	return out
}

// Stats summarizes the session for review summaries.
type Stats struct {
	Total       int
	NeedsReview int
	ByKind      map[model.EventKind]int
	Documents   []string
}

// Stats computes the session summary.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByKind: map[model.EventKind]int{}}
	for _, id := range s.order {
		ev := s.events[id]
		st.Total++
		if ev.NeedsReview {
			st.NeedsReview++
		}
		st.ByKind[ev.Kind]++
	}
	for doc := range s.byDoc {
		st.Documents = append(st.Documents, doc)
	}
	sort.Strings(st.Documents)
	return st
}

// Snapshot is the read-only view handed to the assembler; it is just List
// under a clearer name at the call site.
func (s *Session) Snapshot() []*model.Event {
	return s.List()
}

func validate(ev *model.Event) error {
	if ev == nil {
		return &ValidationError{Field: "event", Reason: "nil"}
	}
	if ev.ID == "" {
		return &ValidationError{Field: "id", Reason: "empty"}
	}
	if ev.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if err := ev.Time.Validate(); err != nil {
		return &ValidationError{Field: "time", Reason: err.Error()}
	}
	return nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
