package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"coursecal/internal/config"
	"coursecal/internal/dedup"
	"coursecal/internal/ics"
	"coursecal/internal/log"
	"coursecal/internal/model"
	"coursecal/internal/normalize"
	"coursecal/internal/session"
	"coursecal/internal/temporal"
)

// Document is one upload's worth of extraction output: the candidates the
// upstream step produced from a single source document.
type Document struct {
	ID         string
	Candidates []model.RawCandidate
}

// Outcome summarizes one document's run through the pipeline.
type Outcome struct {
	Document string
	Inserted int
	Merged   int
	Rejected int
}

// Engine wires the pipeline stages together: interpret, normalize,
// dedup+flag+commit. Each document is an independent unit of work; the
// session ledger serializes mutations, so documents may run concurrently.
type Engine struct {
	cfg     *config.Config
	norm    *normalize.Normalizer
	matcher *dedup.Matcher
	store   *session.Store
}

// New builds an Engine. reference anchors year-less date interpretation
// (normally time.Now at startup).
func New(cfg *config.Config, store *session.Store, reference time.Time) (*Engine, error) {
	interp, err := temporal.New(cfg, reference)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build interpreter")
	}
	return &Engine{
		cfg:     cfg,
		norm:    normalize.New(cfg, interp),
		matcher: dedup.NewMatcher(cfg),
		store:   store,
	}, nil
}

// Normalizer exposes the engine's normalizer, mainly so tests and callers
// can pin its clock.
func (e *Engine) Normalizer() *normalize.Normalizer { return e.norm }

// ProcessDocuments runs every document through the pipeline into the
// given session, concurrently across documents. All candidates are
// attempted; the only per-candidate rejection is an empty title.
func (e *Engine) ProcessDocuments(ctx context.Context, sessionID string, docs []Document) ([]Outcome, error) {
	sess := e.store.GetOrCreate(sessionID)

	outcomes := make([]Outcome, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			out, err := e.processDocument(ctx, sess, doc)
			outcomes[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (e *Engine) processDocument(ctx context.Context, sess *session.Session, doc Document) (Outcome, error) {
	out := Outcome{Document: doc.ID}

	for _, cand := range doc.Candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if cand.SourceDocument == "" {
			cand.SourceDocument = doc.ID
		}

		ev, err := e.norm.Normalize(cand)
		if err != nil {
			if errors.Is(err, normalize.ErrEmptyTitle) {
				log.Warn("pipeline: candidate rejected", "document", doc.ID, "reason", err.Error())
				out.Rejected++
				continue
			}
			return out, eris.Wrapf(err, "pipeline: normalize candidate in %s", doc.ID)
		}

		mergedInto, err := sess.Commit(ev, e.matcher)
		if err != nil {
			// A normalizer-produced event violating ledger invariants is a
			// bug, not a data problem; surface it.
			return out, eris.Wrapf(err, "pipeline: commit event %s", ev.ID)
		}
		if mergedInto != "" {
			out.Merged++
		} else {
			out.Inserted++
		}
	}

	log.Info("pipeline: document processed",
		"document", doc.ID,
		"inserted", out.Inserted,
		"merged", out.Merged,
		"rejected", out.Rejected,
	)
	return out, nil
}

// Export assembles the current ledger state of a session into a calendar
// payload. Assembly reads a consistent snapshot and never mutates events.
func (e *Engine) Export(sessionID string) (*ics.Export, error) {
	sess, ok := e.store.Get(sessionID)
	if !ok {
		return nil, &ics.AssemblyError{Reason: "unknown session " + sessionID}
	}
	asm, err := ics.NewAssembler(e.cfg)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build assembler")
	}
	return asm.Assemble(sessionID, sess.Snapshot())
}

// DecodeCandidates reads the extraction step's JSON output: an array of
// raw candidate records.
func DecodeCandidates(r io.Reader) ([]model.RawCandidate, error) {
	var cands []model.RawCandidate
	dec := json.NewDecoder(r)
	if err := dec.Decode(&cands); err != nil {
		return nil, eris.Wrap(err, "pipeline: decode candidates")
	}
	return cands, nil
}
