package session

import (
	"context"
	"time"

	"github.com/sharedcode/docstore"
)

// savePlan is the ordered batch of one save: deferred commands, then deletes, then puts.
type savePlan struct {
	Commands      []docstore.Command
	DeferredCount int
	// Entities is aligned with Commands[DeferredCount:].
	Entities []*documentInfo
	// documents holds the serialized put payloads, aligned with Entities.
	documents []docstore.Document
	deletes   int
	puts      int
	// undo restores the tracking state consumed while planning.
	undo []func()
}

func (p *savePlan) rollback() {
	for i := len(p.undo) - 1; i >= 0; i-- {
		p.undo[i]()
	}
	p.undo = nil
}

// prepare builds the save plan. It consumes the deleted set and takes the ids of
// changed entities out of the live map. On error everything it consumed is restored.
func (s *Session) prepare(ctx context.Context) (*savePlan, error) {
	p := &savePlan{}

	for i := 0; i < s.deferred.Length(); i++ {
		p.Commands = append(p.Commands, s.deferred.Get(i).(docstore.Command))
	}
	p.DeferredCount = len(p.Commands)

	for _, r := range s.tracking.deletedRecords() {
		r := r
		delete(s.tracking.deleted, r.entity)
		delete(s.tracking.byEntity, r.entity)
		p.undo = append(p.undo, func() {
			s.tracking.deleted[r.entity] = r
			s.tracking.byEntity[r.entity] = r
		})
		if !s.tracking.isConcreteID(r.key) {
			// Never reached the store.
			continue
		}
		c := docstore.Command{Kind: docstore.Delete, ID: r.key}
		if (s.options.UseOptimisticConcurrency || r.forceConcurrencyCheck) && r.version != docstore.NoVersion {
			c.ExpectedVersion = docstore.VersionPtr(r.version)
		}
		p.Commands = append(p.Commands, c)
		p.Entities = append(p.Entities, r)
		p.documents = append(p.documents, nil)
		p.deletes++
	}

	for _, r := range s.tracking.records() {
		c, doc, ok, err := s.preparePut(ctx, r, p)
		if err != nil {
			p.rollback()
			return nil, err
		}
		if !ok {
			continue
		}
		p.Commands = append(p.Commands, c)
		p.Entities = append(p.Entities, r)
		p.documents = append(p.documents, doc)
		p.puts++
	}
	return p, nil
}

func (s *Session) preparePut(ctx context.Context, r *documentInfo, p *savePlan) (docstore.Command, docstore.Document, bool, error) {
	changed, _, doc, err := s.detect(r, false)
	if err != nil || !changed {
		return docstore.Command{}, nil, false, err
	}
	if id, ok := s.identity.GetIdentity(r.entity); ok && id != "" && r.key != "" && id != r.key {
		return docstore.Command{}, nil, false, docstore.NewError(docstore.KeyMismatch, r.key,
			"entity %T has id %q but is tracked as %q, the id field can't be changed", r.entity, id, r.key)
	}

	e := &docstore.StoreEvent{SessionID: s.id, ID: r.key, Entity: r.entity, Metadata: r.metadata, Document: doc}
	if err := s.beforeStore(ctx, e); err != nil {
		return docstore.Command{}, nil, false, err
	}
	if e.IsSnapshotVetoed() {
		doc = nil
	}

	if cur, ok := s.tracking.byID[r.key]; ok && cur == r {
		delete(s.tracking.byID, r.key)
		p.undo = append(p.undo, func() { s.tracking.byID[r.key] = r })
	}

	if doc == nil {
		if doc, err = s.toDocument(r); err != nil {
			return docstore.Command{}, nil, false, err
		}
	}
	c := docstore.Command{Kind: docstore.Put, ID: r.key, Document: doc}
	if s.options.UseOptimisticConcurrency || r.forceConcurrencyCheck {
		v := r.version
		if v == docstore.NoVersion {
			v = docstore.VersionMustNotExist
		}
		c.ExpectedVersion = &v
	}
	return c, doc, true, nil
}

// SaveChanges sends all pending changes in one batch. On failure the session is left
// exactly as it was before the call so it can be retried.
func (s *Session) SaveChanges(ctx context.Context) error {
	if s.transport == nil {
		return docstore.NewError(docstore.TransportFailure, nil, "session has no transport")
	}
	start := time.Now()
	p, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	if len(p.Commands) == 0 {
		return nil
	}
	if err := s.incrementRequests(); err != nil {
		p.rollback()
		return err
	}
	lg := s.logger()
	lg.Debug("saving changes", "deferred", p.DeferredCount, "deletes", p.deletes, "puts", p.puts)

	results, err := s.transport.Execute(ctx, p.Commands)
	if err != nil {
		p.rollback()
		lg.Debug("save failed, tracking state restored", "error", err)
		return err
	}
	if len(results) != len(p.Commands) {
		p.rollback()
		return docstore.NewError(docstore.TransportFailure, len(results),
			"transport returned %d results for %d commands", len(results), len(p.Commands))
	}
	s.clearDeferred()

	err = s.reconcile(ctx, p, results)

	summary := docstore.SaveSummary{
		SessionID:     s.id,
		Puts:          p.puts,
		Deletes:       p.deletes,
		Deferred:      p.DeferredCount,
		HighWatermark: s.highWatermark,
		Duration:      time.Since(start),
	}
	for _, o := range s.observers {
		o.SaveCompleted(ctx, summary)
	}
	lg.Debug("changes saved", "high_watermark", s.highWatermark, "duration", summary.Duration)
	return err
}
