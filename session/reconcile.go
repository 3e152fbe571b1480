package session

import (
	"context"
	log "log/slog"

	"github.com/sharedcode/docstore"
)

// reconcile applies put acknowledgements back onto the tracked entities. Deletes need no
// work, their records were purged while planning.
func (s *Session) reconcile(ctx context.Context, p *savePlan, results []docstore.Result) error {
	var firstErr error
	watermark := docstore.NoVersion
	for i := p.DeferredCount; i < len(results); i++ {
		res := results[i]
		if res.Kind != docstore.Put {
			continue
		}
		idx := i - p.DeferredCount
		r := p.Entities[idx]
		if cur, ok := s.tracking.byEntity[r.entity]; !ok || cur != r {
			// Evicted while the batch was in flight.
			continue
		}
		id := res.ID
		if id == "" {
			id = r.key
		}

		if r.metadata == nil {
			r.metadata = docstore.Metadata{}
		}
		for k, v := range res.Metadata {
			r.metadata[k] = docstore.CloneValue(v)
		}
		r.metadata[docstore.MetadataID] = id
		r.metadata[docstore.MetadataVersion] = int64(res.Version)
		r.version = res.Version

		r.originalValue = p.documents[idx].WithoutMetadata().Clone()
		r.originalMetadata = r.metadata.Clone()

		if r.key != id {
			r.key = id
		}
		if cur, ok := s.tracking.byID[id]; ok && cur != r {
			log.Warn("reconciled id is held by another entity, keeping it", "id", id, "session", s.id.String())
		} else {
			s.tracking.byID[id] = r
			delete(s.tracking.knownMissing, id)
		}
		if err := s.identity.SetIdentity(r.entity, id); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.afterStore(ctx, &docstore.StoreEvent{SessionID: s.id, ID: id, Entity: r.entity, Metadata: r.metadata, Document: p.documents[idx]}); err != nil && firstErr == nil {
			firstErr = err
		}
		if res.Version > watermark {
			watermark = res.Version
		}
	}
	if watermark > s.highWatermark {
		s.highWatermark = watermark
	}
	return firstErr
}
