package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// Consolidator maintains the "at most one active record per fact"
// invariant over time. It runs after each ingestion write for the
// affected scope and in a periodic sweep; either path only flips
// Status/Supersedes, never deletes data.
type Consolidator struct {
	store  Store
	judge  MergeJudge
	locks  *scopeLocks
	config *Config
}

// NewConsolidator creates a consolidation service over store, using
// judge to decide the relation between overlapping memories.
func NewConsolidator(store Store, judge MergeJudge, locks *scopeLocks, config *Config) *Consolidator {
	return &Consolidator{
		store:  store,
		judge:  judge,
		locks:  locks,
		config: config,
	}
}

// ConsolidateRecord reconciles one record against its scope's active
// memories, taking the scope lock itself.
func (c *Consolidator) ConsolidateRecord(ctx context.Context, rec *Record) error {
	unlock := c.locks.lock(rec.Scope)
	defer unlock()
	return c.consolidateLocked(ctx, rec)
}

// consolidateLocked runs the merge pass for rec. Caller holds the
// scope lock.
//
// The incoming record is compared to every strictly older active
// record whose similarity clears the merge threshold:
//   - refinement/contradiction: the old record becomes superseded and
//     the new record's Supersedes points back at it;
//   - plain duplicate: the new record itself is retired, preserving
//     the earliest provenance.
//
// Supersession only ever points from newer to older records, so the
// Supersedes relation stays a forest by construction.
func (c *Consolidator) consolidateLocked(ctx context.Context, rec *Record) error {
	if rec.Status != StatusActive {
		return nil
	}

	candidates, err := c.store.Query(ctx, rec.Scope, rec.Embedding, c.config.Overfetch, []Status{StatusActive})
	if err != nil {
		return fmt.Errorf("query scope %s: %w", rec.Scope, err)
	}

	changed := false
	for _, cand := range candidates {
		old := cand.Record
		if old.ID == rec.ID || float64(cand.Similarity) < c.config.MergeThreshold {
			continue
		}
		if old.CreatedAt.After(rec.CreatedAt) {
			// Only ever fold newer into older; the newer record gets
			// its own consolidation pass.
			continue
		}

		verdict, err := c.judge.Judge(ctx, old.Text, rec.Text)
		if err != nil {
			log.Printf("[MEMORY] Merge judge failed for %s vs %s: %v", old.ID, rec.ID, err)
			continue
		}

		switch verdict {
		case VerdictDuplicate:
			// Same fact, no new information: retire the newcomer and
			// keep the earliest record active.
			rec.Status = StatusRetired
			if err := c.store.Put(ctx, rec); err != nil {
				return fmt.Errorf("retire record %s: %w", rec.ID, err)
			}
			log.Printf("[MEMORY] Retired duplicate %s (kept %s) in scope %s", rec.ID, old.ID, rec.Scope)
			return nil

		case VerdictRefinement:
			old = old.Clone()
			old.Status = StatusSuperseded
			if err := c.store.Put(ctx, old); err != nil {
				return fmt.Errorf("supersede record %s: %w", old.ID, err)
			}
			if rec.Supersedes == "" {
				rec.Supersedes = old.ID
			}
			changed = true
			log.Printf("[MEMORY] Record %s supersedes %s in scope %s", rec.ID, old.ID, rec.Scope)
		}
	}

	if changed {
		if err := c.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("update record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// SweepScope re-runs consolidation across a whole scope, newest records
// first folding into older ones. The batch counterpart of the on-write
// pass; together they keep the store eventually consistent within the
// sweep interval.
func (c *Consolidator) SweepScope(ctx context.Context, scope string) error {
	if err := ValidateScope(scope); err != nil {
		return err
	}

	unlock := c.locks.lock(scope)
	defer unlock()

	records, err := c.store.ListByScope(ctx, scope, []Status{StatusActive})
	if err != nil {
		return fmt.Errorf("list scope %s: %w", scope, err)
	}

	// Oldest first, so by the time a record is consolidated everything
	// it could fold into has already settled.
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	for _, rec := range records {
		if err := c.consolidateLocked(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
