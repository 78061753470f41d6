package memory

import (
	"context"
	"fmt"
	"log"

	"github.com/cenkalti/backoff/v4"

	"github.com/becomeliminal/engram/core"
)

// Pipeline is the ingestion path: it decides whether a turn contains
// memorable content and, if so, embeds and persists it, then hands the
// fresh record to the consolidator for the affected scope.
type Pipeline struct {
	store        Store
	embedder     Embedder
	classifier   SalienceClassifier
	consolidator *Consolidator
	locks        *scopeLocks
	config       *Config
}

// NewPipeline creates an ingestion pipeline. The consolidator may be
// nil to disable on-write consolidation (a periodic sweep still keeps
// the store eventually consistent).
func NewPipeline(store Store, embedder Embedder, classifier SalienceClassifier, consolidator *Consolidator, locks *scopeLocks, config *Config) *Pipeline {
	return &Pipeline{
		store:        store,
		embedder:     embedder,
		classifier:   classifier,
		consolidator: consolidator,
		locks:        locks,
		config:       config,
	}
}

// Ingest processes one conversation turn. It returns the persisted
// record, or nil if the turn was judged not memorable.
//
// Failure semantics: an embedding failure aborts the write for this
// turn (no record is ever persisted with a placeholder embedding);
// store failures are retried with bounded backoff and then surfaced as
// ErrIngestionAborted. A salience-positive turn is never silently
// dropped.
func (p *Pipeline) Ingest(ctx context.Context, turn core.Turn) (*Record, error) {
	if err := ValidateScope(turn.Scope); err != nil {
		return nil, err
	}

	verdict, err := p.classifier.Classify(ctx, turn)
	if err != nil {
		// Over-remember bias: a broken classifier must not lose
		// memories, so the turn is treated as memorable verbatim.
		log.Printf("[MEMORY] Salience classification failed, storing verbatim: %v", err)
		verdict = Salience{Memorable: true, Kind: KindEpisodic, Importance: 5}
	}
	if !verdict.Memorable {
		return nil, nil
	}

	fact := verdict.Fact
	if fact == "" {
		fact = turn.Text
	}
	kind := verdict.Kind
	if kind == "" {
		kind = KindFact
	}

	rec := NewRecord(turn.Scope, fact, kind, verdict.Importance)
	if !turn.Timestamp.IsZero() {
		rec.CreatedAt = turn.Timestamp.UTC()
		rec.LastAccessedAt = rec.CreatedAt
	}
	return rec, p.persist(ctx, rec)
}

// persist embeds and writes a record under the scope lock, then runs
// on-write consolidation. Also used directly for diary entries, which
// bypass the salience gate.
func (p *Pipeline) persist(ctx context.Context, rec *Record) error {
	embedding, err := p.embed(ctx, rec.Text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIngestionAborted, err)
	}
	rec.Embedding = embedding

	unlock := p.locks.lock(rec.Scope)
	defer unlock()

	put := func() error {
		putCtx, cancel := context.WithTimeout(ctx, p.config.StoreTimeout)
		defer cancel()
		if err := p.store.Put(putCtx, rec); err != nil {
			if Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(put, p.newBackOff(ctx)); err != nil {
		return fmt.Errorf("%w: store write for scope %s: %v", ErrIngestionAborted, rec.Scope, err)
	}

	log.Printf("[MEMORY] Stored %s memory for scope %s: %q", rec.Kind, rec.Scope, truncateLog(rec.Text, 60))

	if p.consolidator != nil {
		if err := p.consolidator.consolidateLocked(ctx, rec); err != nil {
			// Consolidation is eventually consistent; the sweep will
			// catch what the on-write pass missed.
			log.Printf("[MEMORY] On-write consolidation failed for scope %s: %v", rec.Scope, err)
		}
	}
	return nil
}

// embed runs the embedder with per-call timeouts and bounded backoff.
func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	op := func() error {
		embedCtx, cancel := context.WithTimeout(ctx, p.config.EmbedTimeout)
		defer cancel()
		vec, err := p.embedder.Embed(embedCtx, text)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEmbedding, err)
		}
		embedding = vec
		return nil
	}
	if err := backoff.Retry(op, p.newBackOff(ctx)); err != nil {
		return nil, err
	}
	return embedding, nil
}

func (p *Pipeline) newBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.config.MaxRetries), ctx)
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
