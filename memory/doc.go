// Package memory implements the long-term memory pipeline for
// conversational agents: ingestion, vector storage, retrieval, and
// consolidation, partitioned per user scope.
//
// The persisted unit is the Record: an immutable fact text plus its
// embedding, owned by exactly one scope. Corrections never edit a
// record in place; consolidation supersedes the old record with a new
// one, keeping provenance auditable.
//
// Architecture:
//   - Store: vector storage backend (chromem-go embedded, Qdrant for
//     production deployments)
//   - Embedder: text-to-vector conversion (ONNX all-MiniLM locally,
//     mock for tests, ristretto-cached decorator for either)
//   - Pipeline: salience gating and the durable write path
//   - Retriever: similarity search, recency-aware re-ranking, budgets
//   - Consolidator: dedupe and supersession of overlapping memories
//   - Manager: facade wiring the above per incoming turn
//
// Concurrency: writes to a scope are serialized by a per-scope lock so
// overlapping ingestions cannot race consolidation; different scopes
// proceed independently.
package memory
