//go:build !onnx

package main

import (
	"log"

	"github.com/becomeliminal/engram/memory"
	"github.com/becomeliminal/engram/memory/embedder/mock"
)

// newEmbedder returns the deterministic mock embedder. Build with
// -tags onnx (and ENGRAM_MODEL_PATH / ENGRAM_TOKENIZER_PATH set) for
// real semantic embeddings via the local ONNX model.
func newEmbedder() (memory.Embedder, func(), error) {
	log.Println("⚠️  Using mock embedder (no semantic similarity). Build with -tags onnx for real embeddings.")
	return mock.New(), func() {}, nil
}
