//go:build onnx

package main

import (
	"fmt"
	"os"

	"github.com/becomeliminal/engram/memory"
	"github.com/becomeliminal/engram/memory/embedder/onnx"
)

// newEmbedder loads the local all-MiniLM-L6-v2 ONNX model.
func newEmbedder() (memory.Embedder, func(), error) {
	modelPath := os.Getenv("ENGRAM_MODEL_PATH")
	if modelPath == "" {
		modelPath = "models/all-MiniLM-L6-v2/model.onnx"
	}
	tokenizerPath := os.Getenv("ENGRAM_TOKENIZER_PATH")
	if tokenizerPath == "" {
		tokenizerPath = "models/all-MiniLM-L6-v2/tokenizer.json"
	}

	embedder, err := onnx.New(onnx.Config{
		ModelPath:     modelPath,
		TokenizerPath: tokenizerPath,
		Dimensions:    384,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load ONNX embedder: %w", err)
	}
	return embedder, func() { _ = embedder.Close() }, nil
}
