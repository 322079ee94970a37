//go:build onnx

package main

import (
	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/memory"
	"github.com/becomeliminal/memory-agent/memory/embedder/onnx"
)

func newONNXEmbedder(s config.EmbedderSettings) (memory.Embedder, func() error, error) {
	e, err := onnx.New(onnx.Config{
		ModelPath:     s.ModelPath,
		TokenizerPath: s.TokenizerPath,
		LibraryPath:   s.LibraryPath,
		Dimensions:    s.Dimensions,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, e.Close, nil
}
