//go:build !onnx

package main

import (
	"errors"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/memory"
)

var errNoONNX = errors.New("onnx embedder unavailable: rebuild with -tags onnx")

func newONNXEmbedder(config.EmbedderSettings) (memory.Embedder, func() error, error) {
	return nil, nil, errNoONNX
}
