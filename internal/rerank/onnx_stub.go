//go:build !cgo
// +build !cgo

package rerank

import (
	"context"
	"errors"
)

var errONNXUnavailable = errors.New("ONNX reranker requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXScorer stub type when built without CGO (see onnx.go for real implementation).
type ONNXScorer struct{}

// NewONNXScorer returns an error when built without CGO.
func NewONNXScorer(string, int) (*ONNXScorer, error) {
	return nil, errONNXUnavailable
}

func (s *ONNXScorer) Score(context.Context, string, []string) ([]float64, error) {
	return nil, errONNXUnavailable
}
func (s *ONNXScorer) Name() string { return "onnx" }
func (s *ONNXScorer) Close() error { return nil }
