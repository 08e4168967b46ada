//go:build cgo
// +build cgo

package rerank

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/kirinuki/internal/embedding"
)

// ONNXScorer runs a local cross-encoder through ONNX Runtime. The model takes
// input_ids, attention_mask and token_type_ids for one (query, passage) pair
// and emits a single relevance logit.
type ONNXScorer struct {
	session   *ort.AdvancedSession
	maxTokens int
	tokenizer *embedding.SimpleTokenizer

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	logits        *ort.Tensor[float32]
	mu            sync.Mutex
}

// NewONNXScorer loads the cross-encoder at modelPath.
func NewONNXScorer(modelPath string, maxTokens int) (*ONNXScorer, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	tok := &embedding.SimpleTokenizer{}
	ids, mask, types := tok.TokenizePair("", "", maxTokens)
	shape := ort.NewShape(1, int64(maxTokens))

	s := &ONNXScorer{maxTokens: maxTokens, tokenizer: tok}
	var err error
	if s.inputIDs, err = ort.NewTensor(shape, ids); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if s.attentionMask, err = ort.NewTensor(shape, mask); err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if s.tokenTypeIDs, err = ort.NewTensor(shape, types); err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if s.logits, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create logits tensor: %w", err)
	}
	s.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		[]ort.ArbitraryTensor{s.inputIDs, s.attentionMask, s.tokenTypeIDs},
		[]ort.ArbitraryTensor{s.logits},
		nil,
	)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return s, nil
}

// Score runs one inference per passage and maps logits through a sigmoid.
func (s *ONNXScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, fmt.Errorf("onnx scorer is closed")
	}

	out := make([]float64, len(passages))
	for i, p := range passages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := s.tokenizer.TokenizePair(query, p, s.maxTokens)
		copy(s.inputIDs.GetData(), ids)
		copy(s.attentionMask.GetData(), mask)
		copy(s.tokenTypeIDs.GetData(), types)
		if err := s.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		logit := float64(s.logits.GetData()[0])
		out[i] = 1 / (1 + math.Exp(-logit))
	}
	return out, nil
}

func (s *ONNXScorer) Name() string { return "onnx" }

func (s *ONNXScorer) destroy() {
	for _, t := range []interface{ Destroy() error }{s.inputIDs, s.attentionMask, s.tokenTypeIDs, s.logits} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	s.inputIDs, s.attentionMask, s.tokenTypeIDs, s.logits = nil, nil, nil, nil
}

// Close destroys the session and tensors.
func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	s.destroy()
	return err
}
