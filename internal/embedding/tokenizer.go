package embedding

import "strings"

// BERT special token ids.
const (
	tokenCLS = 101
	tokenSEP = 102
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	return t.TokenizePair(text, "", maxTokens)
}

// TokenizePair encodes "[CLS] a [SEP] b [SEP]" for cross-encoders, with
// token_type_ids set to 1 over the second segment. An empty b yields the
// single-segment encoding.
func (t *SimpleTokenizer) TokenizePair(a, b string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	pos := 0
	put := func(id int64, segment int64) bool {
		if pos >= maxTokens {
			return false
		}
		inputIDs[pos] = id
		attentionMask[pos] = 1
		tokenTypeIDs[pos] = segment
		pos++
		return true
	}

	put(tokenCLS, 0)
	wordsA := SplitWords(a)
	wordsB := SplitWords(b)
	// Reserve room for the separators.
	reserved := 1
	if b != "" {
		reserved = 2
	}
	budget := maxTokens - 1 - reserved
	if b != "" {
		budget /= 2
	}
	for i, w := range wordsA {
		if i >= budget {
			break
		}
		put(int64(HashString(w)%30000), 0)
	}
	put(tokenSEP, 0)
	if b == "" {
		return inputIDs, attentionMask, tokenTypeIDs
	}
	for _, w := range wordsB {
		if pos >= maxTokens-1 {
			break
		}
		put(int64(HashString(w)%30000), 1)
	}
	put(tokenSEP, 1)
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
