// Package ident derives the deterministic identifiers used across the pipeline:
// point ids, embedding cache keys, and artifact content hashes.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// namespace scopes the UUIDv5 point ids of this engine.
var namespace = uuid.MustParse("6f1c7a62-3d1e-5b8e-9a0e-4b5f2c7d9e10")

// PointID returns the id of the chunk at position within docID.
// Re-ingesting the same document yields the same ids, so upserts overwrite
// rather than duplicate.
func PointID(docID string, position int) string {
	name := docID + "\x00" + strconv.Itoa(position)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// CacheKey returns the content address of an embedding of text under model.
func CacheKey(text, model string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the sha256 hex digest of an artifact's bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
