// Package vector stores chunk embeddings with flat, filterable payloads and
// searches them by similarity. Backends implement Store; Adapter binds a
// store to one collection and enforces the point contract.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperjump/kirinuki/internal/models"
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	Cosine    Distance = "cosine"
	Dot       Distance = "dot"
	Euclidean Distance = "euclid"
)

// ParseDistance validates a configured distance name.
func ParseDistance(s string) (Distance, error) {
	switch d := Distance(s); d {
	case Cosine, Dot, Euclidean:
		return d, nil
	default:
		return "", fmt.Errorf("unknown distance %q", s)
	}
}

// Point is one stored vector. ID is a UUID string.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is a search result. Higher scores are more similar for every distance;
// euclidean hits carry the negated distance.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Filter restricts a search or delete to points whose scalar payload fields
// equal the given values. An empty filter matches everything.
type Filter map[string]any

// Store is a vector database holding named collections.
type Store interface {
	// EnsureCollection creates the collection, or verifies an existing one
	// has the same dimension.
	EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error
	// Upsert inserts or overwrites points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// ValidatePoint checks the id format, vector length, required payload
// fields, and payload flatness.
func ValidatePoint(p Point, dimension int, required []string) error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("%w: point id %q is not a UUID", models.ErrMalformedInput, p.ID)
	}
	if len(p.Vector) != dimension {
		return fmt.Errorf("%w: point %s has %d dimensions, collection has %d",
			models.ErrDimensionMismatch, p.ID, len(p.Vector), dimension)
	}
	for _, key := range required {
		if _, ok := p.Payload[key]; !ok {
			return fmt.Errorf("%w: point %s lacks %q", models.ErrMissingPayloadField, p.ID, key)
		}
	}
	for key, v := range p.Payload {
		if !isFlat(v) {
			return fmt.Errorf("%w: payload field %q of point %s is nested", models.ErrMalformedInput, key, p.ID)
		}
	}
	return nil
}

// isFlat accepts scalars and lists of scalars.
func isFlat(v any) bool {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return true
	case []int, []int64, []string, []float64:
		return true
	case []any:
		for _, e := range x {
			switch e.(type) {
			case nil, string, bool, int, int32, int64, float32, float64:
			default:
				return false
			}
		}
		return true
	default:
		return false
	}
}

// matches reports whether payload satisfies filter. Values are compared by
// their printed form so that 3 and 3.0 decoded from JSON are equal.
func matches(payload map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func checkDimension(name string, have, want int) error {
	if have != want {
		return fmt.Errorf("%w: collection %s has dimension %d, requested %d",
			models.ErrDimensionMismatch, name, have, want)
	}
	return nil
}
