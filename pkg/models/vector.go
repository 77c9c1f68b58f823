package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Vector stores an embedding as a JSON array of float32. Postgres deployments
// that run pgvector can swap the column type without touching callers; the
// portable JSON representation keeps SQLite tests on the same code path.
type Vector []float32

// Value implements driver.Valuer interface for database writes.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner interface for database reads.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}

	var bytes []byte
	switch src := value.(type) {
	case []byte:
		bytes = src
	case string:
		bytes = []byte(src)
	default:
		return errors.New("failed to unmarshal vector value: unsupported type")
	}

	var out []float32
	if err := json.Unmarshal(bytes, &out); err != nil {
		return fmt.Errorf("invalid vector in database: %w", err)
	}
	*v = out
	return nil
}

// Cosine returns the cosine similarity between two vectors. Mismatched
// dimensions or zero-magnitude vectors score 0.
func (v Vector) Cosine(other Vector) float64 {
	if len(v) == 0 || len(v) != len(other) {
		return 0
	}
	var dot, normA, normB float64
	for i := range v {
		a := float64(v[i])
		b := float64(other[i])
		dot += a * b
		normA += a * a
		normB += b * b
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
