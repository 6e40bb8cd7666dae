// Package uuid generates and validates batch identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements warmup.IDGenerator with time-ordered UUID v7 strings,
// so batch IDs sort in enqueue order.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s is a well-formed batch ID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
