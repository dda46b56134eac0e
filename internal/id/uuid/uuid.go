// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OperationPrefix marks locally allocated upload operation IDs.
const OperationPrefix = "op_"

// Generator creates UUID v7 strings for stored records.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string. v7 IDs sort by creation time.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewOperationID returns "op_" followed by a dash-free random UUID.
func (Generator) NewOperationID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return OperationPrefix + strings.ReplaceAll(id.String(), "-", ""), nil
}
