// Package uuid generates the short prefixed identifiers used for jobs, crawls and capabilities.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identifier prefixes.
const (
	PrefixJob        = "job"
	PrefixRefreshJob = "auto"
	PrefixCrawl      = "c"
	PrefixCapability = "cap"
)

// Generator creates "<prefix>_<hex>" identifiers from random UUIDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns prefix_ followed by length hex characters of a random UUID.
// A length outside (0, 32] uses the full 32 characters.
func (Generator) NewID(prefix string, length int) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	if length > 0 && length < len(hex) {
		hex = hex[:length]
	}
	if prefix == "" {
		return hex, nil
	}
	return prefix + "_" + hex, nil
}

// NewRequestID returns a time-ordered UUIDv7 string for request correlation.
func (Generator) NewRequestID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
