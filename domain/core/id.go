package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	EntityID ID
	SampleID ID
	RunID    ID
)

// String conversions for domain IDs
func (id EntityID) String() string { return ID(id).String() }
func (id SampleID) String() string { return ID(id).String() }
func (id RunID) String() string    { return ID(id).String() }

// NewRunID creates a time-ordered identifier for one pipeline run.
func NewRunID() RunID { return RunID(NewID()) }

// ParseEntityID validates and trims an entity identifier from an input file.
func ParseEntityID(s string) (EntityID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: entity id cannot be empty", ErrInvalidInput)
	}
	return EntityID(s), nil
}

// ParseSampleID validates a sample identifier.
func ParseSampleID(s string) (SampleID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: sample id cannot be empty", ErrInvalidInput)
	}
	return SampleID(s), nil
}

// NewSampleID derives the sample identifier from its entity and sample key.
func NewSampleID(entity EntityID, key string) SampleID {
	if key == "" {
		return SampleID(entity)
	}
	return SampleID(entity.String() + "/" + key)
}
