// Package census holds the typed geographic records the audit engine consumes.
package census

import (
	"fmt"
	"math"

	"equityaudit/domain/core"
)

// Attribute names a continuous demographic attribute of an entity. Input
// columns other than the well-known ones load under their header name.
type Attribute string

const (
	AttrMedianIncome Attribute = "median_income"
	AttrPctMinority  Attribute = "pct_minority"
)

// Entity is one geographic unit (a census tract) with its demographics.
// A missing attribute is simply absent from Attributes; values are never imputed.
type Entity struct {
	ID         core.EntityID         `json:"id"`
	Name       string                `json:"name,omitempty"`
	Population int                   `json:"population"`
	Attributes map[Attribute]float64 `json:"attributes"`
}

// Value returns the attribute value and whether it is present and finite.
func (e Entity) Value(attr Attribute) (float64, bool) {
	v, ok := e.Attributes[attr]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Validate checks the invariants every entity must satisfy at the boundary.
func (e Entity) Validate() error {
	if core.ID(e.ID).IsEmpty() {
		return core.NewInvalidInputError("entity.id", "cannot be empty")
	}
	if e.Population < 0 {
		return core.NewInvalidInputError("entity.population", fmt.Sprintf("%s has negative population %d", e.ID, e.Population))
	}
	if v, ok := e.Value(AttrPctMinority); ok && (v < 0 || v > 1) {
		return core.NewInvalidInputError("entity.pct_minority", fmt.Sprintf("%s has share %.4f outside [0,1]", e.ID, v))
	}
	if v, ok := e.Value(AttrMedianIncome); ok && v < 0 {
		return core.NewInvalidInputError("entity.median_income", fmt.Sprintf("%s has negative income %.2f", e.ID, v))
	}
	return nil
}

// Observation is one externally supplied ground-truth measurement.
type Observation struct {
	EntityID core.EntityID `json:"entity_id"`
	Key      string        `json:"key"`
	Value    float64       `json:"value"`
}

// Validate rejects observations that cannot be paired with a prediction.
func (o Observation) Validate() error {
	if core.ID(o.EntityID).IsEmpty() {
		return core.NewInvalidInputError("observation.entity_id", "cannot be empty")
	}
	if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return core.NewInvalidInputError("observation.value", fmt.Sprintf("%s/%s is not finite", o.EntityID, o.Key))
	}
	if o.Value < 0 {
		return core.NewInvalidInputError("observation.value", fmt.Sprintf("%s/%s is negative", o.EntityID, o.Key))
	}
	return nil
}
