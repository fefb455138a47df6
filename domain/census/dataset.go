package census

import (
	"fmt"
	"sort"

	"equityaudit/domain/core"
)

// SourceKind tags where a piece of input came from.
type SourceKind string

const (
	SourceFile      SourceKind = "file"
	SourceSynthetic SourceKind = "synthetic"
)

// Dataset is the explicit result of loading inputs. Drivers receive it by
// reference; nothing about the load is cached at package level.
type Dataset struct {
	Entities     []Entity                 `json:"entities"`
	Observations map[string][]Observation `json:"observations,omitempty"`
	EntitySource SourceKind               `json:"entity_source"`
	EntityOrigin string                   `json:"entity_origin"`
	Rejected     []string                 `json:"rejected,omitempty"`
}

// Validate checks entity invariants and uniqueness of ids.
func (d *Dataset) Validate() error {
	if len(d.Entities) == 0 {
		return core.NewEmptyInputError("dataset has no entities")
	}
	seen := make(map[core.EntityID]struct{}, len(d.Entities))
	for _, e := range d.Entities {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return core.NewInvalidInputError("entity.id", fmt.Sprintf("duplicate id %s", e.ID))
		}
		seen[e.ID] = struct{}{}
	}
	for domain, obs := range d.Observations {
		for _, o := range obs {
			if err := o.Validate(); err != nil {
				return fmt.Errorf("%s: %w", domain, err)
			}
			if _, ok := seen[o.EntityID]; !ok {
				return core.NewInvalidInputError("observation.entity_id", fmt.Sprintf("%s references unknown entity %s", domain, o.EntityID))
			}
		}
	}
	return nil
}

// ObservationsFor returns the observations supplied for a domain, ordered
// by entity then key so sample order never depends on file order.
func (d *Dataset) ObservationsFor(domain string) []Observation {
	obs := append([]Observation(nil), d.Observations[domain]...)
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].EntityID != obs[j].EntityID {
			return obs[i].EntityID < obs[j].EntityID
		}
		return obs[i].Key < obs[j].Key
	})
	return obs
}

// EntityIndex maps entity ids to entities.
func (d *Dataset) EntityIndex() map[core.EntityID]Entity {
	idx := make(map[core.EntityID]Entity, len(d.Entities))
	for _, e := range d.Entities {
		idx[e.ID] = e
	}
	return idx
}
