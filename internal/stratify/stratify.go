// Package stratify partitions entities into ordered strata by a demographic
// attribute. Quantile strata are equal-count; categorical strata use fixed
// thresholds supplied by configuration.
package stratify

import (
	"fmt"
	"sort"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/domain/core"
)

// Assignment is the result of partitioning a set of entities.
type Assignment struct {
	Kind      audit.StratumKind
	Attribute census.Attribute
	Labels    []string
	Groups    [][]core.EntityID
	Excluded  []core.EntityID
	index     map[core.EntityID]int
}

// Stratum returns the stratum index of an entity, or false if it was excluded.
func (a *Assignment) Stratum(id core.EntityID) (int, bool) {
	i, ok := a.index[id]
	return i, ok
}

// Label returns the label of the entity's stratum.
func (a *Assignment) Label(id core.EntityID) (string, bool) {
	i, ok := a.index[id]
	if !ok {
		return "", false
	}
	return a.Labels[i], true
}

// Sizes returns the number of entities in each stratum.
func (a *Assignment) Sizes() []int {
	sizes := make([]int, len(a.Groups))
	for i, g := range a.Groups {
		sizes[i] = len(g)
	}
	return sizes
}

// Count returns the number of strata.
func (a *Assignment) Count() int {
	return len(a.Labels)
}

type keyed struct {
	id    core.EntityID
	value float64
}

func usable(entities []census.Entity, attr census.Attribute) ([]keyed, []core.EntityID) {
	var vals []keyed
	var excluded []core.EntityID
	for _, e := range entities {
		v, ok := e.Value(attr)
		if !ok {
			excluded = append(excluded, e.ID)
			continue
		}
		vals = append(vals, keyed{id: e.ID, value: v})
	}
	return vals, excluded
}

// Quantile sorts entities ascending on attr and cuts them into count
// equal-size groups. Ties keep input order. When the count does not divide
// evenly, the lowest-indexed strata receive one extra entity each.
func Quantile(entities []census.Entity, attr census.Attribute, labels Labels) (*Assignment, error) {
	count := len(labels)
	if count < 2 {
		return nil, fmt.Errorf("%w: need at least 2 strata, got %d", core.ErrInvalidStratification, count)
	}
	vals, excluded := usable(entities, attr)
	if len(vals) < count {
		return nil, core.NewInsufficientDataError(len(vals), count, string(attr))
	}

	sort.SliceStable(vals, func(i, j int) bool { return vals[i].value < vals[j].value })

	a := &Assignment{
		Kind:      audit.KindQuantile,
		Attribute: attr,
		Labels:    append([]string(nil), labels...),
		Groups:    make([][]core.EntityID, count),
		Excluded:  excluded,
		index:     make(map[core.EntityID]int, len(vals)),
	}

	base, extra := len(vals)/count, len(vals)%count
	pos := 0
	for g := 0; g < count; g++ {
		size := base
		if g < extra {
			size++
		}
		for _, v := range vals[pos : pos+size] {
			a.Groups[g] = append(a.Groups[g], v.id)
			a.index[v.id] = g
		}
		pos += size
	}
	return a, nil
}

// Thresholds are ascending category boundaries with one more label than bounds.
type Thresholds struct {
	Bounds []float64 `yaml:"bounds" json:"bounds"`
	Labels []string  `yaml:"labels" json:"labels"`
}

// Validate checks that the thresholds describe a proper partition.
func (t Thresholds) Validate() error {
	if len(t.Bounds) == 0 {
		return fmt.Errorf("%w: categorical thresholds need at least one bound", core.ErrInvalidStratification)
	}
	if len(t.Labels) != len(t.Bounds)+1 {
		return fmt.Errorf("%w: %d bounds need %d labels, got %d", core.ErrInvalidStratification, len(t.Bounds), len(t.Bounds)+1, len(t.Labels))
	}
	for i := 1; i < len(t.Bounds); i++ {
		if t.Bounds[i] <= t.Bounds[i-1] {
			return fmt.Errorf("%w: bounds must be strictly increasing at %d", core.ErrInvalidStratification, i)
		}
	}
	return nil
}

// Bucket returns the category index of a value: below the first bound is 0,
// and a value equal to a bound belongs to the category above it.
func (t Thresholds) Bucket(v float64) int {
	return sort.Search(len(t.Bounds), func(i int) bool { return v < t.Bounds[i] })
}

// Categorical assigns every entity with a present attribute to a fixed bucket.
// Unlike quantile strata, buckets may be empty.
func Categorical(entities []census.Entity, attr census.Attribute, t Thresholds) (*Assignment, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	vals, excluded := usable(entities, attr)
	if len(vals) == 0 {
		return nil, core.NewInsufficientDataError(0, 1, string(attr))
	}

	a := &Assignment{
		Kind:      audit.KindCategorical,
		Attribute: attr,
		Labels:    append([]string(nil), t.Labels...),
		Groups:    make([][]core.EntityID, len(t.Labels)),
		Excluded:  excluded,
		index:     make(map[core.EntityID]int, len(vals)),
	}
	for _, v := range vals {
		g := t.Bucket(v.value)
		a.Groups[g] = append(a.Groups[g], v.id)
		a.index[v.id] = g
	}
	return a, nil
}
