package engine

import (
	"math"
	"math/rand"

	"equityaudit/domain/census"
	"equityaudit/domain/core"
	"equityaudit/internal/simulate"
	"equityaudit/internal/stratify"
	"equityaudit/ports"
)

// Env is what a driver sees while it builds the samples of one domain run.
type Env struct {
	Dataset    *census.Dataset
	Params     *Parameters
	Strata     *stratify.Assignment
	Categories *stratify.Assignment
	Simulator  *simulate.Simulator

	domain string
	rng    ports.RNGPort
}

// Stratified returns the entities that received a quantile stratum, in
// input order.
func (e *Env) Stratified() []census.Entity {
	var out []census.Entity
	for _, ent := range e.Dataset.Entities {
		if _, ok := e.Strata.Stratum(ent.ID); ok {
			out = append(out, ent)
		}
	}
	return out
}

// Stream returns the ground-truth random stream of one entity and key. It
// is independent of the simulator's noise stream for the same sample.
func (e *Env) Stream(entity core.EntityID, key string) *rand.Rand {
	return e.rng.Stream(e.domain+"/truth", entity.String(), key)
}

// Predict runs the bias simulator on value using the entity's strata.
func (e *Env) Predict(entity core.EntityID, key string, value float64) (float64, error) {
	stratum, ok := e.Strata.Label(entity)
	if !ok {
		return 0, core.NewInvalidInputError("sample", "entity "+entity.String()+" has no stratum")
	}
	var category string
	if e.Categories != nil {
		category, _ = e.Categories.Label(entity)
	}
	return e.Simulator.Simulate(entity, key, value, stratum, category)
}

// Sample builds a sample, freezing the entity's current strata into it.
func (e *Env) Sample(entity census.Entity, key string, truth, prediction float64) census.Sample {
	s := census.Sample{
		ID:         core.NewSampleID(entity.ID, key),
		EntityID:   entity.ID,
		Key:        key,
		Truth:      truth,
		Prediction: prediction,
		Population: entity.Population,
		Category:   -1,
	}
	s.Stratum, _ = e.Strata.Stratum(entity.ID)
	s.StratumLabel, _ = e.Strata.Label(entity.ID)
	if e.Categories != nil {
		if idx, ok := e.Categories.Stratum(entity.ID); ok {
			s.Category = idx
			s.CategoryLabel = e.Categories.Labels[idx]
		}
	}
	return s
}

// NormalizedAttribute min-max scales the stratification attribute over the
// stratified entities to [0,1].
func (e *Env) NormalizedAttribute() (map[core.EntityID]float64, error) {
	entities := e.Stratified()
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ent := range entities {
		v, _ := ent.Value(e.Params.StratifyOn)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if len(entities) == 0 || hi == lo {
		return nil, core.NewInsufficientDataError(0, 2, "distinct "+string(e.Params.StratifyOn)+" values")
	}
	out := make(map[core.EntityID]float64, len(entities))
	for _, ent := range entities {
		v, _ := ent.Value(e.Params.StratifyOn)
		out[ent.ID] = (v - lo) / (hi - lo)
	}
	return out, nil
}

// uniform draws from [lo, hi).
func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
