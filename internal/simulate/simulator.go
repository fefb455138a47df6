// Package simulate produces the output of a demographically biased AI tool
// from ground truth, deterministically per entity.
package simulate

import (
	"fmt"
	"math"
	"math/rand"

	"equityaudit/domain/core"
	"equityaudit/ports"
)

// Simulator applies a validated calibration table within one audit domain.
type Simulator struct {
	rng         ports.RNGPort
	namespace   string
	calibration Calibration
}

// New validates the calibration against the stratum labels it must cover.
func New(rng ports.RNGPort, namespace string, cal Calibration, labels []string) (*Simulator, error) {
	if err := cal.Validate(labels); err != nil {
		return nil, err
	}
	return &Simulator{rng: rng, namespace: namespace, calibration: cal}, nil
}

// Calibration returns the table in use.
func (s *Simulator) Calibration() Calibration {
	return s.calibration
}

// Simulate returns the biased tool output for one sample. The noise draw is
// seeded from (namespace, entity, key), so the result does not depend on the
// order samples are simulated in.
func (s *Simulator) Simulate(entity core.EntityID, key string, truth float64, stratum, category string) (float64, error) {
	d, err := s.calibration.For(stratum, category)
	if err != nil {
		return 0, err
	}
	return Apply(truth, d, s.calibration.NoiseBound, s.rng.Stream(s.namespace, entity.String(), key))
}

// Apply computes truth*factor + noise with noise ~ N(0, sd) clamped to
// ±bound·sd, then applies the optional floor and ceiling.
func Apply(truth float64, d Distortion, bound float64, r *rand.Rand) (float64, error) {
	if math.IsNaN(truth) || math.IsInf(truth, 0) {
		return 0, core.NewInvalidInputError("truth", fmt.Sprintf("not finite: %v", truth))
	}
	if err := d.Validate(""); err != nil {
		return 0, err
	}
	z := r.NormFloat64()
	z = math.Max(-bound, math.Min(bound, z))

	out := truth*d.Factor + z*d.NoiseSD
	if d.Floor != nil && out < *d.Floor {
		out = *d.Floor
	}
	if d.Ceiling != nil && out > *d.Ceiling {
		out = *d.Ceiling
	}
	return out, nil
}
