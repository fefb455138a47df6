package simulate

import (
	"fmt"
	"math"
	"sort"

	"equityaudit/domain/audit"
	"equityaudit/domain/core"
)

// Distortion is how a simulated tool misreads ground truth in one stratum.
type Distortion struct {
	Factor  float64  `yaml:"factor" json:"factor"`
	NoiseSD float64  `yaml:"noise_sd" json:"noise_sd"`
	Floor   *float64 `yaml:"floor,omitempty" json:"floor,omitempty"`
	Ceiling *float64 `yaml:"ceiling,omitempty" json:"ceiling,omitempty"`
}

// Validate rejects parameters the simulator cannot apply.
func (d Distortion) Validate(stratum string) error {
	switch {
	case math.IsNaN(d.Factor) || d.Factor <= 0:
		return core.NewInvalidCalibrationError(stratum, fmt.Sprintf("factor must be > 0, got %v", d.Factor))
	case math.IsNaN(d.NoiseSD) || d.NoiseSD < 0:
		return core.NewInvalidCalibrationError(stratum, fmt.Sprintf("noise_sd must be >= 0, got %v", d.NoiseSD))
	case d.Floor != nil && d.Ceiling != nil && *d.Floor > *d.Ceiling:
		return core.NewInvalidCalibrationError(stratum, fmt.Sprintf("floor %v above ceiling %v", *d.Floor, *d.Ceiling))
	}
	return nil
}

// Calibration is one domain's distortion table, keyed by quantile stratum
// label, with optional multipliers for categorical strata.
type Calibration struct {
	Name            string                `yaml:"name" json:"name"`
	NoiseBound      float64               `yaml:"noise_bound" json:"noise_bound"`
	Strata          map[string]Distortion `yaml:"strata" json:"strata"`
	CategoryFactors map[string]float64    `yaml:"category_factors,omitempty" json:"category_factors,omitempty"`
}

// Validate checks every row and that each required stratum label has one.
func (c Calibration) Validate(labels []string) error {
	if math.IsNaN(c.NoiseBound) || c.NoiseBound <= 0 {
		return core.NewInvalidCalibrationError(c.Name, fmt.Sprintf("noise_bound must be > 0, got %v", c.NoiseBound))
	}
	for _, l := range labels {
		if _, ok := c.Strata[l]; !ok {
			return core.NewInvalidCalibrationError(l, fmt.Sprintf("missing from calibration %q", c.Name))
		}
	}
	for _, l := range sortedKeys(c.Strata) {
		if err := c.Strata[l].Validate(l); err != nil {
			return err
		}
	}
	for _, label := range sortedKeys(c.CategoryFactors) {
		if f := c.CategoryFactors[label]; math.IsNaN(f) || f <= 0 {
			return core.NewInvalidCalibrationError(label, fmt.Sprintf("category factor must be > 0, got %v", f))
		}
	}
	return nil
}

// For composes the stratum distortion with the category multiplier, if any.
func (c Calibration) For(stratum, category string) (Distortion, error) {
	d, ok := c.Strata[stratum]
	if !ok {
		return Distortion{}, core.NewInvalidCalibrationError(stratum, fmt.Sprintf("missing from calibration %q", c.Name))
	}
	if f, ok := c.CategoryFactors[category]; ok && category != "" {
		d.Factor *= f
	}
	return d, d.Validate(stratum)
}

// Record snapshots the table for report provenance.
func (c Calibration) Record() audit.CalibrationRecord {
	rec := audit.CalibrationRecord{
		Name:       c.Name,
		NoiseBound: c.NoiseBound,
		Strata:     make(map[string]audit.DistortionSnapshot, len(c.Strata)),
	}
	for label, d := range c.Strata {
		rec.Strata[label] = audit.DistortionSnapshot{Factor: d.Factor, NoiseSD: d.NoiseSD, Floor: d.Floor, Ceiling: d.Ceiling}
	}
	if len(c.CategoryFactors) > 0 {
		rec.CategoryFactors = make(map[string]float64, len(c.CategoryFactors))
		for k, v := range c.CategoryFactors {
			rec.CategoryFactors[k] = v
		}
	}
	return rec
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
