// Package engine runs equity audits. One parametrized pipeline stratifies
// entities, asks a domain driver for ground-truth/prediction samples, computes
// accuracy and equity metrics per stratum and assembles the report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/domain/core"
	apperrors "equityaudit/internal/errors"
	"equityaudit/internal/metrics"
	"equityaudit/internal/report"
	"equityaudit/internal/simulate"
	"equityaudit/internal/stratify"
	"equityaudit/ports"
)

// Sources lists the measured, calibrated and simulated inputs of a report.
type Sources struct {
	Real       []string
	Calibrated []string
	Simulated  []string
}

// Outcome is what a driver hands back to the pipeline.
type Outcome struct {
	Samples []census.Sample
	Details report.Details
	Extras  map[string]float64
	// TruthObserved is set when ground truth came from supplied observations.
	TruthObserved bool
	Sources       Sources
	Parameters    map[string]float64
	// Allocation adds per-capita and Gini contribution to each stratum row.
	Allocation bool
}

// Driver configures the pipeline for one audit domain.
type Driver struct {
	Name        string
	Title       string
	Calibration func(*Parameters) simulate.Calibration
	GapMetrics  []metrics.Spec
	Build       func(*Env) (*Outcome, error)
	Findings    []report.FindingRule
}

// Result is the outcome of one domain within RunAll. Exactly one of Report
// and Degraded is set when Err is nil.
type Result struct {
	Domain   string
	Report   *audit.AuditReport
	Degraded *audit.DegradedReport
	Err      error
	Elapsed  time.Duration
}

// Pipeline runs drivers against a dataset. It holds no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	params *Parameters
	rng    ports.RNGPort
	logger *zap.Logger
}

// NewPipeline validates the parameters once for every run.
func NewPipeline(params *Parameters, rng ports.RNGPort, logger *zap.Logger) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{params: params, rng: rng, logger: logger}, nil
}

// RunAll audits every driver. With workers > 1 domains run concurrently;
// results keep driver order. With failFast, the first domain error cancels
// the run; otherwise failed domains yield a degraded report.
func (p *Pipeline) RunAll(ctx context.Context, ds *census.Dataset, drivers []Driver, workers int, failFast bool) ([]Result, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(drivers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, d := range drivers {
		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			r, err := p.Run(ds, d)
			results[i] = Result{Domain: d.Name, Report: r, Elapsed: time.Since(start)}
			if err == nil {
				p.logger.Info("domain audited",
					zap.String("domain", d.Name),
					zap.Int("samples", r.Summary.SampleCount),
					zap.String("content_hash", r.ContentHash.Short()),
					zap.Duration("elapsed", results[i].Elapsed))
				return nil
			}
			err = apperrors.Wrapf(err, "%s audit failed", d.Name)
			if failFast {
				return err
			}
			p.logger.Warn("domain audit degraded", zap.String("domain", d.Name), zap.Error(err))
			results[i].Degraded = &audit.DegradedReport{
				Domain:    d.Name,
				Status:    "failed",
				ErrorCode: errorCode(err),
				Error:     err.Error(),
			}
			results[i].Err = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Run audits one domain. It is synchronous and deterministic for a given
// dataset, parameter set and seed.
func (p *Pipeline) Run(ds *census.Dataset, d Driver) (*audit.AuditReport, error) {
	labels := p.params.Labels()
	strata, err := stratify.Quantile(ds.Entities, p.params.StratifyOn, labels)
	if err != nil {
		return nil, err
	}
	var categories *stratify.Assignment
	if p.params.CategoryOn != "" {
		categories, err = stratify.Categorical(ds.Entities, p.params.CategoryOn, p.params.CategoryThresholds)
		if errors.Is(err, core.ErrInsufficientData) {
			p.logger.Debug("no categorical strata", zap.String("domain", d.Name), zap.String("attribute", string(p.params.CategoryOn)))
			categories = nil
		} else if err != nil {
			return nil, err
		}
	}

	cal := d.Calibration(p.params)
	sim, err := simulate.New(p.rng, d.Name, cal, labels)
	if err != nil {
		return nil, err
	}

	env := &Env{
		Dataset:    ds,
		Params:     p.params,
		Strata:     strata,
		Categories: categories,
		Simulator:  sim,
		domain:     d.Name,
		rng:        p.rng,
	}
	out, err := d.Build(env)
	if err != nil {
		return nil, err
	}
	if len(out.Samples) == 0 {
		return nil, core.NewEmptyInputError(d.Name + " produced no samples")
	}

	overall, err := metrics.Row(metrics.PairsOf(out.Samples))
	if err != nil {
		return nil, err
	}

	quantGroups := groupSamples(out.Samples, strata, audit.KindQuantile, func(s census.Sample) int { return s.Stratum })
	byStratum, err := stratumRows(quantGroups, strata, ds, out.Allocation, out.Samples)
	if err != nil {
		return nil, err
	}

	var catGroups []metrics.Group
	var byCategory []audit.StratumMetrics
	if categories != nil {
		catGroups = groupSamples(out.Samples, categories, audit.KindCategorical, func(s census.Sample) int { return s.Category })
		if byCategory, err = stratumRows(catGroups, categories, ds, false, nil); err != nil {
			return nil, err
		}
	}

	var gaps []audit.EquityGap
	for _, groups := range [][]metrics.Group{quantGroups, catGroups} {
		if groups == nil {
			continue
		}
		for _, spec := range d.GapMetrics {
			gap, err := metrics.Gap(spec, groups)
			if errors.Is(err, core.ErrInsufficientData) {
				p.logger.Debug("equity gap skipped", zap.String("domain", d.Name), zap.String("metric", spec.Name), zap.Error(err))
				continue
			}
			if err != nil {
				return nil, err
			}
			gaps = append(gaps, gap)
		}
	}

	summary := audit.Summary{
		SampleCount:      len(out.Samples),
		EntityCount:      countEntities(out.Samples),
		ExcludedEntities: len(strata.Excluded),
		Overall:          overall,
		Extras:           out.Extras,
	}

	return report.Assemble(report.Input{
		Domain:     d.Name,
		Title:      d.Title,
		Summary:    summary,
		ByStratum:  byStratum,
		ByCategory: byCategory,
		Gaps:       gaps,
		Findings:   d.Findings,
		Details:    out.Details,
		Provenance: p.provenance(ds, out, cal),
	})
}

func (p *Pipeline) provenance(ds *census.Dataset, out *Outcome, cal simulate.Calibration) audit.Provenance {
	prov := audit.Provenance{
		Real:        []string{},
		Calibrated:  append([]string{}, out.Sources.Calibrated...),
		Simulated:   append([]string{}, out.Sources.Simulated...),
		Calibration: cal.Record(),
		Parameters:  provenanceParams(out.Parameters, p.params.StrataCount, p.rng.BaseSeed()),
		Seed:        p.rng.BaseSeed(),
	}
	switch ds.EntitySource {
	case census.SourceFile:
		prov.Real = append(prov.Real, fmt.Sprintf("census demographics (%s)", ds.EntityOrigin))
	default:
		prov.Simulated = append(prov.Simulated, "census demographics (synthetic tracts)")
	}
	prov.Real = append(prov.Real, out.Sources.Real...)

	switch {
	case ds.EntitySource == census.SourceFile && out.TruthObserved:
		prov.DataType = audit.DataReal
	case ds.EntitySource == census.SourceFile:
		prov.DataType = audit.DataCalibrated
	default:
		prov.DataType = audit.DataSimulated
	}
	return prov
}

// groupSamples buckets samples by stratum index. Samples whose index is out
// of range (no categorical stratum) are left out.
func groupSamples(samples []census.Sample, a *stratify.Assignment, kind audit.StratumKind, index func(census.Sample) int) []metrics.Group {
	groups := make([]metrics.Group, a.Count())
	for i, label := range a.Labels {
		groups[i] = metrics.Group{Label: label, Kind: kind}
	}
	for _, s := range samples {
		i := index(s)
		if i < 0 || i >= len(groups) {
			continue
		}
		groups[i].Samples = append(groups[i].Samples, s)
	}
	return groups
}

func stratumRows(groups []metrics.Group, a *stratify.Assignment, ds *census.Dataset, allocation bool, all []census.Sample) ([]audit.StratumMetrics, error) {
	entities := ds.EntityIndex()
	var contributions []float64
	if allocation {
		var err error
		if contributions, err = giniContributions(all, len(groups)); err != nil {
			return nil, err
		}
	}

	rows := make([]audit.StratumMetrics, len(groups))
	for i, g := range groups {
		row := audit.StratumMetrics{
			Label: g.Label,
			Kind:  g.Kind,
			Index: i,
			Count: len(g.Samples),
		}
		for _, id := range a.Groups[i] {
			row.Population += entities[id].Population
		}
		if len(g.Samples) == 0 {
			row.Absent = true
			rows[i] = row
			continue
		}
		m, err := metrics.Row(metrics.PairsOf(g.Samples))
		if err != nil {
			return nil, fmt.Errorf("stratum %s: %w", g.Label, err)
		}
		row.MetricsRow = &m
		if allocation {
			pc, err := metrics.SpecPerCapita.Aggregate(g.Samples)
			if err != nil {
				return nil, fmt.Errorf("stratum %s: %w", g.Label, err)
			}
			row.PerCapita = &pc
			if contributions != nil {
				c := contributions[i]
				row.GiniContribution = &c
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// giniContributions splits the Gini of predicted values by stratum. It
// returns nil when nothing was allocated.
func giniContributions(samples []census.Sample, strata int) ([]float64, error) {
	values := make([]float64, len(samples))
	groups := make([]int, len(samples))
	var total float64
	for i, s := range samples {
		values[i] = s.Prediction
		groups[i] = s.Stratum
		total += s.Prediction
	}
	if total == 0 {
		return nil, nil
	}
	return metrics.GiniContributions(values, groups, strata)
}

func countEntities(samples []census.Sample) int {
	seen := make(map[core.EntityID]struct{}, len(samples))
	for _, s := range samples {
		seen[s.EntityID] = struct{}{}
	}
	return len(seen)
}

func errorCode(err error) string {
	switch {
	case core.IsConfigurationError(err):
		return apperrors.CodeConfigInvalid
	case core.IsDataError(err):
		return apperrors.CodeInvalidInput
	case core.IsIntegrityError(err):
		return apperrors.CodeIntegrity
	default:
		return apperrors.CodeAuditFailed
	}
}
