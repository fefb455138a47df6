package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"equityaudit/adapters/rng"
	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/domain/core"
	"equityaudit/internal/config"
	"equityaudit/internal/engine"
	apperrors "equityaudit/internal/errors"
	"equityaudit/internal/metrics"
	"equityaudit/internal/simulate"
	"equityaudit/internal/testkit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPipeline(t *testing.T, seed int64) *engine.Pipeline {
	t.Helper()
	params, err := config.DefaultParameters()
	require.NoError(t, err)
	p, err := engine.NewPipeline(params, rng.New(seed), nil)
	require.NoError(t, err)
	return p
}

// constantDriver predicts a fixed truth of 100 per entity through the
// given calibration.
func constantDriver(cal simulate.Calibration) engine.Driver {
	return engine.Driver{
		Name:        "constant",
		Title:       "Constant truth",
		Calibration: func(*engine.Parameters) simulate.Calibration { return cal },
		GapMetrics:  []metrics.Spec{metrics.SpecMeanErrorPct},
		Build: func(env *engine.Env) (*engine.Outcome, error) {
			out := &engine.Outcome{}
			for _, ent := range env.Stratified() {
				pred, err := env.Predict(ent.ID, "", 100)
				if err != nil {
					return nil, err
				}
				out.Samples = append(out.Samples, env.Sample(ent, "", 100, pred))
			}
			return out, nil
		},
	}
}

func flatCalibration(q1, q5 float64) simulate.Calibration {
	return simulate.Calibration{
		Name:       "constant",
		NoiseBound: 3,
		Strata: map[string]simulate.Distortion{
			"Q1": {Factor: q1},
			"Q2": {Factor: 1},
			"Q3": {Factor: 1},
			"Q4": {Factor: 1},
			"Q5": {Factor: q5},
		},
	}
}

func TestEndToEndEquityGap(t *testing.T) {
	p := newPipeline(t, 42)
	r, err := p.Run(testkit.LadderDataset(100), constantDriver(flatCalibration(0.67, 1.15)))
	require.NoError(t, err)

	require.Len(t, r.ByStratum, 5)
	for _, s := range r.ByStratum {
		assert.Equal(t, 20, s.Count, s.Label)
	}
	q1, ok := r.Stratum("Q1")
	require.True(t, ok)
	q5, ok := r.Stratum("Q5")
	require.True(t, ok)
	assert.InDelta(t, -33.0, *q1.MeanErrorPct, 1e-9)
	assert.InDelta(t, 15.0, *q5.MeanErrorPct, 1e-9)

	require.NotNil(t, r.EquityGap)
	gap := r.EquityGap
	assert.Equal(t, "mean_error_pct", gap.Metric)
	assert.Equal(t, audit.KindQuantile, gap.Kind)
	assert.Equal(t, "Q5", gap.BestStratum)
	assert.Equal(t, "Q1", gap.WorstStratum)
	assert.InDelta(t, 48.0, gap.Gap, 1e-9)
	require.NotNil(t, gap.GapPct)
	assert.InDelta(t, 48.0, *gap.GapPct, 1e-9)

	assert.Equal(t, audit.DataCalibrated, r.Provenance.DataType)
	assert.Equal(t, int64(42), r.Provenance.Seed)
	assert.False(t, r.ContentHash.IsEmpty())
}

func TestRunIsDeterministic(t *testing.T) {
	ds := testkit.LadderDataset(60)
	for _, d := range engine.Drivers() {
		t.Run(d.Name, func(t *testing.T) {
			a, err := newPipeline(t, 7).Run(ds, d)
			require.NoError(t, err)
			b, err := newPipeline(t, 7).Run(ds, d)
			require.NoError(t, err)
			assert.Equal(t, a.ContentHash, b.ContentHash)

			c, err := newPipeline(t, 8).Run(ds, d)
			require.NoError(t, err)
			assert.NotEqual(t, a.ContentHash, c.ContentHash)
		})
	}
}

func TestVolumeUsesObservations(t *testing.T) {
	ds := testkit.LadderDataset(50)
	ds.Observations = map[string][]census.Observation{}
	for _, e := range ds.Entities {
		for _, key := range []string{"2022", "2023"} {
			ds.Observations[engine.DomainVolume] = append(ds.Observations[engine.DomainVolume],
				census.Observation{EntityID: e.ID, Key: key, Value: 400})
		}
	}

	r, err := newPipeline(t, 42).Run(ds, engine.VolumeDriver())
	require.NoError(t, err)
	assert.Equal(t, audit.DataReal, r.Provenance.DataType)
	assert.Equal(t, 100, r.Summary.SampleCount)
	assert.Equal(t, 50, r.Summary.EntityCount)
	assert.InDelta(t, 100.0, r.Summary.Extras["counters"], 1e-9)
	assert.InDelta(t, 40000.0, r.Summary.Extras["total_truth"], 1e-9)
	assert.Contains(t, r.Provenance.Real, "counter volumes (observations file)")
}

func TestVolumeSynthetic(t *testing.T) {
	r, err := newPipeline(t, 42).Run(testkit.LadderDataset(50), engine.VolumeDriver())
	require.NoError(t, err)

	assert.Equal(t, audit.DataCalibrated, r.Provenance.DataType)
	assert.Equal(t, 50, r.Summary.SampleCount)
	// Ground truth is population/divisor scaled by a seasonal factor in [0.8, 1.2).
	assert.InDelta(t, 50*1000/20.0, r.Summary.Extras["total_truth"], 50*1000/20.0*0.2)

	q1, _ := r.Stratum("Q1")
	q5, _ := r.Stratum("Q5")
	assert.Less(t, *q1.MeanErrorPct, *q5.MeanErrorPct)
	require.NotEmpty(t, r.ByCategory)
	assert.NotEmpty(t, r.Findings)
}

func TestCrashClassificationAndTimeSeries(t *testing.T) {
	r, err := newPipeline(t, 42).Run(testkit.LadderDataset(100), engine.CrashDriver())
	require.NoError(t, err)

	assert.Equal(t, 500, r.Summary.SampleCount)
	assert.InDelta(t, 5.0, r.Summary.Extras["periods"], 1e-9)
	require.Len(t, r.TimeSeries, 25)
	assert.Equal(t, "2019", r.TimeSeries[0].Period)
	assert.Equal(t, "2023", r.TimeSeries[len(r.TimeSeries)-1].Period)

	require.NotNil(t, r.Classification)
	c := r.Classification
	assert.Equal(t, 500, c.Overall.Samples)
	assert.Equal(t, 500, c.Overall.TN+c.Overall.FP+c.Overall.FN+c.Overall.TP)
	assert.Equal(t, 5, len(c.ByStratum)+len(c.Skipped))
	for _, m := range c.ByStratum {
		assert.GreaterOrEqual(t, m.Recall, 0.0)
		assert.LessOrEqual(t, m.Recall, 1.0)
	}
}

func TestInfrastructureRespectsBudget(t *testing.T) {
	params, err := config.DefaultParameters()
	require.NoError(t, err)
	params.Infrastructure.Budget = 1_000_000
	p, err := engine.NewPipeline(params, rng.New(42), nil)
	require.NoError(t, err)

	r, err := p.Run(testkit.LadderDataset(80), engine.InfrastructureDriver())
	require.NoError(t, err)
	require.NotNil(t, r.Allocation)
	a := r.Allocation

	assert.LessOrEqual(t, a.AI.TotalAllocated, 1_000_000.0)
	assert.LessOrEqual(t, a.NeedBased.TotalAllocated, 1_000_000.0)
	require.Len(t, a.ByStratum, 5)

	var ai, need float64
	for _, s := range a.ByStratum {
		ai += s.AITotal
		need += s.NeedTotal
		assert.Equal(t, 16000, s.Population)
	}
	assert.InDelta(t, a.AI.TotalAllocated, ai, 1e-6)
	assert.InDelta(t, a.NeedBased.TotalAllocated, need, 1e-6)
	assert.InDelta(t, a.AI.GiniCoefficient-a.NeedBased.GiniCoefficient, a.GiniImprovement, 1e-12)
	assert.Equal(t, [2]string{"Q1", "Q5"}, a.AI.DisparateImpactGroups)
	assert.Greater(t, a.NeedBased.ExpectedDangerReduction, 0.0)

	for _, s := range r.ByStratum {
		require.NotNil(t, s.PerCapita, s.Label)
		require.NotNil(t, s.GiniContribution, s.Label)
	}
	assert.InDelta(t, 1_000_000.0, r.Provenance.Parameters["budget"], 1e-9)
}

func TestDemandFunnelAndDetection(t *testing.T) {
	r, err := newPipeline(t, 42).Run(testkit.LadderDataset(100), engine.DemandDriver())
	require.NoError(t, err)

	require.NotNil(t, r.Funnel)
	f := r.Funnel
	require.Len(t, f.Overall.Stages, 4)
	assert.InDelta(t, 100.0, f.Overall.Stages[0].Percent, 1e-9)
	for _, st := range f.Overall.Stages {
		assert.GreaterOrEqual(t, st.Percent, 0.0, st.Stage)
		assert.LessOrEqual(t, st.Percent, 100.0, st.Stage)
	}
	assert.Len(t, f.ByStratum, 5)
	assert.InDelta(t, f.TotalPotential-f.TotalActual, f.TotalSuppressed, 1e-6)

	require.NotNil(t, r.Detection)
	require.Len(t, r.Detection.Detectors, 2)
	assert.Equal(t, engine.DetectorNaive, r.Detection.Detectors[0].Name)
	assert.Equal(t, engine.DetectorSophisticated, r.Detection.Detectors[1].Name)
	assert.Equal(t, "expert_baseline", r.Detection.Baseline.Name)

	require.NotNil(t, r.Correlations)
	m := r.Correlations
	require.Len(t, m.Variables, 5)
	for i := range m.Values {
		for j := range m.Values[i] {
			if m.Values[i][j] == nil {
				assert.Nil(t, m.Values[j][i])
				continue
			}
			assert.InDelta(t, *m.Values[i][j], *m.Values[j][i], 1e-12)
		}
	}
}

func TestRunAllKeepsDriverOrder(t *testing.T) {
	results, err := newPipeline(t, 42).RunAll(context.Background(), testkit.LadderDataset(60), engine.Drivers(), 4, true)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, name := range engine.Names() {
		assert.Equal(t, name, results[i].Domain)
		assert.NotNil(t, results[i].Report)
		assert.Nil(t, results[i].Degraded)
	}
}

func failingDriver() engine.Driver {
	d := constantDriver(flatCalibration(1, 1))
	d.Name = "broken"
	d.Build = func(*engine.Env) (*engine.Outcome, error) {
		return &engine.Outcome{}, nil
	}
	return d
}

func TestRunAllFailFast(t *testing.T) {
	drivers := []engine.Driver{engine.VolumeDriver(), failingDriver()}
	_, err := newPipeline(t, 42).RunAll(context.Background(), testkit.LadderDataset(40), drivers, 1, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrEmptyInput))
}

func TestRunAllDegrades(t *testing.T) {
	drivers := []engine.Driver{engine.VolumeDriver(), failingDriver()}
	results, err := newPipeline(t, 42).RunAll(context.Background(), testkit.LadderDataset(40), drivers, 2, false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NotNil(t, results[0].Report)
	require.NotNil(t, results[1].Degraded)
	assert.Equal(t, "broken", results[1].Degraded.Domain)
	assert.Equal(t, "failed", results[1].Degraded.Status)
	assert.Equal(t, apperrors.CodeInvalidInput, results[1].Degraded.ErrorCode)
	assert.Error(t, results[1].Err)
}

func TestRunAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newPipeline(t, 42).RunAll(ctx, testkit.LadderDataset(40), engine.Drivers(), 2, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTooFewEntities(t *testing.T) {
	_, err := newPipeline(t, 42).Run(testkit.LadderDataset(3), engine.VolumeDriver())
	assert.True(t, errors.Is(err, core.ErrInsufficientData) || errors.Is(err, core.ErrInvalidStratification), err)
}

func TestNewPipelineRejectsBadParameters(t *testing.T) {
	params, err := config.DefaultParameters()
	require.NoError(t, err)
	params.StrataCount = 1
	_, err = engine.NewPipeline(params, rng.New(1), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestSelect(t *testing.T) {
	all, err := engine.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	ds, err := engine.Select([]string{" demand", "volume", "demand"})
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, engine.DomainVolume, ds[0].Name)
	assert.Equal(t, engine.DomainDemand, ds[1].Name)

	_, err = engine.Select([]string{"parking"})
	assert.True(t, errors.Is(err, core.ErrUnknownDomain))
	assert.Contains(t, err.Error(), "infrastructure")
}

func TestFindingsAreReadable(t *testing.T) {
	results, err := newPipeline(t, 42).RunAll(context.Background(), testkit.LadderDataset(100), engine.Drivers(), 1, true)
	require.NoError(t, err)
	for _, res := range results {
		for _, f := range res.Report.Findings {
			assert.NotEmpty(t, f, res.Domain)
			assert.NotContains(t, f, "NaN", res.Domain)
		}
	}
}
