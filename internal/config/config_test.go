package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityaudit/domain/core"
	"equityaudit/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"ENTITIES_FILE", "OBSERVATIONS_FILE", "CALIBRATION_FILE", "OUTPUT_DIR", "SEED", "WORKERS", "DOMAINS", "FAIL_FAST", "SYNTHETIC_TRACTS", "STRATA_COUNT"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Run.Seed)
	assert.Equal(t, 1, cfg.Run.Workers)
	assert.True(t, cfg.Run.FailFast)
	assert.Empty(t, cfg.Run.Domains)
	assert.Equal(t, "./out/data", cfg.Output.Dir)
	assert.Equal(t, 60, cfg.Input.SyntheticTracts)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SEED", "7")
	t.Setenv("WORKERS", "4")
	t.Setenv("DOMAINS", "crash, volume,,")
	t.Setenv("FAIL_FAST", "false")
	t.Setenv("OUTPUT_DIR", "/tmp/reports")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Run.Seed)
	assert.Equal(t, 4, cfg.Run.Workers)
	assert.Equal(t, []string{"crash", "volume"}, cfg.Run.Domains)
	assert.False(t, cfg.Run.FailFast)
	assert.Equal(t, "/tmp/reports", cfg.Output.Dir)
}

func TestLoadRejectsBadSeed(t *testing.T) {
	t.Setenv("SEED", "forty-two")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestValidate(t *testing.T) {
	base := Config{
		Run:    RunConfig{Workers: 1},
		Output: OutputConfig{Dir: "out"},
		Input:  InputConfig{SyntheticTracts: 60},
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"no workers":          func(c *Config) { c.Run.Workers = 0 },
		"no output":           func(c *Config) { c.Output.Dir = "" },
		"one stratum":         func(c *Config) { c.Calibration.StrataCount = 1 },
		"too few tracts":      func(c *Config) { c.Input.SyntheticTracts = 1 },
		"orphan observations": func(c *Config) { c.Input.ObservationsFile = "obs.csv" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDefaultParametersValidate(t *testing.T) {
	p, err := LoadParameters("")
	require.NoError(t, err)
	assert.Equal(t, 5, p.StrataCount)
	assert.Len(t, p.Crash.Years, 5)
	assert.Equal(t, 0.75, p.Volume.Calibration.Strata["Q1"].Factor)
	assert.Equal(t, 0.10, p.Demand.BaseRate)
	require.NotNil(t, p.Crash.Calibration.Strata["Q1"].Floor)
}

func TestParametersValidateReportsFirstDomain(t *testing.T) {
	p, err := LoadParameters("")
	require.NoError(t, err)
	p.Demand.Calibration.NoiseBound = 0
	p.Infrastructure.Calibration.NoiseBound = 0
	p.Crash.Calibration.NoiseBound = 0
	p.Volume.Calibration.NoiseBound = 0

	for i := 0; i < 20; i++ {
		err := p.Validate()
		require.Error(t, err)
		assert.Regexp(t, "^volume: ", err.Error())
		assert.True(t, core.IsConfigurationError(err))
	}

	p.Volume.Calibration.NoiseBound = 0.5
	assert.Regexp(t, "^crash: ", p.Validate().Error())
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParametersOverlay(t *testing.T) {
	path := writeFile(t, `
volume:
  calibration:
    strata:
      Q1: {factor: 0.5, noise_sd: 0}
crash:
  years: [2022, 2023]
`)
	p, err := LoadParameters(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, p.Volume.Calibration.Strata["Q1"].Factor)
	assert.Nil(t, p.Volume.Calibration.Strata["Q1"].Floor, "map entries replace whole rows")
	assert.Equal(t, 0.85, p.Volume.Calibration.Strata["Q2"].Factor, "other rows keep their defaults")
	assert.Equal(t, []int{2022, 2023}, p.Crash.Years)
	assert.Equal(t, 35.0, p.Crash.BaseRate)
}

func TestLoadParametersRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "volume:\n  populaton_divisor: 10\n")
	_, err := LoadParameters(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoadParametersRejectsInvalidCalibration(t *testing.T) {
	path := writeFile(t, `
crash:
  calibration:
    strata:
      Q3: {factor: -1, noise_sd: 1}
`)
	_, err := LoadParameters(path)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, core.ErrInvalidCalibration))
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoadParametersMissingFile(t *testing.T) {
	_, err := LoadParameters(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
