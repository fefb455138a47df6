package reportfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityaudit/domain/audit"
	"equityaudit/domain/core"
	"equityaudit/domain/run"
	apperrors "equityaudit/internal/errors"
	"equityaudit/internal/report"
)

func assembled(t *testing.T) *audit.AuditReport {
	t.Helper()
	mae := 3.25
	pct := -12.5
	r, err := report.Assemble(report.Input{
		Domain: "volume",
		Title:  "Volume estimation bias audit",
		Summary: audit.Summary{
			SampleCount: 2,
			EntityCount: 2,
			Extras:      map[string]float64{"counters": 2},
		},
		ByStratum: []audit.StratumMetrics{
			{Label: "Q1", Kind: audit.KindQuantile, Count: 1, MetricsRow: &audit.MetricsRow{MAE: mae, MeanErrorPct: &pct}},
			{Label: "Q2", Kind: audit.KindQuantile, Index: 1, Absent: true},
		},
		Provenance: audit.Provenance{
			DataType:   audit.DataCalibrated,
			Real:       []string{"census demographics"},
			Calibrated: []string{"counter volumes"},
			Simulated:  []string{},
			Parameters: map[string]float64{"seed": 1},
			Seed:       1,
		},
	})
	require.NoError(t, err)
	return r
}

func TestWriteReportRoundTripKeepsHash(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	w := NewWriter(dir, nil)
	r := assembled(t)

	path, err := w.WriteReport(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "volume-report.json"), path)

	back, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, r.ContentHash, back.ContentHash)
	require.NoError(t, report.Verify(back))
	assert.Nil(t, back.ByStratum[1].MetricsRow, "absent strata carry no metrics")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestReadReportDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path, err := NewWriter(dir, nil).WriteReport(context.Background(), assembled(t))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"mae": 3.25`, `"mae": 1.25`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	back, err := ReadReport(path)
	require.NoError(t, err)
	assert.True(t, errors.Is(report.Verify(back), core.ErrHashMismatch))
}

func TestWriteManifestAndDegraded(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)

	_, err := w.WriteDegraded(context.Background(), &audit.DegradedReport{Domain: "crash", Status: "failed", ErrorCode: "INVALID_INPUT", Error: "no samples"})
	require.NoError(t, err)

	fp := run.NewRunFingerprint("d", "p", []string{"crash"}, 42, "test")
	m := run.NewManifest(core.RunID("run-1"), fp, "synthetic", 10, 0, time.Unix(0, 0))
	m.AddDegraded(&audit.DegradedReport{Domain: "crash", ErrorCode: "INVALID_INPUT"}, ReportFile("crash"))
	_, err = w.WriteManifest(context.Background(), m)
	require.NoError(t, err)

	back, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, fp.Fingerprint, back.Fingerprint.Fingerprint)
	assert.Equal(t, 1, back.Failed())

	_, err = ReadReport(filepath.Join(dir, ReportFile("crash")))
	assert.Error(t, err, "a degraded report is not an audit report")
}

func TestWriteFailsOnUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewWriter(filepath.Join(file, "sub"), nil).WriteReport(context.Background(), assembled(t))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeOutputFailed, apperrors.GetCode(err))
}

func TestVerifyDir(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)
	r := assembled(t)
	path, err := w.WriteReport(context.Background(), r)
	require.NoError(t, err)

	fp := run.NewRunFingerprint("d", "p", []string{"volume"}, 1, "test")
	m := run.NewManifest(core.RunID("run-1"), fp, "file", 2, 0, time.Unix(0, 0))
	m.AddReport(r, filepath.Base(path))
	_, err = w.WriteManifest(context.Background(), m)
	require.NoError(t, err)

	checks, err := VerifyDir(dir)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.NoError(t, checks[0].Err)

	m.Domains[0].ContentHash = core.Hash("0000")
	_, err = w.WriteManifest(context.Background(), m)
	require.NoError(t, err)
	checks, err = VerifyDir(dir)
	require.NoError(t, err)
	assert.True(t, errors.Is(checks[0].Err, core.ErrHashMismatch))
}
