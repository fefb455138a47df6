package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityaudit/adapters/rng"
	"equityaudit/domain/audit"
	"equityaudit/domain/core"
	"equityaudit/domain/run"
	"equityaudit/internal/config"
	apperrors "equityaudit/internal/errors"
	"equityaudit/internal/report"
	"equityaudit/internal/testkit"
)

func newService(t *testing.T, source testkit.StaticSource, sink *testkit.MemorySink) *AuditService {
	t.Helper()
	params, err := config.LoadParameters("")
	require.NoError(t, err)
	svc, err := NewAuditService(source, sink, params, rng.New(42), nil, "test")
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestRunWritesEveryDomain(t *testing.T) {
	sink := testkit.NewMemorySink()
	svc := newService(t, testkit.StaticSource{Dataset: testkit.LadderDataset(50)}, sink)

	summary, err := svc.Run(context.Background(), RunOptions{Workers: 2, FailFast: true})
	require.NoError(t, err)

	assert.Len(t, sink.Reports, 4)
	require.NotNil(t, sink.Manifest)
	assert.Equal(t, 0, sink.Manifest.Failed())
	assert.Equal(t, summary.RunID, sink.Manifest.RunID)
	for _, entry := range sink.Manifest.Domains {
		assert.Equal(t, run.StatusOK, entry.Status)
		r := sink.Reports[entry.Domain]
		require.NotNil(t, r, entry.Domain)
		assert.Equal(t, r.ContentHash, entry.ContentHash)
		assert.Equal(t, core.ComputeParameterHash(r.Provenance.Parameters), entry.ParameterHash)
		assert.NoError(t, report.Verify(r))
		assert.Equal(t, audit.DataCalibrated, r.Provenance.DataType)
	}
}

func TestRunIsReproducible(t *testing.T) {
	ds := testkit.LadderDataset(40)
	a := testkit.NewMemorySink()
	b := testkit.NewMemorySink()

	_, err := newService(t, testkit.StaticSource{Dataset: ds}, a).Run(context.Background(), RunOptions{Domains: []string{"volume", "crash"}})
	require.NoError(t, err)
	_, err = newService(t, testkit.StaticSource{Dataset: ds}, b).Run(context.Background(), RunOptions{Domains: []string{"crash", "volume"}, Workers: 4})
	require.NoError(t, err)

	for domain, r := range a.Reports {
		assert.Equal(t, r.ContentHash, b.Reports[domain].ContentHash, domain)
	}
	assert.Equal(t, a.Manifest.Fingerprint, b.Manifest.Fingerprint)
	assert.Equal(t, []string{"volume", "crash"}, a.Manifest.Fingerprint.Domains)
}

func TestRunUnknownDomain(t *testing.T) {
	svc := newService(t, testkit.StaticSource{Dataset: testkit.LadderDataset(20)}, testkit.NewMemorySink())
	_, err := svc.Run(context.Background(), RunOptions{Domains: []string{"parking"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownDomain))
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestRunSourceFailure(t *testing.T) {
	svc := newService(t, testkit.StaticSource{Err: core.NewEmptyInputError("nothing")}, testkit.NewMemorySink())
	_, err := svc.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
}

func TestRunDegradesWithoutFailFast(t *testing.T) {
	// Three tracts cannot fill five strata, so every domain fails.
	sink := testkit.NewMemorySink()
	svc := newService(t, testkit.StaticSource{Dataset: testkit.LadderDataset(3)}, sink)

	_, err := svc.Run(context.Background(), RunOptions{Domains: []string{"volume"}, FailFast: false})
	require.NoError(t, err)
	require.Contains(t, sink.Degraded, "volume")
	assert.Equal(t, apperrors.CodeInvalidInput, sink.Degraded["volume"].ErrorCode)
	assert.Equal(t, 1, sink.Manifest.Failed())

	_, err = newService(t, testkit.StaticSource{Dataset: testkit.LadderDataset(3)}, testkit.NewMemorySink()).
		Run(context.Background(), RunOptions{Domains: []string{"volume"}, FailFast: true})
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
	assert.Equal(t, apperrors.CodeAuditFailed, apperrors.GetCode(err))
}

func TestRunSinkFailure(t *testing.T) {
	sink := testkit.NewMemorySink()
	sink.FailOn = "volume"
	svc := newService(t, testkit.StaticSource{Dataset: testkit.LadderDataset(30)}, sink)
	_, err := svc.Run(context.Background(), RunOptions{Domains: []string{"volume"}})
	assert.Error(t, err)
	assert.Nil(t, sink.Manifest)
}
