package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"equityaudit/domain/census"
	"equityaudit/domain/core"
	"equityaudit/domain/run"
	"equityaudit/internal/engine"
	"equityaudit/internal/errors"
	"equityaudit/ports"
)

// RunOptions selects what one audit run does.
type RunOptions struct {
	Domains  []string
	Workers  int
	FailFast bool
}

// RunSummary is what a completed run produced.
type RunSummary struct {
	RunID        core.RunID
	Manifest     *run.Manifest
	ManifestPath string
	Results      []engine.Result
}

// AuditService loads a dataset, audits the selected domains and writes the
// reports plus the run manifest.
type AuditService struct {
	source      ports.EntitySource
	sink        ports.ReportSink
	pipeline    *engine.Pipeline
	params      *engine.Parameters
	rng         ports.RNGPort
	logger      *zap.Logger
	codeVersion string
	now         func() time.Time
}

// NewAuditService wires a service. The parameters are validated once here.
func NewAuditService(source ports.EntitySource, sink ports.ReportSink, params *engine.Parameters, rng ports.RNGPort, logger *zap.Logger, codeVersion string) (*AuditService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pipeline, err := engine.NewPipeline(params, rng, logger)
	if err != nil {
		return nil, err
	}
	return &AuditService{
		source:      source,
		sink:        sink,
		pipeline:    pipeline,
		params:      params,
		rng:         rng,
		logger:      logger,
		codeVersion: codeVersion,
		now:         time.Now,
	}, nil
}

// Run executes one audit run end to end.
func (s *AuditService) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	drivers, err := engine.Select(opts.Domains)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}

	ds, err := s.source.Load(ctx)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "failed to load entities"))
	}
	if len(ds.Rejected) > 0 {
		s.logger.Warn("input rows rejected", zap.Int("count", len(ds.Rejected)), zap.String("first", ds.Rejected[0]))
	}

	names := make([]string, len(drivers))
	for i, d := range drivers {
		names[i] = d.Name
	}
	datasetHash, err := hashJSON(ds)
	if err != nil {
		return nil, err
	}
	parameterHash, err := hashJSON(s.params)
	if err != nil {
		return nil, err
	}
	fingerprint := run.NewRunFingerprint(datasetHash, parameterHash, names, s.rng.BaseSeed(), s.codeVersion)

	runID := core.NewRunID()
	s.logger.Info("audit run started",
		zap.String("run_id", runID.String()),
		zap.Strings("domains", names),
		zap.Int("entities", len(ds.Entities)),
		zap.Int64("seed", s.rng.BaseSeed()),
		zap.String("fingerprint", fingerprint.Fingerprint.Short()))

	results, err := s.pipeline.RunAll(ctx, ds, drivers, opts.Workers, opts.FailFast)
	if err != nil {
		code := errors.GetCode(err)
		if !errors.IsAppError(err) || code == errors.CodeInternalError {
			code = errors.CodeAuditFailed
		}
		return nil, errors.WithCode(code, err)
	}

	manifest := run.NewManifest(runID, fingerprint, sourceLabel(ds), len(ds.Entities), len(ds.Rejected), s.now())
	for _, res := range results {
		switch {
		case res.Report != nil:
			path, err := s.sink.WriteReport(ctx, res.Report)
			if err != nil {
				return nil, err
			}
			manifest.AddReport(res.Report, filepath.Base(path))
		case res.Degraded != nil:
			path, err := s.sink.WriteDegraded(ctx, res.Degraded)
			if err != nil {
				return nil, err
			}
			manifest.AddDegraded(res.Degraded, filepath.Base(path))
		}
	}
	if err := manifest.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeIntegrity, err)
	}
	manifestPath, err := s.sink.WriteManifest(ctx, manifest)
	if err != nil {
		return nil, err
	}

	s.logger.Info("audit run finished",
		zap.String("run_id", runID.String()),
		zap.Int("reports", len(manifest.Domains)-manifest.Failed()),
		zap.Int("failed", manifest.Failed()),
		zap.String("manifest", manifestPath))

	return &RunSummary{RunID: runID, Manifest: manifest, ManifestPath: manifestPath, Results: results}, nil
}

func sourceLabel(ds *census.Dataset) string {
	return fmt.Sprintf("%s: %s", ds.EntitySource, ds.EntityOrigin)
}

func hashJSON(v any) (core.Hash, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to fingerprint run input")
	}
	return core.NewHash(data), nil
}
