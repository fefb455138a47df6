// Package testkit provides deterministic data sources and in-memory sinks
// for running audits without files.
package testkit

import (
	"context"
	"fmt"
	"sync"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/domain/core"
	"equityaudit/domain/run"
)

// StaticSource serves a fixed dataset.
type StaticSource struct {
	Dataset *census.Dataset
	Err     error
}

// Load implements ports.EntitySource.
func (s StaticSource) Load(ctx context.Context) (*census.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Dataset, nil
}

// Tracts builds one entity per income, in order, with ids T001, T002, ...
// Population is 1000 and minority share falls linearly with position.
func Tracts(incomes ...float64) []census.Entity {
	out := make([]census.Entity, len(incomes))
	for i, inc := range incomes {
		share := 0.9
		if len(incomes) > 1 {
			share = 0.9 - 0.8*float64(i)/float64(len(incomes)-1)
		}
		out[i] = census.Entity{
			ID:         core.EntityID(fmt.Sprintf("T%03d", i+1)),
			Population: 1000,
			Attributes: map[census.Attribute]float64{
				census.AttrMedianIncome: inc,
				census.AttrPctMinority:  share,
			},
		}
	}
	return out
}

// LadderDataset is n file-sourced tracts with strictly increasing incomes.
func LadderDataset(n int) *census.Dataset {
	incomes := make([]float64, n)
	for i := range incomes {
		incomes[i] = 20000 + float64(i)*1500
	}
	return &census.Dataset{
		Entities:     Tracts(incomes...),
		EntitySource: census.SourceFile,
		EntityOrigin: "testkit ladder",
	}
}

// MemorySink records everything written to it. It is safe for concurrent use.
type MemorySink struct {
	mu       sync.Mutex
	Reports  map[string]*audit.AuditReport
	Degraded map[string]*audit.DegradedReport
	Manifest *run.Manifest
	// FailOn makes writes for the named domain fail.
	FailOn string
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		Reports:  map[string]*audit.AuditReport{},
		Degraded: map[string]*audit.DegradedReport{},
	}
}

// WriteReport implements ports.ReportSink.
func (s *MemorySink) WriteReport(ctx context.Context, r *audit.AuditReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Domain == s.FailOn {
		return "", fmt.Errorf("sink refused %s", r.Domain)
	}
	s.Reports[r.Domain] = r
	return "memory://" + r.Domain + "-report.json", nil
}

// WriteDegraded implements ports.ReportSink.
func (s *MemorySink) WriteDegraded(ctx context.Context, d *audit.DegradedReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Degraded[d.Domain] = d
	return "memory://" + d.Domain + "-report.json", nil
}

// WriteManifest implements ports.ReportSink.
func (s *MemorySink) WriteManifest(ctx context.Context, m *run.Manifest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Manifest = m
	return "memory://metadata.json", nil
}
