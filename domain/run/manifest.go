package run

import (
	"time"

	"equityaudit/domain/audit"
	"equityaudit/domain/core"
)

// Manifest is written next to the reports as metadata.json. Everything but
// GeneratedAt and RunID is a pure function of the run's inputs.
type Manifest struct {
	RunID       core.RunID     `json:"run_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Seed        int64          `json:"seed"`
	CodeVersion string         `json:"code_version"`
	DataSource  string         `json:"data_source"`
	Entities    int            `json:"entities"`
	Rejected    int            `json:"rejected_rows"`
	Domains     []DomainEntry  `json:"domains"`
	Fingerprint RunFingerprint `json:"fingerprint"` // Determinism fingerprint
}

// NewManifest starts a manifest for a run over the given fingerprint.
func NewManifest(runID core.RunID, fingerprint RunFingerprint, dataSource string, entities, rejected int, generatedAt time.Time) *Manifest {
	return &Manifest{
		RunID:       runID,
		GeneratedAt: generatedAt.UTC(),
		Seed:        fingerprint.Seed,
		CodeVersion: fingerprint.CodeVersion,
		DataSource:  dataSource,
		Entities:    entities,
		Rejected:    rejected,
		Fingerprint: fingerprint,
	}
}

// AddReport records a successful domain.
func (m *Manifest) AddReport(r *audit.AuditReport, file string) {
	m.Domains = append(m.Domains, DomainEntry{
		Domain:        r.Domain,
		Status:        StatusOK,
		File:          file,
		ContentHash:   r.ContentHash,
		ParameterHash: core.ComputeParameterHash(r.Provenance.Parameters),
		DataType:      string(r.Provenance.DataType),
	})
}

// AddDegraded records a failed domain.
func (m *Manifest) AddDegraded(d *audit.DegradedReport, file string) {
	m.Domains = append(m.Domains, DomainEntry{
		Domain:    d.Domain,
		Status:    StatusFailed,
		File:      file,
		ErrorCode: d.ErrorCode,
		Error:     d.Error,
	})
}

// Failed counts the domains that did not produce a report.
func (m *Manifest) Failed() int {
	n := 0
	for _, d := range m.Domains {
		if d.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewInvalidInputError("run_manifest.run_id", "cannot be empty")
	}
	if m.Fingerprint.Fingerprint.IsEmpty() {
		return core.NewInvalidInputError("run_manifest.fingerprint", "cannot be empty")
	}
	if m.CodeVersion == "" {
		return core.NewInvalidInputError("run_manifest.code_version", "cannot be empty")
	}
	for _, d := range m.Domains {
		if d.Status == StatusOK && d.ContentHash.IsEmpty() {
			return core.NewInvalidInputError("run_manifest.domains", d.Domain+" has no content hash")
		}
	}
	return nil
}
