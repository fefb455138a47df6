package ports

import (
	"context"

	"equityaudit/domain/audit"
	"equityaudit/domain/run"
)

// ReportSink persists audit output. Each method returns where the artifact
// was written.
type ReportSink interface {
	WriteReport(ctx context.Context, r *audit.AuditReport) (string, error)
	WriteDegraded(ctx context.Context, d *audit.DegradedReport) (string, error)
	WriteManifest(ctx context.Context, m *run.Manifest) (string, error)
}
