// Package reportfile writes audit reports and the run manifest as JSON files.
package reportfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"equityaudit/domain/audit"
	"equityaudit/domain/run"
	"equityaudit/internal/errors"
)

// ManifestFile is the run manifest's file name.
const ManifestFile = "metadata.json"

// ReportFile is the file name of a domain's report.
func ReportFile(domain string) string {
	return domain + "-report.json"
}

// Writer writes one JSON file per domain plus metadata.json into a directory.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates a writer rooted at dir. The directory is created on
// first write.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{dir: dir, logger: logger}
}

// WriteReport implements ports.ReportSink.
func (w *Writer) WriteReport(ctx context.Context, r *audit.AuditReport) (string, error) {
	return w.write(ctx, ReportFile(r.Domain), r)
}

// WriteDegraded implements ports.ReportSink.
func (w *Writer) WriteDegraded(ctx context.Context, d *audit.DegradedReport) (string, error) {
	return w.write(ctx, ReportFile(d.Domain), d)
}

// WriteManifest implements ports.ReportSink.
func (w *Writer) WriteManifest(ctx context.Context, m *run.Manifest) (string, error) {
	return w.write(ctx, ManifestFile, m)
}

// write marshals v and replaces name atomically, so a reader never sees a
// half-written report.
func (w *Writer) write(ctx context.Context, name string, v any) (string, error) {
	path := filepath.Join(w.dir, name)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.OutputFailed(path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", errors.OutputFailed(path, err)
	}
	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return "", errors.OutputFailed(path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.OutputFailed(path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.OutputFailed(path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.OutputFailed(path, err)
	}
	w.logger.Debug("wrote file", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*audit.AuditReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r audit.AuditReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if r.Domain == "" || r.ContentHash.IsEmpty() {
		return nil, fmt.Errorf("%s is not an audit report", path)
	}
	return &r, nil
}

// ReadManifest loads metadata.json from dir.
func ReadManifest(dir string) (*run.Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m run.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}
