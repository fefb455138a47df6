package reportfile

import (
	"fmt"
	"path/filepath"

	"equityaudit/domain/core"
	"equityaudit/domain/run"
	"equityaudit/internal/report"
)

// Check is the verification outcome of one manifest entry.
type Check struct {
	Domain string
	File   string
	Hash   core.Hash
	Err    error
}

// VerifyDir re-hashes every successful report listed in dir's manifest and
// checks it against both the report's own hash and the manifest's record.
func VerifyDir(dir string) ([]Check, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	var checks []Check
	for _, entry := range m.Domains {
		if entry.Status != run.StatusOK {
			continue
		}
		c := Check{Domain: entry.Domain, File: entry.File, Hash: entry.ContentHash}
		r, err := ReadReport(filepath.Join(dir, entry.File))
		switch {
		case err != nil:
			c.Err = err
		case !r.ContentHash.Equals(entry.ContentHash):
			c.Err = fmt.Errorf("%w: manifest records %s, report carries %s", core.ErrHashMismatch, entry.ContentHash.Short(), r.ContentHash.Short())
		default:
			c.Err = report.Verify(r)
		}
		checks = append(checks, c)
	}
	return checks, nil
}
