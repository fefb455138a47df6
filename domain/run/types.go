// Package run describes one execution of the audit engine: what it was
// given and what it produced.
package run

import (
	"fmt"
	"strings"

	"equityaudit/domain/core"
)

// Domain statuses recorded in the manifest.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RunFingerprint ensures deterministic replay: two runs with the same
// fingerprint produce byte-identical reports.
type RunFingerprint struct {
	DatasetHash   core.Hash `json:"dataset_hash"`
	ParameterHash core.Hash `json:"parameter_hash"`
	Domains       []string  `json:"domains"`
	Seed          int64     `json:"seed"`
	CodeVersion   string    `json:"code_version"`
	Fingerprint   core.Hash `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(datasetHash, parameterHash core.Hash, domains []string, seed int64, codeVersion string) RunFingerprint {
	return RunFingerprint{
		DatasetHash:   datasetHash,
		ParameterHash: parameterHash,
		Domains:       append([]string(nil), domains...),
		Seed:          seed,
		CodeVersion:   codeVersion,
		Fingerprint:   computeRunFingerprint(datasetHash, parameterHash, domains, seed, codeVersion),
	}
}

// computeRunFingerprint generates deterministic hash from all determinism parameters
func computeRunFingerprint(datasetHash, parameterHash core.Hash, domains []string, seed int64, codeVersion string) core.Hash {
	data := fmt.Sprintf("dataset:%s|parameters:%s|domains:%s|seed:%d|code:%s",
		datasetHash, parameterHash, strings.Join(domains, ","), seed, codeVersion)
	return core.NewHash([]byte(data))
}

// DomainEntry is the outcome of one domain in a run.
type DomainEntry struct {
	Domain        string    `json:"domain"`
	Status        string    `json:"status"`
	File          string    `json:"file"`
	ContentHash   core.Hash `json:"content_hash,omitempty"`
	ParameterHash core.Hash `json:"parameter_hash,omitempty"`
	DataType      string    `json:"data_type,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Error         string    `json:"error,omitempty"`
}
