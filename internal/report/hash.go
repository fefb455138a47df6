package report

import (
	"encoding/json"
	"fmt"
	"math"

	"equityaudit/domain/audit"
	"equityaudit/domain/core"
)

// hashPrecision is the number of decimals floats are rounded to before
// hashing, so the hash reflects the reported values and not the last ulp.
const hashPrecision = 6

// ContentHash is the sha256 of the report's canonical JSON with the hash
// field cleared. Struct fields serialise in declaration order and map keys
// sorted, so equal reports always hash equal.
func ContentHash(r *audit.AuditReport) (core.Hash, error) {
	body := *r
	body.ContentHash = ""
	raw, err := json.Marshal(&body)
	if err != nil {
		return "", fmt.Errorf("encode report for hashing: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("decode report for hashing: %w", err)
	}
	canonical, err := json.Marshal(roundFloats(tree))
	if err != nil {
		return "", fmt.Errorf("encode canonical report: %w", err)
	}
	return core.NewHash(canonical), nil
}

// Verify recomputes the content hash and compares it with the stamped one.
func Verify(r *audit.AuditReport) error {
	want, err := ContentHash(r)
	if err != nil {
		return err
	}
	if !want.Equals(r.ContentHash) {
		return fmt.Errorf("%w: report %s carries %s, content hashes to %s", core.ErrHashMismatch, r.Domain, r.ContentHash.Short(), want.Short())
	}
	return nil
}

// roundFloats walks a decoded JSON tree. encoding/json re-marshals maps with
// sorted keys, which fixes key order for the canonical form.
func roundFloats(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = roundFloats(x)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = roundFloats(x)
		}
		return t
	case float64:
		scale := math.Pow(10, hashPrecision)
		r := math.Round(t*scale) / scale
		if r == 0 {
			return 0.0
		}
		return r
	default:
		return v
	}
}
