// Package report assembles audit results into the immutable, content-hashed
// report consumed downstream.
package report

import (
	"equityaudit/domain/audit"
	"equityaudit/domain/core"
)

// FindingRule renders one finding from an assembled report. It returns
// false when the finding does not apply.
type FindingRule func(r *audit.AuditReport) (string, bool)

// Details are the optional domain-specific sections of a report.
type Details struct {
	Allocation     *audit.AllocationAnalysis
	Classification *audit.ClassificationAnalysis
	TimeSeries     []audit.TimeSeriesPoint
	Funnel         *audit.FunnelAnalysis
	Detection      *audit.DetectionScorecard
	Correlations   *audit.CorrelationMatrix
}

// Input is everything a report is built from.
type Input struct {
	Domain     string
	Title      string
	Summary    audit.Summary
	ByStratum  []audit.StratumMetrics
	ByCategory []audit.StratumMetrics
	// Gaps lists every computed gap; the first is the headline gap.
	Gaps       []audit.EquityGap
	Findings   []FindingRule
	Details    Details
	Provenance audit.Provenance
}

// Assemble validates the input, renders findings from the assembled numbers
// and stamps the content hash.
func Assemble(in Input) (*audit.AuditReport, error) {
	if in.Domain == "" {
		return nil, core.NewInvalidInputError("report.domain", "cannot be empty")
	}
	if len(in.ByStratum) == 0 {
		return nil, core.NewEmptyInputError("report has no strata")
	}
	if err := in.Provenance.Validate(); err != nil {
		return nil, err
	}
	if err := checkReferences(in); err != nil {
		return nil, err
	}

	r := &audit.AuditReport{
		Domain:         in.Domain,
		Title:          in.Title,
		Summary:        in.Summary,
		ByStratum:      in.ByStratum,
		ByCategory:     in.ByCategory,
		EquityGaps:     in.Gaps,
		Findings:       []string{},
		Allocation:     in.Details.Allocation,
		Classification: in.Details.Classification,
		TimeSeries:     in.Details.TimeSeries,
		Funnel:         in.Details.Funnel,
		Detection:      in.Details.Detection,
		Correlations:   in.Details.Correlations,
		Provenance:     in.Provenance,
	}
	if r.EquityGaps == nil {
		r.EquityGaps = []audit.EquityGap{}
	}
	if len(in.Gaps) > 0 {
		headline := in.Gaps[0]
		r.EquityGap = &headline
	}
	for _, rule := range in.Findings {
		if f, ok := rule(r); ok {
			r.Findings = append(r.Findings, f)
		}
	}

	hash, err := ContentHash(r)
	if err != nil {
		return nil, err
	}
	r.ContentHash = hash
	return r, nil
}

// checkReferences ensures every gap names strata that are present, with
// samples, in the list matching the gap's kind.
func checkReferences(in Input) error {
	present := map[audit.StratumKind]map[string]bool{
		audit.KindQuantile:    {},
		audit.KindCategorical: {},
	}
	for _, s := range in.ByStratum {
		present[audit.KindQuantile][s.Label] = !s.Absent
	}
	for _, s := range in.ByCategory {
		present[audit.KindCategorical][s.Label] = !s.Absent
	}
	for _, g := range in.Gaps {
		labels, ok := present[g.Kind]
		if !ok {
			return core.NewReferentialIntegrityError(g.Metric, g.BestStratum)
		}
		for _, label := range []string{g.BestStratum, g.WorstStratum} {
			if !labels[label] {
				return core.NewReferentialIntegrityError(g.Metric, label)
			}
		}
	}
	return nil
}
