package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/domain/core"
	"equityaudit/internal/metrics"
	"equityaudit/internal/report"
	"equityaudit/internal/simulate"
)

// DomainInfrastructure audits an AI safety-budget allocator.
const DomainInfrastructure = "infrastructure"

// highNeedPercentile marks the tracts whose true danger makes them high need.
const highNeedPercentile = 75

// InfrastructureDriver compares a greedy allocation driven by perceived
// danger against one driven by true danger, under the same budget.
func InfrastructureDriver() Driver {
	return Driver{
		Name:        DomainInfrastructure,
		Title:       "Infrastructure budget allocation audit",
		Calibration: func(p *Parameters) simulate.Calibration { return p.Infrastructure.Calibration },
		GapMetrics:  []metrics.Spec{metrics.SpecPerCapita},
		Build:       buildInfrastructure,
		Findings: []report.FindingRule{
			adverseImpactFinding,
			giniFinding,
			lowestShareFinding,
			report.GapFinding(metrics.SpecPerCapita.Name),
			report.SignificanceFinding(),
			report.ExclusionFinding(),
		},
	}
}

// tract is one candidate for funding.
type tract struct {
	entity    census.Entity
	stratum   int
	income    float64
	danger    float64
	perceived float64
}

// award is the project a strategy funded in one tract.
type award struct {
	project string
	cost    float64
	impact  float64
}

func buildInfrastructure(env *Env) (*Outcome, error) {
	p := env.Params.Infrastructure
	norm, err := env.NormalizedAttribute()
	if err != nil {
		return nil, err
	}

	entities := env.Stratified()
	tracts := make([]tract, len(entities))
	for i, ent := range entities {
		r := env.Stream(ent.ID, "danger")
		income := p.IncomeMultiplierMax - (p.IncomeMultiplierMax-p.IncomeMultiplierMin)*norm[ent.ID]
		exposure := 1 + p.PopulationWeight*float64(ent.Population)/p.PopulationScale
		danger := p.BaseDanger * income * exposure * uniform(r, p.DangerNoiseLow, p.DangerNoiseHigh)
		perceived, err := env.Predict(ent.ID, "danger", danger)
		if err != nil {
			return nil, err
		}
		stratum, _ := env.Strata.Stratum(ent.ID)
		value, _ := ent.Value(env.Params.StratifyOn)
		tracts[i] = tract{entity: ent, stratum: stratum, income: value, danger: danger, perceived: perceived}
	}

	ai, err := allocate(tracts, p.Budget, p.Projects, p.AITiers,
		func(t tract) float64 { return t.perceived },
		func(t tract) float64 { return t.income })
	if err != nil {
		return nil, err
	}
	need, err := allocate(tracts, p.Budget, p.Projects, p.NeedTiers,
		func(t tract) float64 { return t.danger },
		func(t tract) float64 { return t.danger })
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Allocation: true,
		Sources: Sources{
			Calibrated: []string{"tract danger scores (income-weighted, population exposure)"},
			Simulated:  []string{"AI perceived danger (bias simulator)", "AI and need-based allocations (greedy budget)"},
		},
		Parameters: map[string]float64{
			"budget":             p.Budget,
			"base_danger":        p.BaseDanger,
			"population_weight":  p.PopulationWeight,
			"population_scale":   p.PopulationScale,
			"lowest_share_floor": p.LowestShareFloor,
		},
	}
	for i, t := range tracts {
		out.Samples = append(out.Samples, env.Sample(t.entity, "", need[i].cost, ai[i].cost))
	}

	analysis, err := allocationAnalysis(tracts, ai, need, env.Strata.Labels, p.Budget)
	if err != nil {
		return nil, err
	}
	out.Details.Allocation = analysis
	out.Extras = map[string]float64{
		"ai_allocated":     analysis.AI.TotalAllocated,
		"need_allocated":   analysis.NeedBased.TotalAllocated,
		"ai_gini":          analysis.AI.GiniCoefficient,
		"need_gini":        analysis.NeedBased.GiniCoefficient,
		"lowest_share_pct": analysis.AI.LowestStratumShare,
	}
	return out, nil
}

// allocate funds tracts greedily from the highest priority down. Each tract
// gets the project of the first tier its rank value reaches; a project that
// no longer fits the remaining budget is skipped.
func allocate(tracts []tract, budget float64, projects map[string]ProjectType, tiers []ProjectTier, priority, rank func(tract) float64) ([]award, error) {
	values := make(stats.Float64Data, len(tracts))
	for i, t := range tracts {
		values[i] = rank(t)
	}
	ordered := tiersDescending(tiers)
	cutoffs := make([]float64, len(ordered))
	for i, tier := range ordered {
		if tier.Percentile == 0 {
			cutoffs[i] = math.Inf(-1)
			continue
		}
		v, err := stats.Percentile(values, tier.Percentile)
		if err != nil {
			return nil, fmt.Errorf("tier %s at p%v: %w", tier.Project, tier.Percentile, err)
		}
		cutoffs[i] = v
	}

	order := make([]int, len(tracts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return priority(tracts[order[a]]) > priority(tracts[order[b]]) })

	awards := make([]award, len(tracts))
	remaining := budget
	for _, i := range order {
		for k, tier := range ordered {
			if values[i] < cutoffs[k] {
				continue
			}
			proj := projects[tier.Project]
			if proj.Cost <= remaining {
				awards[i] = award{project: tier.Project, cost: proj.Cost, impact: proj.SafetyImpact}
				remaining -= proj.Cost
			}
			break
		}
	}
	return awards, nil
}

func allocationAnalysis(tracts []tract, ai, need []award, labels []string, budget float64) (*audit.AllocationAnalysis, error) {
	rows := make([]audit.AllocationStratum, len(labels))
	dangers := make([]stats.Float64Data, len(labels))
	for i, l := range labels {
		rows[i].Label = l
	}
	for i, t := range tracts {
		row := &rows[t.stratum]
		row.Population += t.entity.Population
		row.AITotal += ai[i].cost
		row.NeedTotal += need[i].cost
		if ai[i].project != "" {
			row.AIProjects++
		}
		if need[i].project != "" {
			row.NeedProjects++
		}
		dangers[t.stratum] = append(dangers[t.stratum], t.danger)
	}

	aiOutcome, err := allocationOutcome(ai, tracts, rows, labels, func(r audit.AllocationStratum) float64 { return r.AITotal })
	if err != nil {
		return nil, err
	}
	needOutcome, err := allocationOutcome(need, tracts, rows, labels, func(r audit.AllocationStratum) float64 { return r.NeedTotal })
	if err != nil {
		return nil, err
	}

	for i := range rows {
		row := &rows[i]
		if row.MeanDangerScore, err = stats.Mean(dangers[i]); err != nil {
			return nil, fmt.Errorf("mean danger of %s: %w", row.Label, core.NewInsufficientDataError(0, 1, "tracts in stratum"))
		}
		if row.AIPerCapita, err = stratumPerCapita(row.AITotal, row.Population); err != nil {
			return nil, err
		}
		if row.NeedPerCapita, err = stratumPerCapita(row.NeedTotal, row.Population); err != nil {
			return nil, err
		}
		row.AIShareOfBudget = row.AITotal / budget * 100
		row.NeedShareOfBudget = row.NeedTotal / budget * 100
	}

	a := &audit.AllocationAnalysis{
		Budget:          budget,
		AI:              aiOutcome,
		NeedBased:       needOutcome,
		ByStratum:       rows,
		GiniImprovement: aiOutcome.GiniCoefficient - needOutcome.GiniCoefficient,
	}
	if needOutcome.GiniCoefficient > 0 {
		pct := a.GiniImprovement / needOutcome.GiniCoefficient * 100
		a.EquityGap = &pct
	}
	return a, nil
}

// stratumPerCapita is nil for a stratum nobody lives in.
func stratumPerCapita(total float64, population int) (*float64, error) {
	if population == 0 {
		return nil, nil
	}
	v, err := metrics.PerCapita(total, population)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func allocationOutcome(awards []award, tracts []tract, rows []audit.AllocationStratum, labels []string, total func(audit.AllocationStratum) float64) (audit.AllocationOutcome, error) {
	o := audit.AllocationOutcome{
		ProjectsByType:        map[string]int{},
		DisparateImpactGroups: [2]string{labels[0], labels[len(labels)-1]},
	}
	amounts := make([]float64, len(awards))
	for i, a := range awards {
		amounts[i] = a.cost
		o.TotalAllocated += a.cost
		if a.project != "" {
			o.ProjectCount++
			o.ProjectsByType[a.project]++
			o.ExpectedDangerReduction += tracts[i].danger * a.impact
		}
	}
	if o.TotalAllocated > 0 {
		g, err := metrics.Gini(amounts)
		if err != nil {
			return o, err
		}
		o.GiniCoefficient = g
		o.LowestStratumShare = total(rows[0]) / o.TotalAllocated * 100
	}

	low, high := rows[0], rows[len(rows)-1]
	if low.Population <= 0 || high.Population <= 0 {
		return o, core.NewInsufficientDataError(0, 1, "population in the extreme strata")
	}
	var err error
	if o.ProtectedPerCapita, err = metrics.PerCapita(total(low), low.Population); err != nil {
		return o, err
	}
	if o.ReferencePerCapita, err = metrics.PerCapita(total(high), high.Population); err != nil {
		return o, err
	}
	di, err := metrics.DisparateImpact(o.ProtectedPerCapita, o.ReferencePerCapita)
	if err != nil {
		return o, err
	}
	o.DisparateImpactRatio = di.Ratio
	o.AdverseImpact = di.AdverseImpact

	dangers := make(stats.Float64Data, len(tracts))
	for i, t := range tracts {
		dangers[i] = t.danger
	}
	cutoff, err := stats.Percentile(dangers, highNeedPercentile)
	if err != nil {
		return o, err
	}
	for i, t := range tracts {
		if t.danger >= cutoff && awards[i].project == "" {
			o.UnfundedHighNeedTracts++
		}
	}
	return o, nil
}

func adverseImpactFinding(r *audit.AuditReport) (string, bool) {
	a := r.Allocation
	if a == nil || a.AI.DisparateImpactRatio == nil || !a.AI.AdverseImpact {
		return "", false
	}
	return fmt.Sprintf("AI allocation shows severe inequity: %s receives %.0f%% as much per capita as %s (four-fifths rule violated)",
		a.AI.DisparateImpactGroups[0], *a.AI.DisparateImpactRatio*100, a.AI.DisparateImpactGroups[1]), true
}

func giniFinding(r *audit.AuditReport) (string, bool) {
	a := r.Allocation
	if a == nil || a.EquityGap == nil || *a.EquityGap <= 0 {
		return "", false
	}
	return fmt.Sprintf("AI allocation is %.0f%% less equitable than need-based allocation (Gini %.3f vs %.3f)",
		*a.EquityGap, a.AI.GiniCoefficient, a.NeedBased.GiniCoefficient), true
}

func lowestShareFinding(r *audit.AuditReport) (string, bool) {
	a := r.Allocation
	if a == nil || len(a.ByStratum) == 0 || a.AI.LowestStratumShare >= lowestShareFloor(r) {
		return "", false
	}
	low := a.ByStratum[0]
	for _, s := range a.ByStratum[1:] {
		if s.MeanDangerScore > low.MeanDangerScore {
			return fmt.Sprintf("%s receives only %.1f%% of the AI-allocated budget", low.Label, a.AI.LowestStratumShare), true
		}
	}
	return fmt.Sprintf("%s receives only %.1f%% of the AI-allocated budget despite having the highest danger scores",
		low.Label, a.AI.LowestStratumShare), true
}

// lowestShareFloor reads the floor back from provenance so the finding
// follows the parameters the report was built with.
func lowestShareFloor(r *audit.AuditReport) float64 {
	if v, ok := r.Provenance.Parameters["lowest_share_floor"]; ok {
		return v
	}
	return 0
}
