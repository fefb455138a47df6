package metrics

import (
	"equityaudit/domain/audit"
	"equityaudit/domain/core"
)

// Confusion tallies a binary classification of predicted values against
// truth, both thresholded with value > threshold meaning positive.
func Confusion(pairs []Pair, threshold float64) (audit.ConfusionMatrix, error) {
	m := audit.ConfusionMatrix{Threshold: threshold, Samples: len(pairs)}
	if len(pairs) == 0 {
		return m, core.NewEmptyInputError("confusion matrix")
	}
	for _, p := range pairs {
		actual := p.Truth > threshold
		predicted := p.Prediction > threshold
		switch {
		case actual && predicted:
			m.TP++
		case actual && !predicted:
			m.FN++
		case !actual && predicted:
			m.FP++
		default:
			m.TN++
		}
	}
	m.Precision = ratio(m.TP, m.TP+m.FP)
	m.Recall = ratio(m.TP, m.TP+m.FN)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.Accuracy = ratio(m.TP+m.TN, len(pairs))
	return m, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
