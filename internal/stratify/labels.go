package stratify

import "fmt"

// Labels names quantile strata from lowest to highest.
type Labels []string

// QuantileLabels returns Q1..Qn.
func QuantileLabels(n int) Labels {
	labels := make(Labels, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("Q%d", i+1)
	}
	return labels
}
