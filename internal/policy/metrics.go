package policy

import (
	ometrics "github.com/Kocoro-lab/clinicflow/internal/metrics"
)

// RecordDecision counts a step decision by function.
func RecordDecision(function string, d *Decision) {
	label := "allow"
	switch {
	case d == nil:
		label = "error"
	case !d.Allow:
		label = "deny"
	case d.DryRun:
		label = "dry_run_deny"
	}
	ometrics.PolicyDecisions.WithLabelValues(function, label).Inc()
}
