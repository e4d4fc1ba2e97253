// Package reconcile derives, updates, and summarises the field-by-field
// comparison of a duplicate pair. Every function is pure: inputs are never
// mutated and a fresh collection is returned.
package reconcile

import "github.com/sells-group/dedupe-cli/internal/model"

// ResolveStatus computes the status of base when compared against compare
// with final as the tentative resolution.
func ResolveStatus(base, compare, final model.Candidate) model.Status {
	if model.ValuesEqual(base.Value, compare.Value) {
		return model.StatusIdentical
	}
	if model.IsBlank(final.Value) {
		return model.StatusDiff
	}
	if model.ValuesEqual(base.Value, final.Value) {
		return model.StatusSelected
	}
	return model.StatusDropped
}

// MergedStatus computes the status of the final side: dropped until a value
// has been chosen.
func MergedStatus(final model.Candidate) model.Status {
	if model.IsBlank(final.Value) {
		return model.StatusDropped
	}
	return model.StatusIdentical
}

// resolveRow recomputes every status of row against the given final value.
func resolveRow(row model.ComparisonRow, final model.Candidate) model.ComparisonRow {
	out := row
	out.Final = model.Candidate{Value: final.Value}
	out.Entity1.Status = ResolveStatus(row.Entity1, row.Entity2, out.Final)
	out.Entity2.Status = ResolveStatus(row.Entity2, row.Entity1, out.Final)
	if out.Entity1.Status == model.StatusIdentical {
		out.Final.Status = model.StatusIdentical
	} else {
		out.Final.Status = MergedStatus(out.Final)
	}
	return out
}
