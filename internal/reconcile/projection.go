package reconcile

import "github.com/sells-group/dedupe-cli/internal/model"

// Project returns the rows to display. With onlyUnmatched set, rows that are
// identical on all three sides are left out. The projection cannot be
// undone: callers keep the canonical rows to restore the full view.
func Project(rows []model.ComparisonRow, onlyUnmatched bool) []model.ComparisonRow {
	if !onlyUnmatched {
		return cloneRows(rows)
	}
	out := make([]model.ComparisonRow, 0, len(rows))
	for _, row := range rows {
		if row.AllIdentical() {
			continue
		}
		out = append(out, row)
	}
	return out
}
