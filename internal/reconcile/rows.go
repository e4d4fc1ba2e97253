package reconcile

import "github.com/sells-group/dedupe-cli/internal/model"

// BuildRows turns the backend's raw comparison into comparison rows, one per
// input entry and in the same order. The backend's final value is taken as
// the tentative resolution. Rows comparing equal values are identical on
// all three sides.
func BuildRows(raw []model.RawFieldComparison) []model.ComparisonRow {
	if len(raw) == 0 {
		return []model.ComparisonRow{}
	}
	rows := make([]model.ComparisonRow, 0, len(raw))
	for _, r := range raw {
		row := model.ComparisonRow{
			Field:   r.Field,
			Entity1: model.Candidate{ID: r.Entity1.ID, Value: r.Entity1.Value},
			Entity2: model.Candidate{ID: r.Entity2.ID, Value: r.Entity2.Value},
		}
		rows = append(rows, resolveRow(row, model.Candidate{Value: r.Final.Value}))
	}
	return rows
}

func cloneRows(rows []model.ComparisonRow) []model.ComparisonRow {
	out := make([]model.ComparisonRow, len(rows))
	copy(out, rows)
	return out
}
