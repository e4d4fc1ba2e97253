package reconcile

import (
	"go.uber.org/zap"

	"github.com/sells-group/dedupe-cli/internal/model"
)

// ApplySelection resolves the row keyed by fieldKey in favour of side. It
// returns the updated rows, the winning candidate, and whether anything
// changed. Unknown keys, invalid sides, and identical rows are no-ops.
func ApplySelection(rows []model.ComparisonRow, fieldKey string, side model.Side) ([]model.ComparisonRow, model.Candidate, bool) {
	if !side.Valid() {
		zap.L().Warn("reconcile: ignoring selection with invalid side",
			zap.String("field", fieldKey), zap.String("side", string(side)))
		return rows, model.Candidate{}, false
	}

	i, ok := model.IndexRows(rows)[fieldKey]
	if !ok {
		zap.L().Debug("reconcile: selection on unknown field", zap.String("field", fieldKey))
		return rows, model.Candidate{}, false
	}

	chosen := rows[i].Candidate(side)
	if chosen.Status == model.StatusIdentical {
		return rows, model.Candidate{}, false
	}

	out := cloneRows(rows)
	out[i] = resolveRow(rows[i], chosen)
	return out, chosen, true
}

// ApplyBulkSelection resolves every differing row in favour of side.
func ApplyBulkSelection(rows []model.ComparisonRow, side model.Side) []model.ComparisonRow {
	if !side.Valid() {
		zap.L().Warn("reconcile: ignoring bulk selection with invalid side", zap.String("side", string(side)))
		return rows
	}
	out := cloneRows(rows)
	for i, row := range rows {
		if row.IsIdentical() {
			continue
		}
		out[i] = resolveRow(row, row.Candidate(side))
	}
	return out
}

// BulkMergeQuery builds a merge query from scratch that takes every
// differing field from side. Rows whose candidate is blank or carries no id
// are left out.
func BulkMergeQuery(rows []model.ComparisonRow, side model.Side) model.MergeQuery {
	q := model.MergeQuery{}
	if !side.Valid() {
		return q
	}
	for _, row := range rows {
		if row.IsIdentical() {
			continue
		}
		c := row.Candidate(side)
		if model.IsBlank(c.Value) {
			continue
		}
		if c.ID == nil {
			zap.L().Warn("reconcile: candidate without id left out of merge query",
				zap.String("field", row.Field.Key), zap.String("side", string(side)))
			continue
		}
		q[row.Field.Key] = *c.ID
	}
	return q
}

// ResetSelection returns every differing row to the unresolved state.
func ResetSelection(rows []model.ComparisonRow) []model.ComparisonRow {
	out := cloneRows(rows)
	for i, row := range rows {
		if row.IsIdentical() {
			continue
		}
		out[i].Entity1.Status = model.StatusDiff
		out[i].Entity2.Status = model.StatusDiff
		out[i].Final = model.Candidate{Value: "", Status: model.StatusDropped}
	}
	return out
}
