package reconcile

import (
	"go.uber.org/zap"

	"github.com/sells-group/dedupe-cli/internal/model"
)

// View owns the state of one reconciliation: the canonical rows, the
// displayed (possibly filtered) rows, and the merge query accumulator.
// Every mutation is applied to both row collections so that turning the
// unmatched-only filter off restores the full, up to date set.
//
// A View is not safe for concurrent use.
type View struct {
	canonical     []model.ComparisonRow
	filtered      []model.ComparisonRow
	query         model.MergeQuery
	onlyUnmatched bool
	policy        Policy
	metadata      []model.DuplicatePairMetadata
}

// NewView builds a view from the backend's detail fields and pair metadata.
func NewView(fields []model.RawFieldComparison, metadata []model.DuplicatePairMetadata, policy Policy) *View {
	rows := BuildRows(fields)
	return &View{
		canonical: rows,
		filtered:  Project(rows, false),
		query:     model.MergeQuery{},
		policy:    policy,
		metadata:  metadata,
	}
}

// RestoreView rebuilds a view from a persisted session.
func RestoreView(s *model.Session, policy Policy) *View {
	v := &View{
		canonical:     cloneRows(s.Canonical),
		filtered:      cloneRows(s.Filtered),
		query:         s.Query.Clone(),
		onlyUnmatched: s.OnlyUnmatched,
		policy:        policy,
		metadata:      s.Metadata,
	}
	if s.Filtered == nil {
		v.filtered = Project(v.canonical, v.onlyUnmatched)
	}
	return v
}

// Save writes the view state into s.
func (v *View) Save(s *model.Session) {
	s.Canonical = cloneRows(v.canonical)
	s.Filtered = cloneRows(v.filtered)
	s.Query = v.query.Clone()
	s.OnlyUnmatched = v.onlyUnmatched
	s.Metadata = v.metadata
}

// Canonical returns every row, regardless of the display filter.
func (v *View) Canonical() []model.ComparisonRow { return cloneRows(v.canonical) }

// Rows returns the rows currently displayed.
func (v *View) Rows() []model.ComparisonRow { return cloneRows(v.filtered) }

// Query returns a copy of the merge query accumulator.
func (v *View) Query() model.MergeQuery { return v.query.Clone() }

// OnlyUnmatched reports whether the unmatched-only filter is on.
func (v *View) OnlyUnmatched() bool { return v.onlyUnmatched }

// Policy returns the submit policy in effect.
func (v *View) Policy() Policy { return v.policy }

// Select resolves one field in favour of side and records the winner in the
// merge query. A blank winner leaves the row unresolved and is not recorded.
// It reports whether the view changed.
func (v *View) Select(fieldKey string, side model.Side) bool {
	canonical, chosen, changed := ApplySelection(v.canonical, fieldKey, side)
	if !changed {
		return false
	}
	v.canonical = canonical
	v.filtered, _, _ = ApplySelection(v.filtered, fieldKey, side)

	if model.IsBlank(chosen.Value) {
		return true
	}
	if chosen.ID == nil {
		zap.L().Warn("reconcile: selected candidate has no id",
			zap.String("field", fieldKey), zap.String("side", string(side)))
		return true
	}
	v.query = v.query.With(fieldKey, *chosen.ID)
	return true
}

// SelectAll resolves every differing field in favour of side and rebuilds
// the merge query.
func (v *View) SelectAll(side model.Side) {
	if !side.Valid() {
		zap.L().Warn("reconcile: ignoring select-all with invalid side", zap.String("side", string(side)))
		return
	}
	v.canonical = ApplyBulkSelection(v.canonical, side)
	v.filtered = ApplyBulkSelection(v.filtered, side)
	v.query = BulkMergeQuery(v.canonical, side)
}

// Reset clears every selection and the merge query.
func (v *View) Reset() {
	v.canonical = ResetSelection(v.canonical)
	v.filtered = ResetSelection(v.filtered)
	v.query = model.MergeQuery{}
}

// ShowOnlyUnmatched toggles the display filter. Turning it off substitutes
// the canonical rows back in.
func (v *View) ShowOnlyUnmatched(on bool) {
	v.onlyUnmatched = on
	v.filtered = Project(v.canonical, on)
}

// Readiness computes submit eligibility over the canonical rows together
// with the pair summary.
func (v *View) Readiness() Readiness {
	r := ComputeReadiness(v.canonical, v.policy)
	r.Summary = Summarize(v.metadata)
	return r
}
