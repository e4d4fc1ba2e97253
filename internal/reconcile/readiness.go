package reconcile

import (
	"github.com/sells-group/dedupe-cli/internal/model"
)

// Policy holds the product decisions that govern merge submission.
type Policy struct {
	// AllowPartialMerge keeps the lenient submit rule, which only looks
	// for dropped final values. When false, rows still in diff also block.
	AllowPartialMerge bool `json:"allow_partial_merge" yaml:"allow_partial_merge" mapstructure:"allow_partial_merge"`
}

// DefaultPolicy returns the lenient submit rule.
func DefaultPolicy() Policy {
	return Policy{AllowPartialMerge: true}
}

// Summary is the pair-level information shown next to the comparison.
type Summary struct {
	AlgorithmsUsed  []string `json:"algorithms_used"`
	AlgorithmRuns   int      `json:"algorithm_runs"`
	SimilarityScore float64  `json:"similarity_score"`
	SimilarityStars float64  `json:"similarity_stars"`
	EntityCount     int      `json:"entity_count"`
}

// Readiness tells whether a merge can be submitted and what it would send.
type Readiness struct {
	UnmatchedRemaining int              `json:"unmatched_remaining"`
	MergeQuery         model.MergeQuery `json:"merge_query"`
	CanSubmit          bool             `json:"can_submit"`
	Summary
}

// ComputeReadiness derives submit eligibility and the merge payload from
// rows. Identical rows never count as unmatched or blocking.
func ComputeReadiness(rows []model.ComparisonRow, policy Policy) Readiness {
	r := Readiness{MergeQuery: QueryFromRows(rows), CanSubmit: true}
	for _, row := range rows {
		if row.IsIdentical() {
			continue
		}
		if model.IsBlank(row.Final.Value) {
			r.UnmatchedRemaining++
		}
		if row.Final.Status == model.StatusDropped {
			r.CanSubmit = false
		}
		if !policy.AllowPartialMerge &&
			(row.Entity1.Status == model.StatusDiff || row.Entity2.Status == model.StatusDiff) {
			r.CanSubmit = false
		}
	}
	return r
}

// QueryFromRows rebuilds the merge query from the selected side of every
// resolved row.
func QueryFromRows(rows []model.ComparisonRow) model.MergeQuery {
	q := model.MergeQuery{}
	for _, row := range rows {
		var winner model.Candidate
		switch {
		case row.Entity1.Status == model.StatusSelected:
			winner = row.Entity1
		case row.Entity2.Status == model.StatusSelected:
			winner = row.Entity2
		default:
			continue
		}
		if winner.ID != nil {
			q[row.Field.Key] = *winner.ID
		}
	}
	return q
}

// Summarize condenses pair metadata. Algorithm types are de-duplicated in
// order of first appearance; score and stars come from the first entry.
func Summarize(metas []model.DuplicatePairMetadata) Summary {
	s := Summary{AlgorithmsUsed: []string{}}
	seen := make(map[string]bool)
	for _, m := range metas {
		for _, a := range m.Algorithms {
			s.AlgorithmRuns++
			if !seen[a.Type] {
				seen[a.Type] = true
				s.AlgorithmsUsed = append(s.AlgorithmsUsed, a.Type)
			}
		}
	}
	if len(metas) > 0 {
		s.SimilarityScore = metas[0].Similarity
		s.SimilarityStars = metas[0].Stars()
		s.EntityCount = metas[0].EntityCount()
	}
	return s
}
