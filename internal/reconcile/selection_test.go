package reconcile

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dedupe-cli/internal/model"
)

func TestApplySelection_FirstNameEntity1(t *testing.T) {
	rows := BuildRows([]model.RawFieldComparison{raw("first_name", "Ann", "Anne", "")})

	out, chosen, changed := ApplySelection(rows, "first_name", model.SideEntity1)

	require.True(t, changed)
	assert.Equal(t, model.StatusSelected, out[0].Entity1.Status)
	assert.Equal(t, model.StatusDropped, out[0].Entity2.Status)
	assert.Equal(t, "Ann", out[0].Final.Value)
	assert.Equal(t, model.StatusIdentical, out[0].Final.Status)
	require.NotNil(t, chosen.ID)
	assert.Equal(t, int64(1), *chosen.ID)

	// Input untouched.
	assert.Equal(t, model.StatusDiff, rows[0].Entity1.Status)
}

func TestApplySelection_SwitchSides(t *testing.T) {
	rows := BuildRows(fixture())
	rows, _, _ = ApplySelection(rows, "age", model.SideEntity1)
	rows, _, changed := ApplySelection(rows, "age", model.SideEntity2)

	require.True(t, changed)
	assert.Equal(t, model.StatusDropped, rows[2].Entity1.Status)
	assert.Equal(t, model.StatusSelected, rows[2].Entity2.Status)
	assert.Equal(t, float64(31), rows[2].Final.Value)
}

func TestApplySelection_NoOps(t *testing.T) {
	rows := BuildRows(fixture())

	tests := []struct {
		name string
		key  string
		side model.Side
	}{
		{"identical row", "gender", model.SideEntity1},
		{"unknown field", "nope", model.SideEntity1},
		{"invalid side", "first_name", model.Side("final")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, changed := ApplySelection(rows, tt.key, tt.side)
			assert.False(t, changed)
			assert.Empty(t, cmp.Diff(rows, out))
		})
	}
}

func TestApplyBulkSelection(t *testing.T) {
	rows := BuildRows(fixture())
	out := ApplyBulkSelection(rows, model.SideEntity2)

	assert.Equal(t, "Anne", out[0].Final.Value)
	assert.Equal(t, float64(31), out[2].Final.Value)
	for _, i := range []int{0, 2} {
		assert.Equal(t, model.StatusDropped, out[i].Entity1.Status)
		assert.Equal(t, model.StatusSelected, out[i].Entity2.Status)
		assert.Equal(t, model.StatusIdentical, out[i].Final.Status)
	}
	assert.Empty(t, cmp.Diff(rows[1], out[1]))
	assert.Empty(t, cmp.Diff(rows[3], out[3]))
}

func TestBulkMergeQuery(t *testing.T) {
	rows := BuildRows(fixture())
	assert.Equal(t, model.MergeQuery{"first_name": 2, "age": 2}, BulkMergeQuery(rows, model.SideEntity2))
	assert.Empty(t, BulkMergeQuery(rows, model.Side("x")))
}

func TestBulkMergeQuery_SkipsMissingIDs(t *testing.T) {
	r := raw("first_name", "Ann", "Anne", "")
	r.Entity1.ID = nil
	rows := BuildRows([]model.RawFieldComparison{r})
	assert.Empty(t, BulkMergeQuery(rows, model.SideEntity1))
}

func TestResetSelection(t *testing.T) {
	rows := ApplyBulkSelection(BuildRows(fixture()), model.SideEntity1)
	out := ResetSelection(rows)

	for _, i := range []int{0, 2} {
		assert.Equal(t, model.StatusDiff, out[i].Entity1.Status)
		assert.Equal(t, model.StatusDiff, out[i].Entity2.Status)
		assert.Equal(t, model.Candidate{Value: "", Status: model.StatusDropped}, out[i].Final)
	}
	assert.Empty(t, cmp.Diff(rows[1], out[1]))
}

func TestResetSelection_Idempotent(t *testing.T) {
	rows := ApplyBulkSelection(BuildRows(fixture()), model.SideEntity1)
	once := ResetSelection(rows)
	assert.Empty(t, cmp.Diff(once, ResetSelection(once)))
}

// randomOps drives the reducers with a seeded sequence of operations and
// calls check after each step.
func randomOps(t *testing.T, seed uint64, steps int, check func(before, after []model.ComparisonRow)) {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed))
	keys := []string{"first_name", "gender", "age", "village", "missing"}
	sides := []model.Side{model.SideEntity1, model.SideEntity2}

	rows := BuildRows(fixture())
	for i := 0; i < steps; i++ {
		before := rows
		switch r.IntN(3) {
		case 0:
			rows, _, _ = ApplySelection(rows, keys[r.IntN(len(keys))], sides[r.IntN(2)])
		case 1:
			rows = ApplyBulkSelection(rows, sides[r.IntN(2)])
		case 2:
			rows = ResetSelection(rows)
		}
		check(before, rows)
	}
}

func TestProperty_IdenticalRowsNeverChange(t *testing.T) {
	initial := BuildRows(fixture())
	for seed := uint64(1); seed <= 20; seed++ {
		randomOps(t, seed, 50, func(_, after []model.ComparisonRow) {
			for i, row := range initial {
				if row.IsIdentical() {
					assert.Empty(t, cmp.Diff(row, after[i]), "seed %d row %s", seed, row.Field.Key)
				}
			}
		})
	}
}

func TestProperty_StatusExclusivity(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		randomOps(t, seed, 50, func(_, after []model.ComparisonRow) {
			for _, row := range after {
				if row.IsIdentical() {
					continue
				}
				s1, s2 := row.Entity1.Status, row.Entity2.Status
				resolved := (s1 == model.StatusSelected && s2 == model.StatusDropped) ||
					(s1 == model.StatusDropped && s2 == model.StatusSelected)
				unresolved := s1 == model.StatusDiff && s2 == model.StatusDiff
				assert.True(t, resolved || unresolved, "seed %d row %s: %s/%s", seed, row.Field.Key, s1, s2)
			}
		})
	}
}

func TestBulkMergeQuery_SkipsBlankCandidates(t *testing.T) {
	rows := BuildRows([]model.RawFieldComparison{
		raw("nick", "", "Bo", ""),
		raw("first_name", "Ann", "Anne", ""),
	})
	q := BulkMergeQuery(rows, model.SideEntity1)
	assert.Equal(t, model.MergeQuery{"first_name": 1}, q)
	assert.Equal(t, q, QueryFromRows(ApplyBulkSelection(rows, model.SideEntity1)))
}
