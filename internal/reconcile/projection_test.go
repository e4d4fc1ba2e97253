package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dedupe-cli/internal/model"
)

func keysOf(rows []model.ComparisonRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Field.Key
	}
	return out
}

func TestProject_OnlyUnmatched(t *testing.T) {
	rows := BuildRows(fixture())
	assert.Equal(t, []string{"first_name", "age"}, keysOf(Project(rows, true)))
}

func TestProject_KeepsResolvedRows(t *testing.T) {
	rows := ApplyBulkSelection(BuildRows(fixture()), model.SideEntity1)
	assert.Equal(t, []string{"first_name", "age"}, keysOf(Project(rows, true)))
}

func TestProject_All(t *testing.T) {
	rows := BuildRows(fixture())
	out := Project(rows, false)
	assert.Equal(t, keysOf(rows), keysOf(out))

	out[0].Field.Key = "changed"
	assert.Equal(t, "first_name", rows[0].Field.Key)
}

func TestProject_NotInvertible(t *testing.T) {
	rows := BuildRows(fixture())
	assert.Len(t, Project(Project(rows, true), false), 2)
}
