package model

import (
	"encoding/json"
	"reflect"
)

// Status is the categorical outcome of comparing one side of a duplicate
// pair against the other side and the provisional final value.
type Status string

const (
	StatusIdentical Status = "identical"
	StatusDiff      Status = "diff"
	StatusSelected  Status = "selected"
	StatusDropped   Status = "dropped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdentical, StatusDiff, StatusSelected, StatusDropped:
		return true
	}
	return false
}

// Side names one of the two candidates of a comparison row.
type Side string

const (
	SideEntity1 Side = "entity1"
	SideEntity2 Side = "entity2"
)

// Valid reports whether s names a candidate side.
func (s Side) Valid() bool {
	return s == SideEntity1 || s == SideEntity2
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideEntity1 {
		return SideEntity2
	}
	return SideEntity1
}

// Candidate is one side's value for a single compared field. ID is nil for
// the computed final side.
type Candidate struct {
	ID     *int64 `json:"id,omitempty"`
	Value  any    `json:"value"`
	Status Status `json:"status,omitempty"`
}

// ComparisonRow compares one field across a duplicate pair.
type ComparisonRow struct {
	Field   Field     `json:"field"`
	Entity1 Candidate `json:"entity1"`
	Entity2 Candidate `json:"entity2"`
	Final   Candidate `json:"final"`
}

// Candidate returns the candidate on the given side.
func (r ComparisonRow) Candidate(side Side) Candidate {
	if side == SideEntity2 {
		return r.Entity2
	}
	return r.Entity1
}

// IsIdentical reports whether the row compares two equal values. Identical
// rows are never touched by selections.
func (r ComparisonRow) IsIdentical() bool {
	return r.Entity1.Status == StatusIdentical
}

// AllIdentical reports whether every side of the row is identical.
func (r ComparisonRow) AllIdentical() bool {
	return r.Entity1.Status == StatusIdentical &&
		r.Entity2.Status == StatusIdentical &&
		r.Final.Status == StatusIdentical
}

// RawFieldComparison is one entry of the backend's duplicate detail payload.
type RawFieldComparison struct {
	Field   Field     `json:"field"`
	Entity1 Candidate `json:"entity1"`
	Entity2 Candidate `json:"entity2"`
	Final   Candidate `json:"final"`
}

// MergeQuery maps a field key to the id of the entity whose value wins.
type MergeQuery map[string]int64

// With returns a copy of q with key set to id.
func (q MergeQuery) With(key string, id int64) MergeQuery {
	out := make(MergeQuery, len(q)+1)
	for k, v := range q {
		out[k] = v
	}
	out[key] = id
	return out
}

// Clone returns a copy of q. A nil query clones to an empty one.
func (q MergeQuery) Clone() MergeQuery {
	out := make(MergeQuery, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// ValuesEqual compares two raw field values with strict equality: values of
// different dynamic types are never equal, and non-comparable values (maps,
// slices) only equal themselves when both are nil. Dates arrive as strings
// and are compared in that form.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		if na, ok := a.(json.Number); ok {
			return numberEqual(na, b)
		}
		if nb, ok := b.(json.Number); ok {
			return numberEqual(nb, a)
		}
		return false
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}

func numberEqual(n json.Number, other any) bool {
	f, err := n.Float64()
	if err != nil {
		return false
	}
	switch o := other.(type) {
	case float64:
		return f == o
	case int:
		return f == float64(o)
	case int64:
		return f == float64(o)
	}
	return false
}

// IsBlank reports whether a final value counts as not chosen yet. Only an
// absent value or the empty string qualify; 0 and false are real choices.
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
