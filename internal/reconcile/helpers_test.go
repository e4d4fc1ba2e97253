package reconcile

import "github.com/sells-group/dedupe-cli/internal/model"

func raw(key string, v1, v2, final any) model.RawFieldComparison {
	return model.RawFieldComparison{
		Field:   model.Field{Key: key},
		Entity1: model.Candidate{ID: model.Int64Ptr(1), Value: v1},
		Entity2: model.Candidate{ID: model.Int64Ptr(2), Value: v2},
		Final:   model.Candidate{Value: final},
	}
}

func fixture() []model.RawFieldComparison {
	return []model.RawFieldComparison{
		raw("first_name", "Ann", "Anne", ""),
		raw("gender", "M", "M", "M"),
		raw("age", float64(30), float64(31), nil),
		raw("village", "Kisumu", "Kisumu", nil),
	}
}
