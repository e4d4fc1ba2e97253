package session

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/dedupe-cli/internal/filter"
	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

// --- Duplicates API Mock ---

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Details(ctx context.Context, pair model.Pair) (*model.DetailResponse, error) {
	args := m.Called(ctx, pair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DetailResponse), args.Error(1)
}

func (m *mockClient) Metadata(ctx context.Context, pair model.Pair) ([]model.DuplicatePairMetadata, error) {
	args := m.Called(ctx, pair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DuplicatePairMetadata), args.Error(1)
}

func (m *mockClient) List(ctx context.Context, f filter.Duplicates) (*dupapi.ListResponse, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dupapi.ListResponse), args.Error(1)
}

func (m *mockClient) Merge(ctx context.Context, pair model.Pair, query model.MergeQuery) (json.RawMessage, error) {
	args := m.Called(ctx, pair, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockClient) Ignore(ctx context.Context, pair model.Pair) (json.RawMessage, error) {
	args := m.Called(ctx, pair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockClient) Forget(pair model.Pair) {
	m.Called(pair)
}

func (m *mockClient) ListAnalyses(ctx context.Context, page, limit int) (*dupapi.AnalysisList, error) {
	args := m.Called(ctx, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dupapi.AnalysisList), args.Error(1)
}

func (m *mockClient) GetAnalysis(ctx context.Context, id int64) (*model.AnalysisJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisJob), args.Error(1)
}

func (m *mockClient) LaunchAnalysis(ctx context.Context, params model.AnalysisParameters) (*model.AnalysisJob, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisJob), args.Error(1)
}
