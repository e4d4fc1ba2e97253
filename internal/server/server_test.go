package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dedupe-cli/internal/analysis"
	"github.com/sells-group/dedupe-cli/internal/filter"
	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/monitoring"
	"github.com/sells-group/dedupe-cli/internal/reconcile"
	"github.com/sells-group/dedupe-cli/internal/resilience"
	"github.com/sells-group/dedupe-cli/internal/session"
	"github.com/sells-group/dedupe-cli/internal/store"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

var testPair = model.Pair{Entity1ID: 1, Entity2ID: 2}

func raw(key string, v1, v2, final any) model.RawFieldComparison {
	return model.RawFieldComparison{
		Field:   model.Field{Key: key},
		Entity1: model.Candidate{ID: model.Int64Ptr(1), Value: v1},
		Entity2: model.Candidate{ID: model.Int64Ptr(2), Value: v2},
		Final:   model.Candidate{Value: final},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *mockClient) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	client := &mockClient{}
	srv := New(
		session.NewManager(client, st, reconcile.DefaultPolicy()),
		analysis.NewService(client, st),
		client,
		Options{CORSOrigins: []string{"https://ui.example.org"}, Stats: monitoring.NewCollector(st)},
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, client
}

func expectPair(client *mockClient) {
	client.On("Details", mock.Anything, testPair).Return(&model.DetailResponse{
		Fields: []model.RawFieldComparison{
			raw("first_name", "Ann", "Anne", ""),
			raw("gender", "M", "M", "M"),
		},
	}, nil).Once()
	client.On("Metadata", mock.Anything, testPair).Return([]model.DuplicatePairMetadata{{ID: 5, Similarity: 60}}, nil).Once()
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type stateBody struct {
	Session   model.Session       `json:"session"`
	Readiness reconcile.Readiness `json:"readiness"`
}

func openSession(t *testing.T, ts *httptest.Server, client *mockClient) stateBody {
	t.Helper()
	expectPair(client)
	resp, body := do(t, http.MethodPost, ts.URL+"/sessions?entities=1,2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var state stateBody
	require.NoError(t, json.Unmarshal(body, &state))
	return state
}

func decodeNote(t *testing.T, body []byte) Notification {
	t.Helper()
	var n Notification
	require.NoError(t, json.Unmarshal(body, &n))
	return n
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStats(t *testing.T) {
	ts, client := newTestServer(t)
	id := openSession(t, ts, client).Session.ID

	client.On("Ignore", mock.Anything, testPair).Return(json.RawMessage(`{}`), nil).Once()
	resp, _ := do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/ignore", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, ts.URL+"/stats?lookback_hours=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, 1, snap.SessionsTotal)
	assert.Equal(t, 1, snap.SessionsIgnored)
	assert.Equal(t, 1, snap.LookbackHours)
}

func TestStats_InvalidLookback(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, http.MethodGet, ts.URL+"/stats?lookback_hours=-2", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOpenSession(t *testing.T) {
	ts, client := newTestServer(t)

	state := openSession(t, ts, client)
	assert.NotEmpty(t, state.Session.ID)
	assert.Len(t, state.Session.Canonical, 2)
	assert.Equal(t, 1, state.Readiness.UnmatchedRemaining)
	assert.False(t, state.Readiness.CanSubmit)
	assert.InDelta(t, 3.0, state.Readiness.SimilarityStars, 0.001)
}

func TestOpenSession_BadEntities(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/sessions?entities=1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	n := decodeNote(t, body)
	assert.Equal(t, "warning", n.Level)
	assert.NotEmpty(t, n.Error)
}

func TestSelectAndMerge(t *testing.T) {
	ts, client := newTestServer(t)
	id := openSession(t, ts, client).Session.ID

	resp, body := do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/merge", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "warning", decodeNote(t, body).Level)

	resp, body = do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/select", `{"field":"first_name","side":"entity2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var state stateBody
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, model.MergeQuery{"first_name": 2}, state.Session.Query)
	assert.True(t, state.Readiness.CanSubmit)

	resp, body = do(t, http.MethodGet, ts.URL+"/sessions/"+id+"/readiness", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ready reconcile.Readiness
	require.NoError(t, json.Unmarshal(body, &ready))
	assert.True(t, ready.CanSubmit)

	client.On("Merge", mock.Anything, testPair, model.MergeQuery{"first_name": 2}).
		Return(json.RawMessage(`{"merged":true}`), nil).Once()

	resp, body = do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/merge", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Session  model.Session   `json:"session"`
		Response json.RawMessage `json:"response"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, model.SessionMerged, out.Session.Status)
	assert.JSONEq(t, `{"merged":true}`, string(out.Response))

	resp, body = do(t, http.MethodGet, ts.URL+"/sessions/"+id+"/audit", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var audit []model.AuditEntry
	require.NoError(t, json.Unmarshal(body, &audit))
	require.Len(t, audit, 1)

	resp, _ = do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/reset", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	client.AssertExpectations(t)
}

func TestSelect_InvalidSide(t *testing.T) {
	ts, client := newTestServer(t)
	id := openSession(t, ts, client).Session.ID

	resp, _ := do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/select", `{"field":"first_name","side":"entity3"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/select-all", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSelectAllToggleReset(t *testing.T) {
	ts, client := newTestServer(t)
	id := openSession(t, ts, client).Session.ID

	resp, _ := do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/select-all", `{"side":"entity1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodPut, ts.URL+"/sessions/"+id+"/unmatched", `{"only_unmatched":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state stateBody
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Len(t, state.Session.Filtered, 1)
	assert.Equal(t, model.MergeQuery{"first_name": 1}, state.Session.Query)

	resp, body = do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state = stateBody{}
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Empty(t, state.Session.Query)
	assert.False(t, state.Readiness.CanSubmit)
}

func TestMerge_BackendRejectionPassesDetail(t *testing.T) {
	ts, client := newTestServer(t)
	id := openSession(t, ts, client).Session.ID

	do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/select-all", `{"side":"entity1"}`)

	client.On("Merge", mock.Anything, testPair, mock.Anything).Return(nil, &dupapi.APIError{
		Method: http.MethodPatch, Path: "/api/entityduplicates", StatusCode: 400,
		Body: []byte(`{"entity1_id":["already merged"]}`),
	}).Once()

	resp, body := do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/merge", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.JSONEq(t, `{"entity1_id":["already merged"]}`, string(raw["detail"]))
	assert.JSONEq(t, `"error"`, string(raw["level"]))

	resp, _ = do(t, http.MethodGet, ts.URL+"/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIgnoreAndDelete(t *testing.T) {
	ts, client := newTestServer(t)
	id := openSession(t, ts, client).Session.ID

	client.On("Ignore", mock.Anything, testPair).Return(json.RawMessage(`{}`), nil).Once()
	resp, _ := do(t, http.MethodPost, ts.URL+"/sessions/"+id+"/ignore", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, ts.URL+"/sessions?status=ignored", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions []model.Session
	require.NoError(t, json.Unmarshal(body, &sessions))
	assert.Len(t, sessions, 1)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session not found", decodeNote(t, body).Error)
}

func TestExportSession(t *testing.T) {
	ts, client := newTestServer(t)
	id := openSession(t, ts, client).Session.ID

	resp, body := do(t, http.MethodGet, ts.URL+"/sessions/"+id+"/export?format=csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "session-1,2.csv")
	assert.True(t, strings.HasPrefix(string(body), "field,label,"))

	resp, _ = do(t, http.MethodGet, ts.URL+"/sessions/"+id+"/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListDuplicates(t *testing.T) {
	ts, client := newTestServer(t)

	client.On("List", mock.Anything, mock.MatchedBy(func(f filter.Duplicates) bool {
		return f.Search == "ann" && len(f.Algorithms) == 1
	})).Return(&dupapi.ListResponse{Count: 1, Results: []model.DuplicatePairMetadata{{ID: 5}}}, nil).Once()

	resp, body := do(t, http.MethodGet, ts.URL+"/duplicates?search=ann&algorithm=namesim", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var list dupapi.ListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Count)
}

func TestListDuplicates_InvalidFilter(t *testing.T) {
	ts, client := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/duplicates?similarity=150&start_date=nope", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var note struct {
		Level  string           `json:"level"`
		Detail []filter.Problem `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(body, &note))
	assert.Equal(t, "warning", note.Level)
	assert.NotEmpty(t, note.Detail)
	client.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestExportDuplicates(t *testing.T) {
	ts, client := newTestServer(t)

	client.On("List", mock.Anything, mock.Anything).Return(&dupapi.ListResponse{
		Results: []model.DuplicatePairMetadata{{ID: 5, Entity1: model.EntityRef{ID: 1}, Entity2: model.EntityRef{ID: 2}}},
	}, nil).Once()

	resp, body := do(t, http.MethodGet, ts.URL+"/duplicates/export?format=xlsx", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.NotEmpty(t, body)
}

func TestBackendUnavailable(t *testing.T) {
	ts, client := newTestServer(t)

	client.On("List", mock.Anything, mock.Anything).Return(nil, resilience.ErrCircuitOpen).Once()

	resp, body := do(t, http.MethodGet, ts.URL+"/duplicates", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "error", decodeNote(t, body).Level)
}

func TestAnalyses(t *testing.T) {
	ts, client := newTestServer(t)
	params := model.AnalysisParameters{Algorithm: "namesim", EntityTypeID: 3, Fields: []string{"first_name"}}

	resp, _ := do(t, http.MethodPost, ts.URL+"/analyses", `{"algorithm":"namesim"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	client.On("LaunchAnalysis", mock.Anything, params).Return(&model.AnalysisJob{ID: 8, Status: model.JobQueued, Parameters: params}, nil).Twice()
	resp, body := do(t, http.MethodPost, ts.URL+"/analyses", `{"algorithm":"namesim","entity_type_id":3,"fields":["first_name"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	client.On("GetAnalysis", mock.Anything, int64(8)).Return(&model.AnalysisJob{ID: 8, Status: model.JobError, Parameters: params}, nil)
	resp, body = do(t, http.MethodPost, ts.URL+"/analyses/8/relaunch", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodGet, ts.URL+"/analyses/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	client.On("ListAnalyses", mock.Anything, 0, 0).Return(&dupapi.AnalysisList{Count: 1}, nil).Once()
	resp, _ = do(t, http.MethodGet, ts.URL+"/analyses", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.AssertExpectations(t)
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "https://ui.example.org", resp.Header.Get("Access-Control-Allow-Origin"))
}
