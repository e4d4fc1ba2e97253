package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dedupe-cli/internal/export"
	"github.com/sells-group/dedupe-cli/internal/filter"
	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/store"
)

type selectRequest struct {
	Field string     `json:"field"`
	Side  model.Side `json:"side"`
}

type sideRequest struct {
	Side model.Side `json:"side"`
}

type unmatchedRequest struct {
	OnlyUnmatched bool `json:"only_unmatched"`
}

type submitResponse struct {
	Session  *model.Session  `json:"session"`
	Response json.RawMessage `json:"response,omitempty"`
}

// --- Duplicates ---

func (s *Server) listDuplicates(w http.ResponseWriter, r *http.Request) {
	f, err := filter.Decode(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.client.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) exportDuplicates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	q.Del("format")
	f, err := filter.Decode(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.client.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeExport(w, format, "duplicates", export.PairRecords(resp.Results))
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.SessionFilter{Status: model.SessionStatus(q.Get("status"))}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, badRequest("limit must be an integer"))
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, badRequest("offset must be an integer"))
		return
	}
	sessions, err := s.sessions.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	pair, err := model.ParsePair(r.URL.Query().Get("entities"))
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	open := s.sessions.Open
	if r.URL.Query().Get("reload") == "true" {
		open = s.sessions.Reload
	}
	state, err := open(r.Context(), pair)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectField(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Field == "" || !req.Side.Valid() {
		writeError(w, r, badRequest("field and side (entity1 or entity2) are required"))
		return
	}
	state, err := s.sessions.Select(r.Context(), chi.URLParam(r, "id"), req.Field, req.Side)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) selectAll(w http.ResponseWriter, r *http.Request) {
	var req sideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Side.Valid() {
		writeError(w, r, badRequest("side must be entity1 or entity2"))
		return
	}
	state, err := s.sessions.SelectAll(r.Context(), chi.URLParam(r, "id"), req.Side)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) toggleUnmatched(w http.ResponseWriter, r *http.Request) {
	var req unmatchedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := s.sessions.ShowOnlyUnmatched(r.Context(), chi.URLParam(r, "id"), req.OnlyUnmatched)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ready, err := s.sessions.Readiness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ready)
}

func (s *Server) mergeSession(w http.ResponseWriter, r *http.Request) {
	state, resp, err := s.sessions.Merge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Session: state.Session, Response: resp})
}

func (s *Server) ignoreSession(w http.ResponseWriter, r *http.Request) {
	state, resp, err := s.sessions.Ignore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Session: state.Session, Response: resp})
}

func (s *Server) sessionAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.sessions.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	state, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := "session-" + state.Session.Pair.String()
	writeExport(w, format, name, export.ComparisonRecords(state.Session.Canonical, s.opts.Language))
}

// --- Analyses ---

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		writeError(w, r, badRequest("page must be an integer"))
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, r, badRequest("limit must be an integer"))
		return
	}
	list, err := s.analyses.List(r.Context(), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.analyses.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) launchAnalysis(w http.ResponseWriter, r *http.Request) {
	var params model.AnalysisParameters
	if err := decodeBody(r, &params); err != nil {
		writeError(w, r, err)
		return
	}
	if params.Algorithm == "" || params.EntityTypeID == 0 || len(params.Fields) == 0 {
		writeError(w, r, badRequest("algorithm, entity_type_id and fields are required"))
		return
	}
	job, err := s.analyses.Launch(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) relaunchAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.analyses.Relaunch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// --- Stats ---

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, badRequest("lookback_hours must be a non-negative integer"))
			return
		}
		hours = n
	}
	snap, err := s.opts.Stats.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- helpers ---

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("id must be a positive integer")
	}
	return id, nil
}

func writeExport[T export.PairRecord | export.ComparisonRecord](w http.ResponseWriter, format export.Format, name string, records []T) {
	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		writeJSON(w, http.StatusInternalServerError, Notification{Error: err.Error(), Level: levelError})
		return
	}
	switch format {
	case export.FormatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	default:
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}
