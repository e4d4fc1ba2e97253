// Package store persists reconciliation sessions, submission audit entries,
// and analysis job snapshots.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dedupe-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status model.SessionStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	FindOpenSession(ctx context.Context, pair model.Pair) (*model.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Audit
	RecordAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, sessionID string) ([]model.AuditEntry, error)

	// Analysis snapshots
	SaveAnalysis(ctx context.Context, job *model.AnalysisJob) error
	ListAnalyses(ctx context.Context, limit int) ([]model.AnalysisJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func decodeSession(data []byte) (*model.Session, error) {
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal session")
	}
	return &s, nil
}

func decodeAnalysis(data []byte) (*model.AnalysisJob, error) {
	var j model.AnalysisJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal analysis")
	}
	return &j, nil
}
