// Package monitoring summarises reconciliation and analysis activity.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/store"
)

// scanLimit bounds how many records one snapshot reads per table.
const scanLimit = 10000

// Snapshot holds a point-in-time view of reconciliation activity.
type Snapshot struct {
	// Sessions touched within the lookback window.
	SessionsTotal   int `json:"sessions_total"`
	SessionsOpen    int `json:"sessions_open"`
	SessionsMerged  int `json:"sessions_merged"`
	SessionsIgnored int `json:"sessions_ignored"`
	// FieldsMerged sums the merge query sizes of merged sessions.
	FieldsMerged int `json:"fields_merged"`

	// Analyses created within the lookback window.
	AnalysesTotal    int     `json:"analyses_total"`
	AnalysesRunning  int     `json:"analyses_running"`
	AnalysesSuccess  int     `json:"analyses_success"`
	AnalysesFailed   int     `json:"analyses_failed"`
	AnalysisFailRate float64 `json:"analysis_fail_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the subset of the store the collector reads.
type Source interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]model.Session, error)
	ListAnalyses(ctx context.Context, limit int) ([]model.AnalysisJob, error)
}

// Collector gathers snapshots from a Source.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window. A window of
// zero or less covers everything recorded.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}

	var cutoff time.Time
	if lookbackHours > 0 {
		cutoff = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	sessions, err := c.src.ListSessions(ctx, store.SessionFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}
	for _, s := range sessions {
		if s.UpdatedAt.Before(cutoff) {
			continue
		}
		snap.SessionsTotal++
		switch s.Status {
		case model.SessionOpen:
			snap.SessionsOpen++
		case model.SessionMerged:
			snap.SessionsMerged++
			snap.FieldsMerged += len(s.Query)
		case model.SessionIgnored:
			snap.SessionsIgnored++
		}
	}

	jobs, err := c.src.ListAnalyses(ctx, scanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list analyses")
	}
	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.AnalysesTotal++
		switch {
		case j.Status == model.JobSuccess:
			snap.AnalysesSuccess++
		case j.Status.Terminal():
			snap.AnalysesFailed++
		default:
			snap.AnalysesRunning++
		}
	}
	if finished := snap.AnalysesSuccess + snap.AnalysesFailed; finished > 0 {
		snap.AnalysisFailRate = float64(snap.AnalysesFailed) / float64(finished)
	}

	return snap, nil
}
