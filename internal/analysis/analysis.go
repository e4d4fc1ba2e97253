// Package analysis launches backend duplicate-detection jobs and follows
// them until they finish.
package analysis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/store"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

// ErrJobFailed is returned by Watch when a job ends in ERROR or KILLED.
var ErrJobFailed = eris.New("analysis: job failed")

// Service wraps the analysis endpoints. Every job it sees is snapshotted
// into the store when one is configured.
type Service struct {
	client dupapi.Client
	store  store.Store
	poll   pollConfig
}

// NewService creates a Service. st may be nil.
func NewService(client dupapi.Client, st store.Store, opts ...PollOption) *Service {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{client: client, store: st, poll: cfg}
}

// List returns one page of jobs from the backend.
func (s *Service) List(ctx context.Context, page, limit int) (*dupapi.AnalysisList, error) {
	list, err := s.client.ListAnalyses(ctx, page, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: list")
	}
	for i := range list.Results {
		s.snapshot(ctx, &list.Results[i])
	}
	return list, nil
}

// History returns the locally recorded job snapshots, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]model.AnalysisJob, error) {
	if s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.ListAnalyses(ctx, limit)
	return jobs, eris.Wrap(err, "analysis: history")
}

// Get fetches the current state of one job.
func (s *Service) Get(ctx context.Context, id int64) (*model.AnalysisJob, error) {
	job, err := s.client.GetAnalysis(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: get %d", id)
	}
	s.snapshot(ctx, job)
	return job, nil
}

// Launch starts a new job.
func (s *Service) Launch(ctx context.Context, params model.AnalysisParameters) (*model.AnalysisJob, error) {
	job, err := s.client.LaunchAnalysis(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: launch")
	}
	zap.L().Info("analysis: launched",
		zap.Int64("job_id", job.ID),
		zap.String("algorithm", params.Algorithm),
		zap.Int64("entity_type_id", params.EntityTypeID),
		zap.Strings("fields", params.Fields),
	)
	s.snapshot(ctx, job)
	return job, nil
}

// Relaunch starts a new job with the parameters of an existing one.
func (s *Service) Relaunch(ctx context.Context, id int64) (*model.AnalysisJob, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: relaunch")
	}
	if !prev.Status.Terminal() {
		zap.L().Warn("analysis: relaunching a job that has not finished",
			zap.Int64("job_id", id), zap.String("status", string(prev.Status)))
	}
	job, err := s.Launch(ctx, prev.Parameters)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: relaunch %d", id)
	}
	return job, nil
}

// Watch polls a job until it reaches a terminal status or the context
// expires. onChange, when not nil, is called with every status transition,
// including the first observation. A job ending in ERROR or KILLED is
// returned along with ErrJobFailed.
func (s *Service) Watch(ctx context.Context, id int64, onChange func(*model.AnalysisJob)) (*model.AnalysisJob, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.poll.timeout)
		defer cancel()
	}

	var last model.JobStatus
	interval := s.poll.initial
	for {
		job, err := s.client.GetAnalysis(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: poll %d", id)
		}

		if job.Status != last {
			zap.L().Info("analysis: status changed",
				zap.Int64("job_id", id),
				zap.String("from", string(last)),
				zap.String("to", string(job.Status)),
			)
			s.snapshot(ctx, job)
			if onChange != nil {
				onChange(job)
			}
			last = job.Status
		}

		if job.Status.Terminal() {
			if job.Status != model.JobSuccess {
				return job, eris.Wrapf(ErrJobFailed, "analysis %d ended %s", id, job.Status)
			}
			return job, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return job, eris.Wrapf(ctx.Err(), "analysis: poll %d timed out", id)
		case <-timer.C:
		}

		interval *= 2
		if interval > s.poll.cap {
			interval = s.poll.cap
		}
	}
}

// WatchAll watches several jobs concurrently and returns their final states
// in the order of ids. The first failure cancels the remaining watches.
// onChange may be called from several goroutines at once.
func (s *Service) WatchAll(ctx context.Context, ids []int64, onChange func(*model.AnalysisJob)) ([]*model.AnalysisJob, error) {
	results := make([]*model.AnalysisJob, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			job, err := s.Watch(gctx, id, onChange)
			results[i] = job
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *Service) snapshot(ctx context.Context, job *model.AnalysisJob) {
	if s.store == nil || job == nil {
		return
	}
	if err := s.store.SaveAnalysis(ctx, job); err != nil {
		zap.L().Warn("analysis: snapshot failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}
