// Package session drives reconciliation sessions: it loads a duplicate pair
// from the backend, applies operator selections through a reconcile.View,
// persists every change, and submits merge or ignore decisions.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/reconcile"
	"github.com/sells-group/dedupe-cli/internal/store"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = eris.New("session: not found")
	// ErrNotReady is returned when a merge is submitted while readiness
	// forbids it.
	ErrNotReady = eris.New("session: merge not ready")
	// ErrClosed is returned when a merged or ignored session is modified.
	ErrClosed = eris.New("session: closed")
)

// State is a session together with its current readiness.
type State struct {
	Session   *model.Session      `json:"session"`
	Readiness reconcile.Readiness `json:"readiness"`
}

// Manager owns reconciliation sessions. Mutations are serialised.
type Manager struct {
	client dupapi.Client
	store  store.Store
	policy reconcile.Policy

	mu sync.Mutex
}

// NewManager creates a Manager.
func NewManager(client dupapi.Client, st store.Store, policy reconcile.Policy) *Manager {
	return &Manager{client: client, store: st, policy: policy}
}

// Open starts a session for pair, or resumes the open one if it exists.
func (m *Manager) Open(ctx context.Context, pair model.Pair) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.FindOpenSession(ctx, pair)
	if err != nil {
		return nil, eris.Wrap(err, "session: find open")
	}
	if existing != nil {
		zap.L().Debug("session: resuming",
			zap.String("session_id", existing.ID), zap.String("pair", pair.String()))
		return m.state(existing), nil
	}
	return m.load(ctx, pair)
}

// Reload discards any open session for pair and starts a new one from
// fresh backend data.
func (m *Manager) Reload(ctx context.Context, pair model.Pair) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.FindOpenSession(ctx, pair)
	if err != nil {
		return nil, eris.Wrap(err, "session: find open")
	}
	if existing != nil {
		if err := m.store.DeleteSession(ctx, existing.ID); err != nil {
			return nil, eris.Wrap(err, "session: discard previous")
		}
	}
	m.client.Forget(pair)
	return m.load(ctx, pair)
}

func (m *Manager) load(ctx context.Context, pair model.Pair) (*State, error) {
	var (
		details  *model.DetailResponse
		metadata []model.DuplicatePairMetadata
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		details, err = m.client.Details(gctx, pair)
		return eris.Wrap(err, "session: fetch details")
	})
	g.Go(func() error {
		var err error
		metadata, err = m.client.Metadata(gctx, pair)
		return eris.Wrap(err, "session: fetch metadata")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := reconcile.NewView(details.Fields, metadata, m.policy)
	sess := &model.Session{
		Pair:        pair,
		Status:      model.SessionOpen,
		Descriptor1: details.Descriptor1,
		Descriptor2: details.Descriptor2,
	}
	view.Save(sess)
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "session: save")
	}

	zap.L().Info("session: opened",
		zap.String("session_id", sess.ID),
		zap.String("pair", pair.String()),
		zap.Int("fields", len(sess.Canonical)),
	)
	return &State{Session: sess, Readiness: view.Readiness()}, nil
}

// Get returns the session with its readiness.
func (m *Manager) Get(ctx context.Context, id string) (*State, error) {
	sess, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.state(sess), nil
}

// List returns persisted sessions.
func (m *Manager) List(ctx context.Context, filter store.SessionFilter) ([]model.Session, error) {
	sessions, err := m.store.ListSessions(ctx, filter)
	return sessions, eris.Wrap(err, "session: list")
}

// Audit returns the submissions made from a session.
func (m *Manager) Audit(ctx context.Context, id string) ([]model.AuditEntry, error) {
	entries, err := m.store.ListAudit(ctx, id)
	return entries, eris.Wrap(err, "session: list audit")
}

// Select resolves one field in favour of side.
func (m *Manager) Select(ctx context.Context, id, fieldKey string, side model.Side) (*State, error) {
	return m.mutate(ctx, id, func(v *reconcile.View) {
		if !v.Select(fieldKey, side) {
			zap.L().Debug("session: selection had no effect",
				zap.String("session_id", id), zap.String("field", fieldKey), zap.String("side", string(side)))
		}
	})
}

// SelectAll resolves every differing field in favour of side.
func (m *Manager) SelectAll(ctx context.Context, id string, side model.Side) (*State, error) {
	return m.mutate(ctx, id, func(v *reconcile.View) { v.SelectAll(side) })
}

// Reset clears all selections.
func (m *Manager) Reset(ctx context.Context, id string) (*State, error) {
	return m.mutate(ctx, id, func(v *reconcile.View) { v.Reset() })
}

// ShowOnlyUnmatched toggles the unmatched-only display filter.
func (m *Manager) ShowOnlyUnmatched(ctx context.Context, id string, on bool) (*State, error) {
	return m.mutate(ctx, id, func(v *reconcile.View) { v.ShowOnlyUnmatched(on) })
}

// Readiness reports whether the session can be merged.
func (m *Manager) Readiness(ctx context.Context, id string) (reconcile.Readiness, error) {
	sess, err := m.get(ctx, id)
	if err != nil {
		return reconcile.Readiness{}, err
	}
	return reconcile.RestoreView(sess, m.policy).Readiness(), nil
}

// Merge submits the merge query of the session. The session is left open
// and unchanged when the backend rejects the submission.
func (m *Manager) Merge(ctx context.Context, id string) (*State, json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getOpen(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	view := reconcile.RestoreView(sess, m.policy)
	ready := view.Readiness()
	if !ready.CanSubmit {
		return nil, nil, eris.Wrapf(ErrNotReady, "session %s: %d unmatched", id, ready.UnmatchedRemaining)
	}

	query := view.Query()
	resp, err := m.client.Merge(ctx, sess.Pair, query)
	if err != nil {
		zap.L().Error("session: merge rejected",
			zap.String("session_id", id), zap.String("pair", sess.Pair.String()), zap.Error(err))
		return nil, nil, eris.Wrap(err, "session: merge")
	}

	if err := m.close(ctx, sess, model.SessionMerged, &model.AuditEntry{
		Action:   model.AuditMerge,
		Query:    query,
		Response: resp,
	}); err != nil {
		return nil, resp, err
	}
	zap.L().Info("session: merged",
		zap.String("session_id", id), zap.String("pair", sess.Pair.String()), zap.Int("fields", len(query)))
	return &State{Session: sess, Readiness: ready}, resp, nil
}

// Ignore marks the pair of the session as not a duplicate.
func (m *Manager) Ignore(ctx context.Context, id string) (*State, json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getOpen(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	resp, err := m.client.Ignore(ctx, sess.Pair)
	if err != nil {
		return nil, nil, eris.Wrap(err, "session: ignore")
	}
	if err := m.close(ctx, sess, model.SessionIgnored, &model.AuditEntry{
		Action:   model.AuditIgnore,
		Response: resp,
	}); err != nil {
		return nil, resp, err
	}
	zap.L().Info("session: ignored", zap.String("session_id", id), zap.String("pair", sess.Pair.String()))
	return m.state(sess), resp, nil
}

// Delete removes a session. Audit entries are kept.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteSession(ctx, id); err != nil {
		return translate(err, id)
	}
	return nil
}

func (m *Manager) close(ctx context.Context, sess *model.Session, status model.SessionStatus, entry *model.AuditEntry) error {
	sess.Status = status
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return eris.Wrap(err, "session: save closed")
	}
	entry.SessionID = sess.ID
	entry.Pair = sess.Pair
	if err := m.store.RecordAudit(ctx, entry); err != nil {
		return eris.Wrap(err, "session: record audit")
	}
	return nil
}

func (m *Manager) mutate(ctx context.Context, id string, fn func(v *reconcile.View)) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	view := reconcile.RestoreView(sess, m.policy)
	fn(view)
	view.Save(sess)
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "session: save")
	}
	return &State{Session: sess, Readiness: view.Readiness()}, nil
}

func (m *Manager) state(sess *model.Session) *State {
	return &State{Session: sess, Readiness: reconcile.RestoreView(sess, m.policy).Readiness()}
}

func (m *Manager) get(ctx context.Context, id string) (*model.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	return sess, nil
}

func (m *Manager) getOpen(ctx context.Context, id string) (*model.Session, error) {
	sess, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionOpen {
		return nil, eris.Wrapf(ErrClosed, "session %s is %s", id, sess.Status)
	}
	return sess, nil
}

func translate(err error, id string) error {
	if eris.Is(err, store.ErrNotFound) {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return eris.Wrapf(err, "session: load %s", id)
}
