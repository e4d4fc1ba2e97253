package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dedupe-cli/internal/analysis"
	"github.com/sells-group/dedupe-cli/internal/reqcache"
	"github.com/sells-group/dedupe-cli/internal/resilience"
	"github.com/sells-group/dedupe-cli/internal/session"
	"github.com/sells-group/dedupe-cli/internal/store"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

// env bundles the collaborators most commands need.
type env struct {
	Store    store.Store
	Client   dupapi.Client
	Sessions *session.Manager
	Analyses *analysis.Service
}

// Close releases the store.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dedupe.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initClient() dupapi.Client {
	b := cfg.Backend
	opts := []dupapi.Option{
		dupapi.WithBaseURL(b.BaseURL),
		dupapi.WithToken(b.Token),
		dupapi.WithHTTPClient(&http.Client{Timeout: b.Timeout()}),
		dupapi.WithRetry(resilience.RetryConfig{
			MaxAttempts:    b.MaxAttempts,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			JitterFraction: 0.2,
		}),
		dupapi.WithCache(reqcache.New(cfg.Cache.Size, cfg.Cache.TTL(), reqcache.WithFetchTimeout(b.Timeout()))),
	}
	if b.BreakerThreshold > 0 {
		opts = append(opts, dupapi.WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: b.BreakerThreshold,
			ResetTimeout:     b.BreakerReset(),
		})))
	}
	if b.RatePerSec > 0 {
		opts = append(opts, dupapi.WithRateLimit(b.RatePerSec, b.Burst))
	}
	return dupapi.NewClient(opts...)
}

func analysisOptions() []analysis.PollOption {
	a := cfg.Analysis
	return []analysis.PollOption{
		analysis.WithPollInterval(time.Duration(a.PollInitialMs) * time.Millisecond),
		analysis.WithPollCap(time.Duration(a.PollCapMs) * time.Millisecond),
		analysis.WithPollTimeout(time.Duration(a.PollTimeoutSecs) * time.Second),
	}
}

// initEnv wires the store, the backend client, and the services built on
// them.
func initEnv(ctx context.Context) (*env, error) {
	for _, mode := range []string{"client", "store"} {
		if err := cfg.Validate(mode); err != nil {
			return nil, err
		}
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	client := initClient()
	return &env{
		Store:    st,
		Client:   client,
		Sessions: session.NewManager(client, st, cfg.Reconcile.Policy()),
		Analyses: analysis.NewService(client, st, analysisOptions()...),
	}, nil
}
