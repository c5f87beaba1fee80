package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/prepstack/enrich-cli/internal/cache"
	"github.com/prepstack/enrich-cli/internal/enrich"
	"github.com/prepstack/enrich-cli/internal/model"
	"github.com/prepstack/enrich-cli/internal/store"
)

// appEnv bundles the runtime dependencies the commands share.
type appEnv struct {
	Cache   *cache.Cache
	Master  *store.MasterStore
	Jobs    *store.JobStore
	Runner  *enrich.Runner
	Manager *enrich.Manager
}

// initApp wires the cache, stores and orchestrator from the loaded config
// and runs job-store migrations.
func initApp(ctx context.Context) (*appEnv, error) {
	c := cache.New(cache.Options{
		Dir:                 cfg.Cache.Dir,
		MaxAge:              cfg.Cache.MaxAge(),
		MaxEntries:          cfg.Cache.MaxEntries,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
	})

	jobs, err := store.NewJobStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := jobs.Migrate(ctx); err != nil {
		jobs.Close()
		return nil, eris.Wrap(err, "migrate job store")
	}

	runner := enrich.NewRunner(cfg, c)
	return &appEnv{
		Cache:   c,
		Master:  store.NewMasterStore(cfg.Data.Dir, cfg.Data.BackupDir),
		Jobs:    jobs,
		Runner:  runner,
		Manager: enrich.NewManager(runner, jobs, enrich.LogEmitter{}),
	}, nil
}

// resolveModel returns the effective model for request bookkeeping: the
// requested one when set, otherwise the backend's configured default. Cache
// keys include the model, so both entry points must resolve it the same way.
func resolveModel(backend model.Backend, requested string) string {
	if requested != "" {
		return requested
	}
	switch backend {
	case model.BackendOpenAI:
		return cfg.OpenAI.Model
	case model.BackendAnthropic:
		return cfg.Anthropic.Model
	default:
		return cfg.Ollama.Model
	}
}

func (e *appEnv) Close() {
	if e.Jobs != nil {
		e.Jobs.Close()
	}
}
