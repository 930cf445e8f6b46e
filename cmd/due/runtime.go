package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/agent"
	"github.com/dotsetgreg/due/pkg/bus"
	"github.com/dotsetgreg/due/pkg/config"
	"github.com/dotsetgreg/due/pkg/corpus"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/dotsetgreg/due/pkg/gateway"
	"github.com/dotsetgreg/due/pkg/logger"
	"github.com/dotsetgreg/due/pkg/persistence"
)

// agentRuntime bundles what every command needs: config, store and the
// agent loaded from (or about to be saved to) the configured snapshot.
type agentRuntime struct {
	cfg   *config.Config
	store persistence.Store
	agent agent.Agent
	// restored is false when no snapshot existed and the agent was trained
	// from the configured corpus.
	restored bool
}

func openStore(cfg *config.Config) (persistence.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite":
		return persistence.NewSQLiteStore(cfg.StoragePath(), cfg.Storage.KeepRevisions)
	case "file":
		return persistence.NewFileStore(cfg.StorageDir(), "")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// actionCatalog narrows the builtin actions to the configured ones.
func actionCatalog(cfg *config.Config) (*action.Registry, error) {
	reg, missing := builtinActions(nil).Subset(cfg.Agent.Actions)
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown actions in agent.actions: %s", strings.Join(missing, ", "))
	}
	return reg, nil
}

// openRuntime loads the configured snapshot. With fresh set, or when no
// snapshot exists, a new agent is built and trained on the corpus.
func openRuntime(ctx context.Context, cfg *config.Config, fresh bool) (*agentRuntime, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	rt := &agentRuntime{cfg: cfg, store: store}

	if !fresh {
		a, err := persistence.LoadAgent(ctx, store, cfg.Storage.Snapshot, builtinActions(nil))
		switch {
		case err == nil:
			rt.agent = a
			rt.restored = true
			logger.InfoCF("cli", "Agent restored", map[string]interface{}{
				"snapshot": cfg.Storage.Snapshot,
				"agent_id": a.ID(),
				"episodes": len(a.LearnedEpisodes()),
			})
			return rt, nil
		case !errors.Is(err, persistence.ErrNotFound):
			_ = store.Close()
			return nil, err
		}
	}

	catalog, err := actionCatalog(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a, err := agent.New(cfg.AgentConfig(), agent.WithID(cfg.Agent.ID), agent.WithActions(catalog))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rt.agent = a

	eps, err := loadCorpus(cfg, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := a.LearnEpisodes(ctx, eps); err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.InfoCF("cli", "Agent trained from corpus", map[string]interface{}{
		"agent_id": a.ID(),
		"kind":     a.Kind(),
		"episodes": len(a.LearnedEpisodes()),
	})
	return rt, nil
}

// loadCorpus reads the toy corpus when enabled, the configured paths and
// any extra files.
func loadCorpus(cfg *config.Config, extra []string) ([]*episode.Episode, error) {
	var eps []*episode.Episode
	if cfg.Corpus.Toy {
		toy, err := corpus.Toy()
		if err != nil {
			return nil, err
		}
		eps = append(eps, toy...)
	}
	paths := append(cfg.CorpusPaths(), extra...)
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil || len(matches) == 0 {
			matches = []string{p}
		}
		for _, m := range matches {
			loaded, err := corpus.LoadFile(m)
			if err != nil {
				return nil, err
			}
			eps = append(eps, loaded...)
		}
	}
	return eps, nil
}

func (rt *agentRuntime) save(ctx context.Context) (persistence.Entry, error) {
	return persistence.SaveAgent(ctx, rt.store, rt.cfg.Storage.Snapshot, rt.agent, persistence.Format(rt.cfg.Storage.Format))
}

// newLoop wires the agent into a gateway loop. Archiving needs a store that
// supports it.
func (rt *agentRuntime) newLoop(msgBus *bus.MessageBus, onLearn func()) *gateway.Loop {
	opts := gateway.Options{
		LearnOnClose: rt.cfg.Gateway.LearnOnClose,
		MaxSessions:  rt.cfg.Gateway.MaxSessions,
		OnLearn:      onLearn,
	}
	if archiver, ok := rt.store.(gateway.Archiver); ok && rt.cfg.Gateway.ArchiveEpisodes {
		opts.Archive = archiver
	}
	return gateway.NewLoop(rt.agent, msgBus, opts)
}

func (rt *agentRuntime) Close() error {
	return rt.store.Close()
}
