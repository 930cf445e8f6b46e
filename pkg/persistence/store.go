package persistence

import (
	"context"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/agent"
	"github.com/dotsetgreg/due/pkg/logger"
)

// Entry describes a stored snapshot.
type Entry struct {
	Name      string
	Revision  int64
	Size      int
	UpdatedAt time.Time
}

// Store keeps named snapshot blobs. Implementations never look inside the
// blobs.
type Store interface {
	Put(ctx context.Context, name string, blob []byte) (Entry, error)
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// SaveAgent serializes a and stores it under name.
func SaveAgent(ctx context.Context, store Store, name string, a agent.Agent, format Format) (Entry, error) {
	blob, err := Save(a, format)
	if err != nil {
		return Entry{}, err
	}
	entry, err := store.Put(ctx, name, blob)
	if err != nil {
		return Entry{}, err
	}
	logger.InfoCF("persistence", "Agent saved",
		map[string]interface{}{
			"name":     name,
			"agent_id": a.ID(),
			"revision": entry.Revision,
			"bytes":    entry.Size,
			"episodes": len(a.LearnedEpisodes()),
		})
	return entry, nil
}

// LoadAgent reads the snapshot stored under name and rebuilds the agent.
func LoadAgent(ctx context.Context, store Store, name string, catalog *action.Registry, opts ...agent.Option) (agent.Agent, error) {
	blob, err := store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return Load(blob, catalog, opts...)
}
