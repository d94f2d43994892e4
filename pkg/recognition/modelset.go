package recognition

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/models"
	"golang.org/x/sync/singleflight"
)

// EngineFactory builds an engine from a directory holding every model file.
type EngineFactory func(dir string) (Engine, error)

// ModelSet owns the models and the engine built from them. One ModelSet is
// shared by every session in a process. Loads are coalesced: concurrent
// callers wait on the same fetch, success stays resident until Close, and a
// failed load leaves nothing behind so the next call starts over.
type ModelSet struct {
	factory  EngineFactory
	cacheDir string
	manifest []models.Artifact

	group singleflight.Group

	mu     sync.RWMutex
	engine Engine
	dir    string
}

// NewModelSet creates an empty model set. Remote repositories are
// materialized into cacheDir.
func NewModelSet(factory EngineFactory, cacheDir string) *ModelSet {
	return &ModelSet{
		factory:  factory,
		cacheDir: cacheDir,
		manifest: models.Manifest(),
	}
}

// Load fetches every artifact from repo and initializes the engine. It
// returns immediately once loaded. The fetch runs under the context of the
// caller that started it; later callers can stop waiting through their own.
func (m *ModelSet) Load(ctx context.Context, repo models.Repository) error {
	if m.Ready() {
		return nil
	}

	ch := m.group.DoChan("load", func() (interface{}, error) {
		if m.Ready() {
			return nil, nil
		}
		return nil, m.load(ctx, repo)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *ModelSet) load(ctx context.Context, repo models.Repository) error {
	log := logging.Component("models")
	log.Info("Loading face models")

	dir, err := models.Materialize(ctx, repo, m.manifest, m.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to fetch models: %w", err)
	}

	engine, err := m.factory(dir)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	m.mu.Lock()
	m.engine = engine
	m.dir = dir
	m.mu.Unlock()

	log.WithField("dir", dir).Info("Face models loaded")
	return nil
}

// Engine returns the loaded engine.
func (m *ModelSet) Engine() (Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.engine == nil {
		return nil, ErrModelNotLoaded
	}
	return m.engine, nil
}

// Ready reports whether the engine is loaded.
func (m *ModelSet) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine != nil
}

// Dir returns the directory the engine was built from.
func (m *ModelSet) Dir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dir
}

// Close releases the engine. A later Load starts over.
func (m *ModelSet) Close() error {
	m.mu.Lock()
	engine := m.engine
	m.engine = nil
	m.dir = ""
	m.mu.Unlock()

	if engine == nil {
		return nil
	}
	return engine.Close()
}
