package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/fractalmind-ai/bytebpe/internal/bpe"
	"github.com/fractalmind-ai/bytebpe/internal/config"
	"github.com/fractalmind-ai/bytebpe/internal/store"
	"github.com/fractalmind-ai/bytebpe/internal/tokenizer"
)

// Manager hands out one shared tokenizer service per model name, loading
// models from the store the first time they are requested.
type Manager struct {
	store        *store.Store
	defaultModel string
	cacheSize    int

	mu       sync.RWMutex
	services map[string]*tokenizer.Service
}

// NewManager creates a registry over st. st may be nil when every model is
// registered directly.
func NewManager(st *store.Store, defaultModel string, cacheSize int) *Manager {
	return &Manager{
		store:        st,
		defaultModel: defaultModel,
		cacheSize:    cacheSize,
		services:     make(map[string]*tokenizer.Service),
	}
}

// DefaultModel returns the name used when a request names no model.
func (m *Manager) DefaultModel() string {
	return m.defaultModel
}

// Register installs model under name, replacing any loaded service.
func (m *Manager) Register(name string, model *bpe.Model) (*tokenizer.Service, error) {
	if err := config.ValidateModelName(name); err != nil {
		return nil, err
	}
	svc, err := tokenizer.NewService(name, model, m.cacheSize)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.services[name] = svc
	m.mu.Unlock()
	return svc, nil
}

// Get returns the service for name, or for the default model when name is empty.
func (m *Manager) Get(ctx context.Context, name string) (*tokenizer.Service, error) {
	name, err := m.resolveName(name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	svc, ok := m.services[name]
	m.mu.RUnlock()
	if ok {
		return svc, nil
	}

	if m.store == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrModelNotFound, name)
	}
	model, err := m.store.LoadModel(ctx, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.services[name]; ok {
		return existing, nil
	}
	svc, err = tokenizer.NewService(name, model, m.cacheSize)
	if err != nil {
		return nil, err
	}
	m.services[name] = svc
	return svc, nil
}

// Reload reads name from the store again and swaps it in, so a model
// retrained or imported while serving takes effect. A model that is gone
// from the store is evicted; on other failures the loaded service keeps
// serving.
func (m *Manager) Reload(ctx context.Context, name string) (*tokenizer.Service, error) {
	name, err := m.resolveName(name)
	if err != nil {
		return nil, err
	}
	if m.store == nil {
		return nil, fmt.Errorf("cannot reload %s: no model store", name)
	}
	model, err := m.store.LoadModel(ctx, name)
	if errors.Is(err, store.ErrModelNotFound) {
		m.Evict(name)
	}
	if err != nil {
		return nil, err
	}
	svc, err := tokenizer.NewService(name, model, m.cacheSize)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.services[name] = svc
	m.mu.Unlock()
	log.Printf("🔄 Reloaded model %s (%d merges)", name, model.NumMerges())
	return svc, nil
}

func (m *Manager) resolveName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = m.defaultModel
	}
	if err := config.ValidateModelName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Evict drops a loaded service so the next Get reloads it from the store.
func (m *Manager) Evict(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, name)
}

// Loaded returns info for every loaded service, sorted by name.
func (m *Manager) Loaded() []tokenizer.Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]tokenizer.Info, 0, len(m.services))
	for _, svc := range m.services {
		infos = append(infos, svc.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Names lists every model available, stored or registered.
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	if m.store != nil {
		models, err := m.store.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range models {
			seen[info.Name] = struct{}{}
		}
	}
	m.mu.RLock()
	for name := range m.services {
		seen[name] = struct{}{}
	}
	m.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
