package registry

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MappingRegistry stores per-object topic overrides, persisted on every
// mutation so control-surface edits survive a restart immediately.
type MappingRegistry struct {
	mu       sync.RWMutex
	mappings map[string]model.TopicMapping
	path     string
	logger   *zap.Logger
}

func NewMappingRegistry(path string) *MappingRegistry {
	return &MappingRegistry{
		mappings: make(map[string]model.TopicMapping),
		path:     path,
		logger:   zap.L(),
	}
}

// Put adds or replaces a mapping and persists the store.
func (r *MappingRegistry) Put(mapping model.TopicMapping) error {
	r.mu.Lock()
	r.mappings[mapping.Key()] = mapping
	r.mu.Unlock()
	return r.persist()
}

// Remove deletes a mapping, persisting when one existed.
func (r *MappingRegistry) Remove(deviceID uint32, objectType string, instance uint32) bool {
	r.mu.Lock()
	key := model.MappingKey(deviceID, objectType, instance)
	_, ok := r.mappings[key]
	if ok {
		delete(r.mappings, key)
	}
	r.mu.Unlock()
	if ok {
		if err := r.persist(); err != nil {
			r.logger.Error("failed to persist topic mappings", zap.Error(err))
		}
	}
	return ok
}

func (r *MappingRegistry) Get(deviceID uint32, objectType string, instance uint32) (model.TopicMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mapping, ok := r.mappings[model.MappingKey(deviceID, objectType, instance)]
	return mapping, ok
}

func (r *MappingRegistry) All() []model.TopicMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.mappings)
}

// Enabled returns only the mappings currently routing traffic.
func (r *MappingRegistry) Enabled() []model.TopicMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(lo.Values(r.mappings), func(m model.TopicMapping, _ int) bool {
		return m.Enabled
	})
}

func (r *MappingRegistry) persist() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.mappings, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}

// Load reads the mapping document, tolerating a missing or corrupt file.
func (r *MappingRegistry) Load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		r.logger.Error("failed to read topic mappings, starting empty", zap.String("path", r.path), zap.Error(err))
		return nil
	}

	doc := make(map[string]model.TopicMapping)
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Error("failed to decode topic mappings, starting empty", zap.String("path", r.path), zap.Error(err))
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mapping := range doc {
		r.mappings[mapping.Key()] = mapping
	}
	r.logger.Info("topic mappings loaded", zap.Int("mappings", len(r.mappings)))
	return nil
}
