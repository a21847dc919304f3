package registry

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DeviceRegistry is the single source of truth for devices, their objects and
// property values. It persists to a JSON document keyed by device id.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[uint32]*model.Device
	path    string
	logger  *zap.Logger
}

func NewDeviceRegistry(path string) *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[uint32]*model.Device),
		path:    path,
		logger:  zap.L(),
	}
}

// AddOrMerge inserts a device, or refreshes the addressing, capability and
// identification fields of an existing one. The object map of a known device
// is preserved: discovery never drops previously learned objects.
func (r *DeviceRegistry) AddOrMerge(device *model.Device) *model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[device.ID]
	if !ok {
		r.devices[device.ID] = device
		return device
	}

	existing.MergeFrom(device)
	return existing
}

func (r *DeviceRegistry) Get(id uint32) (*model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[id]
	return device, ok
}

func (r *DeviceRegistry) All() []*model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.devices)
}

// Enabled returns the devices currently eligible for polling and publishing.
func (r *DeviceRegistry) Enabled() []*model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(lo.Values(r.devices), func(d *model.Device, _ int) bool {
		return d.Enabled()
	})
}

// SetEnabled toggles a device's enabled flag. Returns false for unknown ids.
func (r *DeviceRegistry) SetEnabled(id uint32, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return false
	}
	device.SetEnabled(enabled)
	return true
}

func (r *DeviceRegistry) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	return true
}

// Persist writes every device, including nested objects and properties, to
// the registry document.
func (r *DeviceRegistry) Persist() error {
	r.mu.RLock()
	doc := make(map[string]*model.Device, len(r.devices))
	for id, device := range r.devices {
		doc[strconv.FormatUint(uint64(id), 10)] = device
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}

// Load reads the registry document. A missing file yields an empty registry;
// a decode error is logged and startup continues with an empty registry.
func (r *DeviceRegistry) Load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		r.logger.Error("failed to read device registry, starting empty", zap.String("path", r.path), zap.Error(err))
		return nil
	}

	doc := make(map[string]*model.Device)
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Error("failed to decode device registry, starting empty", zap.String("path", r.path), zap.Error(err))
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, device := range doc {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			r.logger.Warn("skipping device with unparsable id", zap.String("key", key), zap.Error(err))
			continue
		}
		r.devices[uint32(id)] = device
	}
	r.logger.Info("device registry loaded", zap.Int("devices", len(r.devices)))
	return nil
}
