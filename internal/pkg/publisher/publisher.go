// Package publisher maps registry state onto outbound bus messages,
// honoring per-object topic overrides.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

type bus interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

type deviceSource interface {
	Enabled() []*model.Device
}

type mappingSource interface {
	Get(deviceID uint32, objectType string, instance uint32) (model.TopicMapping, bool)
}

// Bridge periodically republishes every property of every enabled device.
// Delivery is best-effort, at most once per cycle.
type Bridge struct {
	bus      bus
	devices  deviceSource
	mappings mappingSource
	prefix   string
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(b bus, devices deviceSource, mappings mappingSource, prefix string, interval time.Duration) *Bridge {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Bridge{
		bus:      b,
		devices:  devices,
		mappings: mappings,
		prefix:   prefix,
		interval: interval,
		logger:   zap.L(),
	}
}

// Start launches the publish loop; a no-op when already running.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.logger.Warn("publish bridge already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	go b.run(ctx, done)
	b.logger.Info("publish bridge started", zap.Duration("interval", b.interval))
}

// Stop cancels the loop and waits for its exit. Safe when not running.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	b.logger.Info("publish bridge stopped")
}

func (b *Bridge) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Cycle()
		}
	}
}

// Cycle publishes one full pass over the enabled devices. When the bus is
// down the pass is skipped entirely and retried on the next interval.
func (b *Bridge) Cycle() {
	if !b.bus.IsConnected() {
		b.logger.Warn("bus not connected, skipping publish cycle")
		return
	}

	published := 0
	for _, device := range b.devices.Enabled() {
		b.publishDeviceStatus(device)
		published += b.publishDevice(device)
	}
	if published > 0 {
		b.logger.Debug("publish cycle complete", zap.Int("messages", published))
	}
}

func (b *Bridge) publishDevice(device *model.Device) int {
	count := 0
	for _, obj := range device.ObjectList() {
		for _, prop := range obj.PropertyList() {
			topic := b.ResolveTopic(device.ID, obj, prop.ID)
			payload, err := buildPayload(device, obj, prop)
			if err != nil {
				b.logger.Error("failed to encode payload",
					zap.Uint32("device_id", device.ID),
					zap.String("object", obj.Key()),
					zap.Error(err))
				continue
			}
			if err := b.bus.Publish(topic, payload); err != nil {
				b.logger.Error("publish failed", zap.String("topic", topic), zap.Error(err))
				continue
			}
			count++
		}
	}
	return count
}

// publishDeviceStatus emits one retained status message per device per
// cycle, independent of property iteration.
func (b *Bridge) publishDeviceStatus(device *model.Device) {
	topic := fmt.Sprintf("%s/%d/status", b.prefix, device.ID)
	payload, err := buildStatusPayload(device)
	if err != nil {
		b.logger.Error("failed to encode status payload", zap.Uint32("device_id", device.ID), zap.Error(err))
		return
	}
	if err := b.bus.PublishRetained(topic, payload); err != nil {
		b.logger.Error("status publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// ResolveTopic returns the mapping override for the object when one is
// enabled, otherwise the default template
// {prefix}/{device_id}/{object_type}/{instance}/{property}.
func (b *Bridge) ResolveTopic(deviceID uint32, obj *model.Object, propertyID string) string {
	if mapping, ok := b.mappings.Get(deviceID, obj.Type, obj.Instance); ok && mapping.Enabled {
		if topic := mapping.ResolvedTopic(); topic != "" {
			return topic
		}
	}
	return fmt.Sprintf("%s/%d/%s/%d/%s", b.prefix, deviceID, normalizeTypeSegment(obj.Type), obj.Instance, propertyID)
}

// normalizeTypeSegment turns a wire object type into a stable topic segment,
// e.g. "analog-input" -> "analog_input".
func normalizeTypeSegment(objectType string) string {
	return strings.ReplaceAll(slug.Make(objectType), "-", "_")
}
