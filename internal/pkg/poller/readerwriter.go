package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/bacnet"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"go.uber.org/zap"
)

type transport interface {
	ReadProperty(ctx context.Context, address string, object bacnet.ObjectID, property string, index *uint32) (any, error)
	WriteProperty(ctx context.Context, address string, object bacnet.ObjectID, property string, value any, priority, index *uint32) error
}

type deviceRegistry interface {
	Get(id uint32) (*model.Device, bool)
}

// ReaderWriter issues bounded property reads and writes against registry
// devices and learns, per object, which properties are not supported.
type ReaderWriter struct {
	transport   transport
	registry    deviceRegistry
	readTimeout time.Duration
	unitTypes   map[string]struct{}
	logger      *zap.Logger
}

// defaultUnitObjectTypes are the analog-capable types probed for an
// engineering unit alongside present-value.
var defaultUnitObjectTypes = []string{
	"analog-input", "analog-output", "analog-value",
	"accumulator", "pulse-converter", "loop",
	"large-analog-value",
}

func NewReaderWriter(t transport, reg deviceRegistry, readTimeout time.Duration, unitObjectTypes []string) *ReaderWriter {
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	if len(unitObjectTypes) == 0 {
		unitObjectTypes = defaultUnitObjectTypes
	}
	unitTypes := make(map[string]struct{}, len(unitObjectTypes))
	for _, t := range unitObjectTypes {
		unitTypes[t] = struct{}{}
	}
	return &ReaderWriter{
		transport:   t,
		registry:    reg,
		readTimeout: readTimeout,
		unitTypes:   unitTypes,
		logger:      zap.L(),
	}
}

// ReadProperty reads one property from an object on a registry device with a
// bounded timeout, touching the device's last-seen on success.
func (rw *ReaderWriter) ReadProperty(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, index *uint32) (any, error) {
	device, ok := rw.registry.Get(deviceID)
	if !ok {
		return nil, fmt.Errorf("device %d not found in registry", deviceID)
	}

	value, err := rw.read(ctx, device.Address(), bacnet.ObjectID{Type: objectType, Instance: instance}, property, index)
	if err != nil {
		return nil, err
	}
	device.TouchLastSeen()
	return value, nil
}

// WriteProperty writes a value to an object on a registry device, optionally
// at a priority or array index.
func (rw *ReaderWriter) WriteProperty(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, value any, priority, index *uint32) error {
	device, ok := rw.registry.Get(deviceID)
	if !ok {
		return fmt.Errorf("device %d not found in registry", deviceID)
	}

	rw.logger.Info("writing property",
		zap.Uint32("device_id", deviceID),
		zap.String("object", fmt.Sprintf("%s:%d", objectType, instance)),
		zap.String("property", property),
		zap.Any("value", value))

	writeCtx, cancel := context.WithTimeout(ctx, rw.readTimeout)
	defer cancel()
	if err := rw.transport.WriteProperty(writeCtx, device.Address(), bacnet.ObjectID{Type: objectType, Instance: instance}, property, value, priority, index); err != nil {
		return err
	}
	device.TouchLastSeen()
	return nil
}

func (rw *ReaderWriter) read(ctx context.Context, address string, object bacnet.ObjectID, property string, index *uint32) (any, error) {
	readCtx, cancel := context.WithTimeout(ctx, rw.readTimeout)
	defer cancel()
	return rw.transport.ReadProperty(readCtx, address, object, property, index)
}
