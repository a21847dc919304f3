package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/anicoll/bacnet-integration/internal/pkg/bacnet"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"go.uber.org/zap"
)

const (
	// maxObjectListEntries bounds indexed enumeration regardless of the
	// length a device declares.
	maxObjectListEntries = 500

	// assumedObjectListLength is used when a device cannot answer the
	// declared-length read at array index zero.
	assumedObjectListLength = 100
)

// DiscoverDeviceObjects enumerates the device's object list and attaches an
// Object for every entry except the device object itself. Display names are
// read best-effort.
func (e *Engine) DiscoverDeviceObjects(ctx context.Context, device *model.Device) error {
	objectIDs, err := e.readObjectList(ctx, device)
	if err != nil {
		return err
	}

	added := 0
	for _, objectID := range objectIDs {
		if objectID.Type == bacnet.ObjectTypeDevice {
			continue
		}
		obj := model.NewObject(objectID.Type, objectID.Instance)
		if name, err := e.readWithTimeout(ctx, device.Address(), objectID, bacnet.PropObjectName, nil); err == nil && name != nil {
			obj.SetName(stringify(name))
		}
		device.AddObject(obj)
		added++
	}
	e.logger.Info("object enumeration complete",
		zap.Uint32("device_id", device.ID),
		zap.Int("objects", added))
	return nil
}

// readObjectList reads the object-list property in one exchange, falling back
// to element-by-element indexed reads when the response is too large.
func (e *Engine) readObjectList(ctx context.Context, device *model.Device) ([]bacnet.ObjectID, error) {
	objectID := bacnet.DeviceObjectID(device.ID)

	value, err := e.readWithTimeout(ctx, device.Address(), objectID, bacnet.PropObjectList, nil)
	if err == nil {
		return coerceObjectList(value)
	}
	if !errors.Is(err, bacnet.ErrAbortBufferOverflow) {
		return nil, err
	}

	e.logger.Info("object list too large for one read, falling back to indexed enumeration",
		zap.Uint32("device_id", device.ID))
	return e.readObjectListByIndex(ctx, device, objectID)
}

// readObjectListByIndex reads the declared list length at index zero, then
// indices 1..N, stopping early on an invalid-index answer and hard-capping
// at maxObjectListEntries.
func (e *Engine) readObjectListByIndex(ctx context.Context, device *model.Device, objectID bacnet.ObjectID) ([]bacnet.ObjectID, error) {
	length := assumedObjectListLength
	zero := uint32(0)
	if value, err := e.readWithTimeout(ctx, device.Address(), objectID, bacnet.PropObjectList, &zero); err == nil {
		if declared, ok := toInt(value); ok && declared > 0 {
			length = declared
		}
	} else {
		e.logger.Debug("declared object-list length unavailable, assuming bound",
			zap.Uint32("device_id", device.ID),
			zap.Int("assumed", length))
	}
	if length > maxObjectListEntries {
		length = maxObjectListEntries
	}

	objects := make([]bacnet.ObjectID, 0, length)
	for i := 1; i <= length; i++ {
		index := uint32(i)
		value, err := e.readWithTimeout(ctx, device.Address(), objectID, bacnet.PropObjectList, &index)
		if errors.Is(err, bacnet.ErrInvalidArrayIndex) {
			break
		}
		if err != nil {
			e.logger.Warn("indexed object-list read failed, stopping enumeration",
				zap.Uint32("device_id", device.ID),
				zap.Uint32("index", index),
				zap.Error(err))
			break
		}
		entry, ok := value.(bacnet.ObjectID)
		if !ok {
			e.logger.Warn("unexpected object-list entry", zap.Uint32("index", index), zap.Any("value", value))
			continue
		}
		objects = append(objects, entry)
	}
	return objects, nil
}

func coerceObjectList(value any) ([]bacnet.ObjectID, error) {
	switch list := value.(type) {
	case []bacnet.ObjectID:
		return list, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("object-list read returned %T, expected object identifier list", value)
	}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
