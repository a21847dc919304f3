package poller

import (
	"context"
	"errors"
	"fmt"

	"github.com/anicoll/bacnet-integration/internal/pkg/bacnet"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"go.uber.org/zap"
)

// presentValueTypes are the object types that carry a present-value. When a
// poll asks for present-value, objects outside this set are pruned before any
// round trip is attempted.
var presentValueTypes = map[string]struct{}{
	"analog-input": {}, "analog-output": {}, "analog-value": {},
	"binary-input": {}, "binary-output": {}, "binary-value": {},
	"multi-state-input": {}, "multi-state-output": {}, "multi-state-value": {},
	"accumulator": {}, "pulse-converter": {}, "loop": {},
	"integer-value": {}, "positive-integer-value": {},
	"large-analog-value": {}, "octetstring-value": {},
	"characterstring-value": {}, "time-value": {}, "datetime-value": {},
	"datepattern-value": {}, "timepattern-value": {}, "datetimepattern-value": {},
}

// PollObject reads the requested properties from one object, storing values
// on the object and learning which properties it does not support. The
// returned map holds only the properties that produced a value.
func (rw *ReaderWriter) PollObject(ctx context.Context, device *model.Device, obj *model.Object, propertyIDs []string) map[string]any {
	results := make(map[string]any)
	objectID := bacnet.ObjectID{Type: obj.Type, Instance: obj.Instance}

	for _, propertyID := range propertyIDs {
		if obj.IsUnsupported(propertyID) {
			continue
		}

		value, err := rw.read(ctx, device.Address(), objectID, propertyID, nil)
		switch {
		case err == nil && value != nil:
			unit := rw.readUnit(ctx, device, obj, propertyID)
			obj.UpdateProperty(propertyID, value, unit)
			results[propertyID] = value

		case err == nil:
			// The device answered without a value: the property is not there.
			obj.MarkUnsupported(propertyID)
			rw.logger.Debug("property returned no value, marking unsupported",
				zap.Uint32("device_id", device.ID),
				zap.String("object", objectID.String()),
				zap.String("property", propertyID))

		case errors.Is(err, bacnet.ErrUnknownProperty):
			obj.MarkUnsupported(propertyID)

		default:
			// Timeouts, oversized responses and unknown failures may be
			// transient; leave the property eligible for the next cycle.
			rw.logger.Warn("property read failed",
				zap.Uint32("device_id", device.ID),
				zap.String("object", objectID.String()),
				zap.String("property", propertyID),
				zap.Error(err))
		}
	}
	return results
}

// readUnit lazily reads the engineering unit for analog-capable objects when
// polling present-value. The unit probe is independently skippable: once an
// object proves it has no units property it is never probed again.
func (rw *ReaderWriter) readUnit(ctx context.Context, device *model.Device, obj *model.Object, propertyID string) string {
	if propertyID != bacnet.PropPresentValue {
		return ""
	}
	if _, ok := rw.unitTypes[obj.Type]; !ok {
		return ""
	}
	if obj.IsUnsupported(bacnet.PropUnits) {
		return ""
	}

	value, err := rw.read(ctx, device.Address(), bacnet.ObjectID{Type: obj.Type, Instance: obj.Instance}, bacnet.PropUnits, nil)
	switch {
	case err == nil && value != nil:
		// Units may arrive as an enumeration value rather than text; keep
		// whatever the device said in string form.
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", value)
	case err == nil, errors.Is(err, bacnet.ErrUnknownProperty):
		obj.MarkUnsupported(bacnet.PropUnits)
		return ""
	default:
		rw.logger.Debug("unit read failed",
			zap.Uint32("device_id", device.ID),
			zap.String("object", obj.Key()),
			zap.Error(err))
		return ""
	}
}

// PollDeviceObjects polls every object on a device. A failure on one object
// never aborts the rest, and the device's last-seen is touched once at the
// end of the pass.
func (rw *ReaderWriter) PollDeviceObjects(ctx context.Context, device *model.Device, propertyIDs []string) error {
	objects := device.ObjectList()
	if len(objects) == 0 {
		rw.logger.Debug("device has no objects to poll", zap.Uint32("device_id", device.ID))
		return nil
	}

	wantsPresentValue := false
	for _, p := range propertyIDs {
		if p == bacnet.PropPresentValue {
			wantsPresentValue = true
			break
		}
	}

	polled, skipped := 0, 0
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wantsPresentValue {
			if _, ok := presentValueTypes[obj.Type]; !ok {
				skipped++
				continue
			}
		}
		if results := rw.PollObject(ctx, device, obj, propertyIDs); len(results) > 0 {
			polled++
		}
	}

	device.TouchLastSeen()
	rw.logger.Debug("device poll complete",
		zap.Uint32("device_id", device.ID),
		zap.Int("objects_with_values", polled),
		zap.Int("objects_skipped", skipped))
	return nil
}
