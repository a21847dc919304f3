package poller

import (
	"context"
	"testing"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/bacnet"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeTransport struct {
	readFunc  func(ctx context.Context, address string, object bacnet.ObjectID, property string, index *uint32) (any, error)
	writeFunc func(ctx context.Context, address string, object bacnet.ObjectID, property string, value any, priority, index *uint32) error
	reads     map[string]int
}

func (f *fakeTransport) ReadProperty(ctx context.Context, address string, object bacnet.ObjectID, property string, index *uint32) (any, error) {
	if f.reads == nil {
		f.reads = make(map[string]int)
	}
	f.reads[object.String()+"/"+property]++
	if f.readFunc != nil {
		return f.readFunc(ctx, address, object, property, index)
	}
	return nil, bacnet.ErrUnknownProperty
}

func (f *fakeTransport) WriteProperty(ctx context.Context, address string, object bacnet.ObjectID, property string, value any, priority, index *uint32) error {
	if f.writeFunc != nil {
		return f.writeFunc(ctx, address, object, property, value, priority, index)
	}
	return nil
}

type fakeRegistry struct {
	devices map[uint32]*model.Device
}

func (r *fakeRegistry) Get(id uint32) (*model.Device, bool) {
	device, ok := r.devices[id]
	return device, ok
}

func newTestReaderWriter(t *testing.T, transport *fakeTransport, devices ...*model.Device) *ReaderWriter {
	t.Helper()
	original := zap.L()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(func() { zap.ReplaceGlobals(original) })

	reg := &fakeRegistry{devices: make(map[uint32]*model.Device)}
	for _, d := range devices {
		reg.devices[d.ID] = d
	}
	return NewReaderWriter(transport, reg, time.Second, nil)
}

func TestPollObjectStoresValueAndUnit(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, property string, _ *uint32) (any, error) {
			switch property {
			case bacnet.PropPresentValue:
				return 72.5, nil
			case bacnet.PropUnits:
				return "degrees-fahrenheit", nil
			case bacnet.PropStatusFlags:
				return "false,false,false,false", nil
			}
			return nil, bacnet.ErrUnknownProperty
		},
	}
	device := model.NewDevice(150, "10.0.0.5:47808")
	obj := model.NewObject("analog-input", 1)
	rw := newTestReaderWriter(t, transport, device)

	results := rw.PollObject(t.Context(), device, obj, []string{bacnet.PropPresentValue, bacnet.PropStatusFlags})

	assert.Equal(t, 72.5, results[bacnet.PropPresentValue])
	prop, ok := obj.Property(bacnet.PropPresentValue)
	require.True(t, ok)
	assert.Equal(t, 72.5, prop.Value)
	assert.Equal(t, "degrees-fahrenheit", prop.Unit)
	_, ok = obj.Property(bacnet.PropStatusFlags)
	assert.True(t, ok)
}

func TestPollObjectUnknownPropertyIsStickySkipped(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, property string, _ *uint32) (any, error) {
			if property == bacnet.PropPresentValue {
				return 1.0, nil
			}
			return nil, bacnet.ErrUnknownProperty
		},
	}
	device := model.NewDevice(1, "10.0.0.1:47808")
	obj := model.NewObject("binary-input", 2)
	rw := newTestReaderWriter(t, transport, device)

	props := []string{bacnet.PropPresentValue, bacnet.PropStatusFlags}
	rw.PollObject(t.Context(), device, obj, props)
	assert.True(t, obj.IsUnsupported(bacnet.PropStatusFlags))

	rw.PollObject(t.Context(), device, obj, props)
	rw.PollObject(t.Context(), device, obj, props)

	// status-flags was read exactly once; afterwards the sticky skip holds.
	assert.Equal(t, 1, transport.reads["binary-input:2/status-flags"])
	assert.Equal(t, 3, transport.reads["binary-input:2/present-value"])
}

func TestPollObjectNoValueMarksUnsupported(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, _ string, _ *uint32) (any, error) {
			return nil, nil
		},
	}
	device := model.NewDevice(1, "10.0.0.1:47808")
	obj := model.NewObject("binary-value", 5)
	rw := newTestReaderWriter(t, transport, device)

	results := rw.PollObject(t.Context(), device, obj, []string{bacnet.PropPresentValue})
	assert.Empty(t, results)
	assert.True(t, obj.IsUnsupported(bacnet.PropPresentValue))
}

func TestPollObjectTransientErrorIsRetriedNextCycle(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, _ string, _ *uint32) (any, error) {
			return nil, bacnet.ErrTimeout
		},
	}
	device := model.NewDevice(1, "10.0.0.1:47808")
	obj := model.NewObject("analog-value", 3)
	rw := newTestReaderWriter(t, transport, device)

	rw.PollObject(t.Context(), device, obj, []string{bacnet.PropStatusFlags})
	assert.False(t, obj.IsUnsupported(bacnet.PropStatusFlags))

	rw.PollObject(t.Context(), device, obj, []string{bacnet.PropStatusFlags})
	assert.Equal(t, 2, transport.reads["analog-value:3/status-flags"])
}

func TestUnitProbeIsSkippableIndependently(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, property string, _ *uint32) (any, error) {
			if property == bacnet.PropPresentValue {
				return 12.0, nil
			}
			return nil, bacnet.ErrUnknownProperty
		},
	}
	device := model.NewDevice(1, "10.0.0.1:47808")
	obj := model.NewObject("analog-input", 8)
	rw := newTestReaderWriter(t, transport, device)

	rw.PollObject(t.Context(), device, obj, []string{bacnet.PropPresentValue})
	rw.PollObject(t.Context(), device, obj, []string{bacnet.PropPresentValue})

	// The object proved it lacks units on the first pass; present-value
	// polling continues without re-probing.
	assert.Equal(t, 1, transport.reads["analog-input:8/units"])
	assert.Equal(t, 2, transport.reads["analog-input:8/present-value"])
	prop, ok := obj.Property(bacnet.PropPresentValue)
	require.True(t, ok)
	assert.Equal(t, "", prop.Unit)
}

func TestEnumeratedUnitValueIsCoerced(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, property string, _ *uint32) (any, error) {
			if property == bacnet.PropUnits {
				// Some devices answer with the raw engineering-unit enumeration.
				return 64, nil
			}
			return 72.5, nil
		},
	}
	device := model.NewDevice(1, "10.0.0.1:47808")
	obj := model.NewObject("analog-input", 4)
	rw := newTestReaderWriter(t, transport, device)

	rw.PollObject(t.Context(), device, obj, []string{bacnet.PropPresentValue})
	prop, ok := obj.Property(bacnet.PropPresentValue)
	require.True(t, ok)
	assert.Equal(t, "64", prop.Unit)
}

func TestUnitProbeOnlyForAnalogCapableTypes(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, _ string, _ *uint32) (any, error) {
			return float64(1), nil
		},
	}
	device := model.NewDevice(1, "10.0.0.1:47808")
	obj := model.NewObject("binary-input", 1)
	rw := newTestReaderWriter(t, transport, device)

	rw.PollObject(t.Context(), device, obj, []string{bacnet.PropPresentValue})
	assert.Zero(t, transport.reads["binary-input:1/units"])
}

func TestPollDeviceObjectsPrunesTypesWithoutPresentValue(t *testing.T) {
	transport := &fakeTransport{
		readFunc: func(_ context.Context, _ string, _ bacnet.ObjectID, _ string, _ *uint32) (any, error) {
			return 1.0, nil
		},
	}
	device := model.NewDevice(9, "10.0.0.9:47808")
	device.AddObject(model.NewObject("analog-input", 1))
	device.AddObject(model.NewObject("notification-class", 1))
	rw := newTestReaderWriter(t, transport, device)

	require.NoError(t, rw.PollDeviceObjects(t.Context(), device, []string{bacnet.PropPresentValue}))

	assert.Positive(t, transport.reads["analog-input:1/present-value"])
	assert.Zero(t, transport.reads["notification-class:1/present-value"])
}

func TestPollDeviceObjectsTouchesLastSeenOnce(t *testing.T) {
	transport := &fakeTransport{}
	device := model.NewDevice(9, "10.0.0.9:47808")
	device.AddObject(model.NewObject("analog-input", 1))
	rw := newTestReaderWriter(t, transport, device)

	before := device.LastSeen()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, rw.PollDeviceObjects(t.Context(), device, []string{bacnet.PropStatusFlags}))
	assert.True(t, device.LastSeen().After(before))
}

func TestReadPropertyUnknownDevice(t *testing.T) {
	rw := newTestReaderWriter(t, &fakeTransport{})
	_, err := rw.ReadProperty(t.Context(), 42, "analog-input", 1, bacnet.PropPresentValue, nil)
	assert.Error(t, err)
}

func TestWritePropertyDelegatesToTransport(t *testing.T) {
	var gotValue any
	var gotPriority *uint32
	transport := &fakeTransport{
		writeFunc: func(_ context.Context, _ string, object bacnet.ObjectID, property string, value any, priority, _ *uint32) error {
			require.Equal(t, "analog-output:3", object.String())
			require.Equal(t, bacnet.PropPresentValue, property)
			gotValue = value
			gotPriority = priority
			return nil
		},
	}
	device := model.NewDevice(5, "10.0.0.5:47808")
	rw := newTestReaderWriter(t, transport, device)

	priority := uint32(8)
	err := rw.WriteProperty(t.Context(), 5, "analog-output", 3, bacnet.PropPresentValue, 21.5, &priority, nil)
	require.NoError(t, err)
	assert.Equal(t, 21.5, gotValue)
	assert.Equal(t, uint32(8), *gotPriority)
}
