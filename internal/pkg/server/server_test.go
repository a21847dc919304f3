package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/discovery"
	"github.com/anicoll/bacnet-integration/internal/pkg/foreign"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeEngine struct {
	discoverFunc func(ctx context.Context, low, high *uint32, timeout time.Duration) ([]*model.Device, error)
	objectsFunc  func(ctx context.Context, device *model.Device) error
}

func (e *fakeEngine) Discover(ctx context.Context, low, high *uint32, timeout time.Duration) ([]*model.Device, error) {
	if e.discoverFunc != nil {
		return e.discoverFunc(ctx, low, high, timeout)
	}
	return nil, nil
}

func (e *fakeEngine) DiscoverDeviceObjects(ctx context.Context, device *model.Device) error {
	if e.objectsFunc != nil {
		return e.objectsFunc(ctx, device)
	}
	return nil
}

func (e *fakeEngine) State() discovery.State { return discovery.StateIdle }

type fakeReaderWriter struct {
	readFunc  func(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, index *uint32) (any, error)
	writeFunc func(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, value any, priority, index *uint32) error
}

func (rw *fakeReaderWriter) ReadProperty(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, index *uint32) (any, error) {
	if rw.readFunc != nil {
		return rw.readFunc(ctx, deviceID, objectType, instance, property, index)
	}
	return nil, errors.New("not wired")
}

func (rw *fakeReaderWriter) WriteProperty(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, value any, priority, index *uint32) error {
	if rw.writeFunc != nil {
		return rw.writeFunc(ctx, deviceID, objectType, instance, property, value, priority, index)
	}
	return errors.New("not wired")
}

type fakeDevices struct {
	devices map[uint32]*model.Device
}

func (d *fakeDevices) Get(id uint32) (*model.Device, bool) {
	device, ok := d.devices[id]
	return device, ok
}

func (d *fakeDevices) All() []*model.Device {
	out := make([]*model.Device, 0, len(d.devices))
	for _, device := range d.devices {
		out = append(out, device)
	}
	return out
}

func (d *fakeDevices) Enabled() []*model.Device {
	out := make([]*model.Device, 0, len(d.devices))
	for _, device := range d.devices {
		if device.Enabled() {
			out = append(out, device)
		}
	}
	return out
}

func (d *fakeDevices) SetEnabled(id uint32, enabled bool) bool {
	device, ok := d.devices[id]
	if !ok {
		return false
	}
	device.SetEnabled(enabled)
	return true
}

func (d *fakeDevices) Remove(id uint32) bool {
	if _, ok := d.devices[id]; !ok {
		return false
	}
	delete(d.devices, id)
	return true
}

func (d *fakeDevices) Persist() error { return nil }

type fakeMappings struct {
	mappings map[string]model.TopicMapping
}

func (m *fakeMappings) Put(mapping model.TopicMapping) error {
	if m.mappings == nil {
		m.mappings = make(map[string]model.TopicMapping)
	}
	m.mappings[mapping.Key()] = mapping
	return nil
}

func (m *fakeMappings) Remove(deviceID uint32, objectType string, instance uint32) bool {
	key := model.MappingKey(deviceID, objectType, instance)
	if _, ok := m.mappings[key]; !ok {
		return false
	}
	delete(m.mappings, key)
	return true
}

func (m *fakeMappings) All() []model.TopicMapping {
	out := make([]model.TopicMapping, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		out = append(out, mapping)
	}
	return out
}

type fakeRegistrar struct {
	triggerErr error
	triggered  int
}

func (f *fakeRegistrar) Trigger(context.Context) error {
	f.triggered++
	return f.triggerErr
}

func (f *fakeRegistrar) State() foreign.State { return foreign.StateRegistered }

type fixture struct {
	engine    *fakeEngine
	rw        *fakeReaderWriter
	devices   *fakeDevices
	mappings  *fakeMappings
	registrar Registrar
}

func newFixture() *fixture {
	return &fixture{
		engine:   &fakeEngine{},
		rw:       &fakeReaderWriter{},
		devices:  &fakeDevices{devices: make(map[uint32]*model.Device)},
		mappings: &fakeMappings{},
	}
}

func (f *fixture) handler(t *testing.T) http.Handler {
	t.Helper()
	original := zap.L()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(func() { zap.ReplaceGlobals(original) })
	return New(f.engine, f.rw, f.devices, f.mappings, f.registrar).Routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	f := newFixture()
	device := model.NewDevice(150, "10.0.0.5:47808")
	f.devices.devices[150] = device
	f.registrar = &fakeRegistrar{}

	rec := do(t, f.handler(t), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["devices"])
	assert.Equal(t, float64(1), resp["enabled_devices"])
	assert.Equal(t, "idle", resp["discovery_state"])
	assert.Equal(t, "registered", resp["registration_state"])
}

func TestPostDiscoverForwardsRange(t *testing.T) {
	f := newFixture()
	var gotLow, gotHigh *uint32
	var gotTimeout time.Duration
	f.engine.discoverFunc = func(_ context.Context, low, high *uint32, timeout time.Duration) ([]*model.Device, error) {
		gotLow, gotHigh, gotTimeout = low, high, timeout
		return []*model.Device{model.NewDevice(150, "10.0.0.5:47808")}, nil
	}

	rec := do(t, f.handler(t), http.MethodPost, "/discover", `{"low_limit":100,"high_limit":200,"timeout":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, uint32(100), *gotLow)
	assert.Equal(t, uint32(200), *gotHigh)
	assert.Equal(t, 10*time.Second, gotTimeout)

	var resp []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, float64(150), resp[0]["device_id"])
}

func TestDeviceEnableDisable(t *testing.T) {
	f := newFixture()
	f.devices.devices[150] = model.NewDevice(150, "10.0.0.5:47808")
	h := f.handler(t)

	rec := do(t, h, http.MethodPost, "/devices/150/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.devices.devices[150].Enabled())

	rec = do(t, h, http.MethodPost, "/devices/150/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.devices.devices[150].Enabled())

	rec = do(t, h, http.MethodPost, "/devices/999/enable", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDeviceNotFound(t *testing.T) {
	f := newFixture()
	rec := do(t, f.handler(t), http.MethodGet, "/devices/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDeviceBadID(t *testing.T) {
	f := newFixture()
	rec := do(t, f.handler(t), http.MethodGet, "/devices/banana", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDevice(t *testing.T) {
	f := newFixture()
	f.devices.devices[150] = model.NewDevice(150, "10.0.0.5:47808")
	h := f.handler(t)

	rec := do(t, h, http.MethodDelete, "/devices/150", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/devices/150", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostRead(t *testing.T) {
	f := newFixture()
	f.rw.readFunc = func(_ context.Context, deviceID uint32, objectType string, instance uint32, property string, _ *uint32) (any, error) {
		require.Equal(t, uint32(150), deviceID)
		require.Equal(t, "analog-input", objectType)
		require.Equal(t, uint32(1), instance)
		require.Equal(t, "present-value", property)
		return 72.5, nil
	}

	body := `{"device_id":150,"object_type":"analog-input","object_instance":1,"property_id":"present-value"}`
	rec := do(t, f.handler(t), http.MethodPost, "/read", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp valueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 72.5, resp.Value)
}

func TestPostReadUpstreamFailure(t *testing.T) {
	f := newFixture()
	f.rw.readFunc = func(context.Context, uint32, string, uint32, string, *uint32) (any, error) {
		return nil, errors.New("device timeout")
	}

	body := `{"device_id":150,"object_type":"analog-input","object_instance":1,"property_id":"present-value"}`
	rec := do(t, f.handler(t), http.MethodPost, "/read", body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPostWriteWithPriority(t *testing.T) {
	f := newFixture()
	var gotValue any
	var gotPriority *uint32
	f.rw.writeFunc = func(_ context.Context, _ uint32, _ string, _ uint32, _ string, value any, priority, _ *uint32) error {
		gotValue, gotPriority = value, priority
		return nil
	}

	body := `{"device_id":150,"object_type":"analog-output","object_instance":3,"property_id":"present-value","value":21.5,"priority":8}`
	rec := do(t, f.handler(t), http.MethodPost, "/write", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 21.5, gotValue)
	require.NotNil(t, gotPriority)
	assert.Equal(t, uint32(8), *gotPriority)
}

func TestMappingLifecycle(t *testing.T) {
	f := newFixture()
	h := f.handler(t)

	body := `{"device_id":150,"object_type":"analog-input","object_instance":1,"custom_topic":"site/ahu1/temp","enabled":true}`
	rec := do(t, h, http.MethodPost, "/mappings", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/mappings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mappings []model.TopicMapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mappings))
	require.Len(t, mappings, 1)
	assert.Equal(t, "site/ahu1/temp", mappings[0].ResolvedTopic())

	rec = do(t, h, http.MethodDelete, "/mappings/150/analog-input/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/mappings/150/analog-input/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostRegistrationDisabled(t *testing.T) {
	f := newFixture()
	rec := do(t, f.handler(t), http.MethodPost, "/registration", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPostRegistrationTriggers(t *testing.T) {
	f := newFixture()
	registrar := &fakeRegistrar{}
	f.registrar = registrar

	rec := do(t, f.handler(t), http.MethodPost, "/registration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, registrar.triggered)
}
