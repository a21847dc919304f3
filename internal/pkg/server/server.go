package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/discovery"
	"github.com/anicoll/bacnet-integration/internal/pkg/foreign"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"go.uber.org/zap"
)

type discoveryEngine interface {
	Discover(ctx context.Context, low, high *uint32, timeout time.Duration) ([]*model.Device, error)
	DiscoverDeviceObjects(ctx context.Context, device *model.Device) error
	State() discovery.State
}

type readerWriter interface {
	ReadProperty(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, index *uint32) (any, error)
	WriteProperty(ctx context.Context, deviceID uint32, objectType string, instance uint32, property string, value any, priority, index *uint32) error
}

type deviceRegistry interface {
	Get(id uint32) (*model.Device, bool)
	All() []*model.Device
	Enabled() []*model.Device
	SetEnabled(id uint32, enabled bool) bool
	Remove(id uint32) bool
	Persist() error
}

type mappingRegistry interface {
	Put(mapping model.TopicMapping) error
	Remove(deviceID uint32, objectType string, instance uint32) bool
	All() []model.TopicMapping
}

// Registrar is the optional foreign-device registration surface; nil when
// registration is disabled in configuration.
type Registrar interface {
	Trigger(ctx context.Context) error
	State() foreign.State
}

type server struct {
	engine    discoveryEngine
	rw        readerWriter
	devices   deviceRegistry
	mappings  mappingRegistry
	registrar Registrar
	logger    *zap.Logger
}

func New(engine discoveryEngine, rw readerWriter, devices deviceRegistry, mappings mappingRegistry, registrar Registrar) *server {
	return &server{
		engine:    engine,
		rw:        rw,
		devices:   devices,
		mappings:  mappings,
		registrar: registrar,
		logger:    zap.L(),
	}
}

// Routes wires the control-surface endpoints.
func (s *server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.getStatus)
	mux.HandleFunc("POST /discover", s.postDiscover)
	mux.HandleFunc("GET /devices", s.getDevices)
	mux.HandleFunc("GET /devices/{id}", s.getDevice)
	mux.HandleFunc("DELETE /devices/{id}", s.deleteDevice)
	mux.HandleFunc("POST /devices/{id}/enable", s.postEnableDevice)
	mux.HandleFunc("POST /devices/{id}/disable", s.postDisableDevice)
	mux.HandleFunc("POST /devices/{id}/objects", s.postDiscoverObjects)
	mux.HandleFunc("POST /read", s.postRead)
	mux.HandleFunc("POST /write", s.postWrite)
	mux.HandleFunc("GET /mappings", s.getMappings)
	mux.HandleFunc("POST /mappings", s.postMapping)
	mux.HandleFunc("DELETE /mappings/{device}/{type}/{instance}", s.deleteMapping)
	mux.HandleFunc("POST /registration", s.postRegistration)
	return LoggingMiddleware(mux)
}

func (s *server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Devices:        len(s.devices.All()),
		EnabledDevices: len(s.devices.Enabled()),
		Discovery:      string(s.engine.State()),
	}
	if s.registrar != nil {
		resp.Registration = string(s.registrar.State())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) postDiscover(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[discoveryRequest](r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	timeout := 5 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	devices, err := s.engine.Discover(r.Context(), req.LowLimit, req.HighLimit, timeout)
	if err != nil {
		handleError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(devices))
}

func (s *server) getDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, summarize(s.devices.All()))
}

func (s *server) getDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *server) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if !s.devices.Remove(id) {
		handleError(w, http.StatusNotFound, errors.New("device not found"))
		return
	}
	if err := s.devices.Persist(); err != nil {
		s.logger.Error("failed to persist device registry", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) postEnableDevice(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *server) postDisableDevice(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if !s.devices.SetEnabled(id, enabled) {
		handleError(w, http.StatusNotFound, errors.New("device not found"))
		return
	}
	s.logger.Info("device toggled", zap.Uint32("device_id", id), zap.Bool("enabled", enabled))
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *server) postDiscoverObjects(w http.ResponseWriter, r *http.Request) {
	device, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	if err := s.engine.DiscoverDeviceObjects(r.Context(), device); err != nil {
		handleError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"object_count": device.ObjectCount()})
}

func (s *server) postRead(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[readPropertyRequest](r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	value, err := s.rw.ReadProperty(r.Context(), req.DeviceID, req.ObjectType, req.ObjectInstance, req.PropertyID, req.ArrayIndex)
	if err != nil {
		handleError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Value: value})
}

func (s *server) postWrite(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[writePropertyRequest](r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rw.WriteProperty(r.Context(), req.DeviceID, req.ObjectType, req.ObjectInstance, req.PropertyID, req.Value, req.Priority, req.ArrayIndex); err != nil {
		handleError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) getMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mappings.All())
}

func (s *server) postMapping(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[mappingRequest](r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	mapping := model.TopicMapping{
		DeviceID:       req.DeviceID,
		ObjectType:     req.ObjectType,
		ObjectInstance: req.ObjectInstance,
		Topic:          req.MQTTTopic,
		CustomTopic:    req.CustomTopic,
		Enabled:        req.Enabled,
	}
	if err := s.mappings.Put(mapping); err != nil {
		handleError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapping)
}

func (s *server) deleteMapping(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathID(r, "device")
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	instance, err := pathID(r, "instance")
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if !s.mappings.Remove(deviceID, r.PathValue("type"), instance) {
		handleError(w, http.StatusNotFound, errors.New("mapping not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) postRegistration(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil {
		handleError(w, http.StatusConflict, errors.New("foreign-device registration is disabled"))
		return
	}
	if err := s.registrar.Trigger(r.Context()); err != nil {
		handleError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.registrar.State())})
}

func (s *server) deviceFromPath(w http.ResponseWriter, r *http.Request) (*model.Device, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return nil, false
	}
	device, ok := s.devices.Get(id)
	if !ok {
		handleError(w, http.StatusNotFound, errors.New("device not found"))
		return nil, false
	}
	return device, true
}

func summarize(devices []*model.Device) []deviceSummary {
	out := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceSummary{
			DeviceID:    d.ID,
			Address:     d.Address(),
			DeviceName:  d.Name(),
			VendorName:  d.Vendor(),
			Enabled:     d.Enabled(),
			ObjectCount: d.ObjectCount(),
			LastSeen:    d.LastSeen().Format(time.RFC3339),
		})
	}
	return out
}

func pathID(r *http.Request, key string) (uint32, error) {
	id, err := strconv.ParseUint(r.PathValue(key), 10, 32)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return uint32(id), nil
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func handleError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
