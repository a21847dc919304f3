package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/bacnet"
	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"go.uber.org/zap"
)

// State of the discovery engine. A single discovery pass moves
// IDLE -> BROADCASTING -> LISTENING -> PROCESSING -> IDLE.
type State string

const (
	StateIdle         State = "idle"
	StateBroadcasting State = "broadcasting"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
)

type transport interface {
	WhoIs(ctx context.Context, low, high *uint32) error
	ReadProperty(ctx context.Context, address string, object bacnet.ObjectID, property string, index *uint32) (any, error)
	SubscribeIAm(ch chan<- bacnet.IAm) (release func())
}

type deviceRegistry interface {
	AddOrMerge(device *model.Device) *model.Device
}

// DiscoveredFunc is invoked per device after it has been merged into the
// registry.
type DiscoveredFunc func(ctx context.Context, device *model.Device)

// Engine drives broadcast discovery and merges responders into the registry.
type Engine struct {
	transport    transport
	registry     deviceRegistry
	onDiscovered DiscoveredFunc
	readTimeout  time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	state State
}

// identificationProperties are read from every responder's device object.
// Individual read failures are expected and non-fatal.
var identificationProperties = []string{
	bacnet.PropObjectName,
	bacnet.PropVendorName,
	bacnet.PropModelName,
	bacnet.PropFirmwareRevision,
	bacnet.PropApplicationSoftware,
	bacnet.PropProtocolVersion,
	bacnet.PropProtocolRevision,
}

func New(t transport, reg deviceRegistry, readTimeout time.Duration) *Engine {
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	return &Engine{
		transport:   t,
		registry:    reg,
		readTimeout: readTimeout,
		logger:      zap.L(),
		state:       StateIdle,
	}
}

// OnDiscovered registers a callback invoked for each device merged during a
// discovery pass.
func (e *Engine) OnDiscovered(fn DiscoveredFunc) {
	e.onDiscovered = fn
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Discover broadcasts a presence request, captures responses for the timeout
// window and merges each responder into the registry. It returns the devices
// discovered by this call only; zero responses is not an error.
func (e *Engine) Discover(ctx context.Context, low, high *uint32, timeout time.Duration) ([]*model.Device, error) {
	e.logger.Info("starting device discovery", zap.Duration("timeout", timeout))
	e.setState(StateBroadcasting)
	defer e.setState(StateIdle)

	// Capture every presence announcement for the duration of this call.
	// The release runs on every exit path, restoring the transport's normal
	// inbound routing.
	captured := make(chan bacnet.IAm, 256)
	release := e.transport.SubscribeIAm(captured)
	defer release()

	if err := e.transport.WhoIs(ctx, low, high); err != nil {
		return nil, err
	}

	e.setState(StateListening)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.setState(StateProcessing)
	discovered := make([]*model.Device, 0)
	for {
		var iam bacnet.IAm
		select {
		case iam = <-captured:
		default:
			e.logger.Info("discovery complete", zap.Int("devices", len(discovered)))
			return discovered, nil
		}

		device := e.processIAm(ctx, iam)
		if device == nil {
			continue
		}
		discovered = append(discovered, device)
		if e.onDiscovered != nil {
			e.onDiscovered(ctx, device)
		}
	}
}

// processIAm turns one presence announcement into a registry device. The
// announcement is staged on a fresh device and merged through the registry,
// so a re-announcement of a known id refreshes addressing and identification
// without mutating the shared device outside the merge.
func (e *Engine) processIAm(ctx context.Context, iam bacnet.IAm) *model.Device {
	e.logger.Debug("processing announcement",
		zap.Uint32("device_id", iam.DeviceID),
		zap.String("address", iam.Source))

	device := model.NewDevice(iam.DeviceID, iam.Source)
	device.SetAnnouncement(iam.Source, iam.MaxAPDULength, iam.Segmentation, iam.NetworkNumber)
	e.enrichDevice(ctx, device)
	return e.registry.AddOrMerge(device)
}

// enrichDevice reads the identification properties from the device object.
// Most failures are "property not supported" answers and only worth a debug
// line; the device is kept either way.
func (e *Engine) enrichDevice(ctx context.Context, device *model.Device) {
	objectID := bacnet.DeviceObjectID(device.ID)
	var ident model.Identification
	for _, property := range identificationProperties {
		value, err := e.readWithTimeout(ctx, device.Address(), objectID, property, nil)
		if err != nil || value == nil {
			e.logger.Debug("could not read identification property",
				zap.Uint32("device_id", device.ID),
				zap.String("property", property),
				zap.Error(err))
			continue
		}
		applyIdentification(&ident, property, value)
	}
	device.ApplyIdentification(ident)
}

func (e *Engine) readWithTimeout(ctx context.Context, address string, object bacnet.ObjectID, property string, index *uint32) (any, error) {
	readCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()
	return e.transport.ReadProperty(readCtx, address, object, property, index)
}

func applyIdentification(ident *model.Identification, property string, value any) {
	text := stringify(value)
	switch property {
	case bacnet.PropObjectName:
		ident.Name = text
	case bacnet.PropVendorName:
		ident.Vendor = text
	case bacnet.PropModelName:
		ident.Model = text
	case bacnet.PropFirmwareRevision:
		ident.FirmwareRevision = text
	case bacnet.PropApplicationSoftware:
		ident.ApplicationSoftware = text
	case bacnet.PropProtocolVersion:
		ident.ProtocolVersion = text
	case bacnet.PropProtocolRevision:
		ident.ProtocolRevision = text
	}
}
