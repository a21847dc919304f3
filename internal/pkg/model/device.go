package model

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Property is the last observed value of a single object property. Entries
// are immutable once stored; an update replaces the whole entry.
type Property struct {
	ID        string    `json:"property_id"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Unit      string    `json:"unit,omitempty"`
}

// Object is an addressable data point on a device, keyed by type and
// instance. Type and instance are immutable; everything else is guarded so
// the poller can update values while the publisher and persistence walk them.
type Object struct {
	Type     string
	Instance uint32

	mu          sync.RWMutex
	name        string
	description string
	properties  map[string]*Property
	lastPoll    time.Time

	// unsupported records property ids this object has proven not to carry.
	// In-memory only: capability is re-verified after every restart.
	unsupported map[string]struct{}
}

// objectDoc is the persistence shape of an Object.
type objectDoc struct {
	Type        string               `json:"object_type"`
	Instance    uint32               `json:"object_instance"`
	Name        string               `json:"object_name,omitempty"`
	Description string               `json:"description,omitempty"`
	Properties  map[string]*Property `json:"properties"`
	LastPoll    time.Time            `json:"last_poll,omitempty"`
}

func NewObject(objectType string, instance uint32) *Object {
	return &Object{
		Type:        objectType,
		Instance:    instance,
		properties:  make(map[string]*Property),
		unsupported: make(map[string]struct{}),
	}
}

// Key returns the object key unique within a device, "type:instance".
func (o *Object) Key() string {
	return fmt.Sprintf("%s:%d", o.Type, o.Instance)
}

func (o *Object) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}

func (o *Object) SetName(name string) {
	o.mu.Lock()
	o.name = name
	o.mu.Unlock()
}

func (o *Object) LastPoll() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastPoll
}

// Property returns the stored entry for a property id.
func (o *Object) Property(id string) (*Property, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	prop, ok := o.properties[id]
	return prop, ok
}

// PropertyList returns a point-in-time snapshot of the stored properties.
// The entries themselves are immutable and safe to read after release.
func (o *Object) PropertyList() []*Property {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Property, 0, len(o.properties))
	for _, prop := range o.properties {
		out = append(out, prop)
	}
	return out
}

// UpdateProperty replaces the stored value for a property id and stamps the
// object's last poll time.
func (o *Object) UpdateProperty(id string, value any, unit string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.properties == nil {
		o.properties = make(map[string]*Property)
	}
	o.properties[id] = &Property{
		ID:        id,
		Value:     value,
		Timestamp: time.Now().UTC(),
		Unit:      unit,
	}
	o.lastPoll = time.Now().UTC()
}

// MarkUnsupported records that this object does not carry the given property.
// The set only grows; a marked property is never read again for the lifetime
// of the process.
func (o *Object) MarkUnsupported(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unsupported == nil {
		o.unsupported = make(map[string]struct{})
	}
	o.unsupported[id] = struct{}{}
}

func (o *Object) IsUnsupported(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.unsupported[id]
	return ok
}

// MarshalJSON writes the persistence shape under the read lock so a document
// snapshot never races a concurrent poll update.
func (o *Object) MarshalJSON() ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return json.Marshal(objectDoc{
		Type:        o.Type,
		Instance:    o.Instance,
		Name:        o.name,
		Description: o.description,
		Properties:  o.properties,
		LastPoll:    o.lastPoll,
	})
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var doc objectDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	o.Type = doc.Type
	o.Instance = doc.Instance
	o.name = doc.Name
	o.description = doc.Description
	o.properties = doc.Properties
	if o.properties == nil {
		o.properties = make(map[string]*Property)
	}
	o.lastPoll = doc.LastPoll
	o.unsupported = make(map[string]struct{})
	return nil
}

// Identification carries the identity properties read from a device object
// during discovery. Empty fields are left untouched on apply.
type Identification struct {
	Name                string
	Vendor              string
	Model               string
	FirmwareRevision    string
	ApplicationSoftware string
	ProtocolVersion     string
	ProtocolRevision    string
}

// Device is a field device learned from discovery, holding its objects and
// their last observed property values. The id is immutable; all other state
// is guarded for concurrent access by the poller, publisher and control
// surface.
type Device struct {
	ID uint32

	mu                  sync.RWMutex
	address             string
	name                string
	vendor              string
	model               string
	firmwareRevision    string
	applicationSoftware string
	protocolVersion     string
	protocolRevision    string
	maxAPDULength       uint32
	segmentation        string
	networkNumber       *uint16
	objects             map[string]*Object
	enabled             bool
	discoveredAt        time.Time
	lastSeen            time.Time
}

// deviceDoc is the persistence shape of a Device.
type deviceDoc struct {
	ID                  uint32             `json:"device_id"`
	Address             string             `json:"address"`
	Name                string             `json:"device_name,omitempty"`
	Vendor              string             `json:"vendor_name,omitempty"`
	Model               string             `json:"model_name,omitempty"`
	FirmwareRevision    string             `json:"firmware_revision,omitempty"`
	ApplicationSoftware string             `json:"application_software_version,omitempty"`
	ProtocolVersion     string             `json:"protocol_version,omitempty"`
	ProtocolRevision    string             `json:"protocol_revision,omitempty"`
	MaxAPDULength       uint32             `json:"max_apdu_length"`
	Segmentation        string             `json:"segmentation_supported"`
	NetworkNumber       *uint16            `json:"network_number,omitempty"`
	Objects             map[string]*Object `json:"objects"`
	Enabled             bool               `json:"enabled"`
	DiscoveredAt        time.Time          `json:"discovered_at"`
	LastSeen            time.Time          `json:"last_seen"`
}

func NewDevice(id uint32, address string) *Device {
	now := time.Now().UTC()
	return &Device{
		ID:           id,
		address:      address,
		objects:      make(map[string]*Object),
		enabled:      true,
		discoveredAt: now,
		lastSeen:     now,
	}
}

func (d *Device) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.address
}

func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Device) Vendor() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vendor
}

func (d *Device) MaxAPDULength() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.maxAPDULength
}

func (d *Device) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *Device) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

func (d *Device) TouchLastSeen() {
	d.mu.Lock()
	d.lastSeen = time.Now().UTC()
	d.mu.Unlock()
}

// SetAnnouncement refreshes the addressing and capability fields carried by a
// presence announcement.
func (d *Device) SetAnnouncement(address string, maxAPDULength uint32, segmentation string, network *uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.address = address
	d.maxAPDULength = maxAPDULength
	d.segmentation = segmentation
	if network != nil {
		d.networkNumber = network
	}
}

// ApplyIdentification copies the non-empty identity fields onto the device.
// A failed identification read never blanks a previously learned value.
func (d *Device) ApplyIdentification(ident Identification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ident.Name != "" {
		d.name = ident.Name
	}
	if ident.Vendor != "" {
		d.vendor = ident.Vendor
	}
	if ident.Model != "" {
		d.model = ident.Model
	}
	if ident.FirmwareRevision != "" {
		d.firmwareRevision = ident.FirmwareRevision
	}
	if ident.ApplicationSoftware != "" {
		d.applicationSoftware = ident.ApplicationSoftware
	}
	if ident.ProtocolVersion != "" {
		d.protocolVersion = ident.ProtocolVersion
	}
	if ident.ProtocolRevision != "" {
		d.protocolRevision = ident.ProtocolRevision
	}
}

// MergeFrom refreshes this device from a newer announcement of the same id:
// addressing and capability fields are replaced, identification is taken
// field-by-field when non-empty, and every learned object is preserved.
func (d *Device) MergeFrom(other *Device) {
	other.mu.RLock()
	address := other.address
	maxAPDU := other.maxAPDULength
	segmentation := other.segmentation
	network := other.networkNumber
	ident := Identification{
		Name:                other.name,
		Vendor:              other.vendor,
		Model:               other.model,
		FirmwareRevision:    other.firmwareRevision,
		ApplicationSoftware: other.applicationSoftware,
		ProtocolVersion:     other.protocolVersion,
		ProtocolRevision:    other.protocolRevision,
	}
	other.mu.RUnlock()

	d.SetAnnouncement(address, maxAPDU, segmentation, network)
	d.ApplyIdentification(ident)
	d.TouchLastSeen()
}

// AddObject adds or replaces an object on this device and touches last seen.
func (d *Device) AddObject(obj *Object) {
	d.mu.Lock()
	if d.objects == nil {
		d.objects = make(map[string]*Object)
	}
	d.objects[obj.Key()] = obj
	d.lastSeen = time.Now().UTC()
	d.mu.Unlock()
}

func (d *Device) GetObject(objectType string, instance uint32) (*Object, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[fmt.Sprintf("%s:%d", objectType, instance)]
	return obj, ok
}

// ObjectList returns a point-in-time snapshot of the device's objects.
func (d *Device) ObjectList() []*Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Object, 0, len(d.objects))
	for _, obj := range d.objects {
		out = append(out, obj)
	}
	return out
}

func (d *Device) ObjectCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}

// MarshalJSON writes the persistence shape under the read lock; nested
// objects lock themselves.
func (d *Device) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(deviceDoc{
		ID:                  d.ID,
		Address:             d.address,
		Name:                d.name,
		Vendor:              d.vendor,
		Model:               d.model,
		FirmwareRevision:    d.firmwareRevision,
		ApplicationSoftware: d.applicationSoftware,
		ProtocolVersion:     d.protocolVersion,
		ProtocolRevision:    d.protocolRevision,
		MaxAPDULength:       d.maxAPDULength,
		Segmentation:        d.segmentation,
		NetworkNumber:       d.networkNumber,
		Objects:             d.objects,
		Enabled:             d.enabled,
		DiscoveredAt:        d.discoveredAt,
		LastSeen:            d.lastSeen,
	})
}

func (d *Device) UnmarshalJSON(data []byte) error {
	var doc deviceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	d.ID = doc.ID
	d.address = doc.Address
	d.name = doc.Name
	d.vendor = doc.Vendor
	d.model = doc.Model
	d.firmwareRevision = doc.FirmwareRevision
	d.applicationSoftware = doc.ApplicationSoftware
	d.protocolVersion = doc.ProtocolVersion
	d.protocolRevision = doc.ProtocolRevision
	d.maxAPDULength = doc.MaxAPDULength
	d.segmentation = doc.Segmentation
	d.networkNumber = doc.NetworkNumber
	d.objects = doc.Objects
	if d.objects == nil {
		d.objects = make(map[string]*Object)
	}
	d.enabled = doc.Enabled
	d.discoveredAt = doc.DiscoveredAt
	d.lastSeen = doc.LastSeen
	return nil
}
