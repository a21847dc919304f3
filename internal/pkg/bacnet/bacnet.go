package bacnet

import "fmt"

// Object types as transported on the wire, dash-separated lowercase.
const (
	ObjectTypeDevice       = "device"
	ObjectTypeAnalogInput  = "analog-input"
	ObjectTypeAnalogOutput = "analog-output"
	ObjectTypeAnalogValue  = "analog-value"
	ObjectTypeBinaryInput  = "binary-input"
	ObjectTypeBinaryOutput = "binary-output"
	ObjectTypeBinaryValue  = "binary-value"
)

// Property identifiers used by the bridge.
const (
	PropObjectName          = "object-name"
	PropObjectList          = "object-list"
	PropPresentValue        = "present-value"
	PropStatusFlags         = "status-flags"
	PropUnits               = "units"
	PropVendorName          = "vendor-name"
	PropModelName           = "model-name"
	PropFirmwareRevision    = "firmware-revision"
	PropApplicationSoftware = "application-software-version"
	PropProtocolVersion     = "protocol-version"
	PropProtocolRevision    = "protocol-revision"
	PropDescription         = "description"
)

// ObjectID identifies one object on a device.
type ObjectID struct {
	Type     string
	Instance uint32
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%s:%d", id.Type, id.Instance)
}

// DeviceObjectID returns the identifier of a device's own device object.
func DeviceObjectID(deviceID uint32) ObjectID {
	return ObjectID{Type: ObjectTypeDevice, Instance: deviceID}
}

// IAm is a captured device-presence announcement.
type IAm struct {
	DeviceID      uint32
	Source        string
	MaxAPDULength uint32
	Segmentation  string
	NetworkNumber *uint16
}

// Message is a link-layer service request handed to the transport's service
// access point, below the application layer.
type Message struct {
	Destination string
	Function    BVLCFunction
	TTL         uint16
}
