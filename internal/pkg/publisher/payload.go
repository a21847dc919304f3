package publisher

import (
	"encoding/json"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/model"
)

type payloadDevice struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type payloadObject struct {
	Type     string `json:"type"`
	Instance uint32 `json:"instance"`
	Name     string `json:"name"`
}

type propertyPayload struct {
	Value     any           `json:"value"`
	Timestamp time.Time     `json:"timestamp"`
	Device    payloadDevice `json:"device"`
	Object    payloadObject `json:"object"`
	Property  string        `json:"property"`
	Unit      string        `json:"unit,omitempty"`
}

type statusPayload struct {
	DeviceID    uint32    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	Address     string    `json:"address"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	ObjectCount int       `json:"object_count"`
}

func buildPayload(device *model.Device, obj *model.Object, prop *model.Property) ([]byte, error) {
	return json.Marshal(propertyPayload{
		Value:     prop.Value,
		Timestamp: prop.Timestamp,
		Device: payloadDevice{
			ID:      device.ID,
			Name:    device.Name(),
			Address: device.Address(),
		},
		Object: payloadObject{
			Type:     obj.Type,
			Instance: obj.Instance,
			Name:     obj.Name(),
		},
		Property: prop.ID,
		Unit:     prop.Unit,
	})
}

func buildStatusPayload(device *model.Device) ([]byte, error) {
	return json.Marshal(statusPayload{
		DeviceID:    device.ID,
		DeviceName:  device.Name(),
		Address:     device.Address(),
		Online:      device.Enabled(),
		LastSeen:    device.LastSeen(),
		ObjectCount: device.ObjectCount(),
	})
}
