package server

// Request and response shapes for the control surface. This layer is a thin
// shim over the engine's public operations and carries no logic of its own.

type discoveryRequest struct {
	LowLimit  *uint32 `json:"low_limit,omitempty"`
	HighLimit *uint32 `json:"high_limit,omitempty"`
	Timeout   int     `json:"timeout,omitempty"`
}

type readPropertyRequest struct {
	DeviceID       uint32  `json:"device_id"`
	ObjectType     string  `json:"object_type"`
	ObjectInstance uint32  `json:"object_instance"`
	PropertyID     string  `json:"property_id"`
	ArrayIndex     *uint32 `json:"array_index,omitempty"`
}

type writePropertyRequest struct {
	DeviceID       uint32  `json:"device_id"`
	ObjectType     string  `json:"object_type"`
	ObjectInstance uint32  `json:"object_instance"`
	PropertyID     string  `json:"property_id"`
	Value          any     `json:"value"`
	Priority       *uint32 `json:"priority,omitempty"`
	ArrayIndex     *uint32 `json:"array_index,omitempty"`
}

type mappingRequest struct {
	DeviceID       uint32 `json:"device_id"`
	ObjectType     string `json:"object_type"`
	ObjectInstance uint32 `json:"object_instance"`
	MQTTTopic      string `json:"mqtt_topic"`
	CustomTopic    string `json:"custom_topic,omitempty"`
	Enabled        bool   `json:"enabled"`
}

type deviceSummary struct {
	DeviceID    uint32 `json:"device_id"`
	Address     string `json:"address"`
	DeviceName  string `json:"device_name"`
	VendorName  string `json:"vendor_name"`
	Enabled     bool   `json:"enabled"`
	ObjectCount int    `json:"object_count"`
	LastSeen    string `json:"last_seen"`
}

type statusResponse struct {
	Devices        int    `json:"devices"`
	EnabledDevices int    `json:"enabled_devices"`
	Discovery      string `json:"discovery_state"`
	Registration   string `json:"registration_state,omitempty"`
}

type valueResponse struct {
	Value any `json:"value"`
}
