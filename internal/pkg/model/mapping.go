package model

import "fmt"

// TopicMapping overrides the outbound topic for one object of one device.
type TopicMapping struct {
	DeviceID       uint32 `json:"device_id"`
	ObjectType     string `json:"object_type"`
	ObjectInstance uint32 `json:"object_instance"`
	Topic          string `json:"mqtt_topic"`
	CustomTopic    string `json:"custom_topic,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// Key returns the unique mapping key "device_id:object_type:object_instance".
func (m TopicMapping) Key() string {
	return MappingKey(m.DeviceID, m.ObjectType, m.ObjectInstance)
}

// ResolvedTopic returns the topic this mapping routes to, preferring the
// custom topic when one is set.
func (m TopicMapping) ResolvedTopic() string {
	if m.CustomTopic != "" {
		return m.CustomTopic
	}
	return m.Topic
}

func MappingKey(deviceID uint32, objectType string, instance uint32) string {
	return fmt.Sprintf("%d:%s:%d", deviceID, objectType, instance)
}
