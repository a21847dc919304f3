package mqtt

import "time"

// Publish sends a payload at the configured quality of service and retain
// flag, bounded by a wait timeout. An expired wait without a token error is
// treated as delivered best-effort.
func (s *service) Publish(topic string, payload []byte) error {
	return s.publish(topic, payload, s.retain)
}

// PublishRetained sends a payload with the retain flag forced on, for status
// messages that must survive broker restarts of subscribers.
func (s *service) PublishRetained(topic string, payload []byte) error {
	return s.publish(topic, payload, true)
}

func (s *service) publish(topic string, payload []byte, retain bool) error {
	token := s.client.Publish(topic, s.qos, retain, payload)
	res := token.WaitTimeout(time.Second * 10)
	if res {
		return token.Error()
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}
