package mqtt

import (
	"errors"
	"fmt"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/config"
	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
)

type service struct {
	client paho_mqtt.Client
	qos    byte
	retain bool
}

func New(client paho_mqtt.Client, qos byte, retain bool) *service {
	return &service{
		client: client,
		qos:    qos,
		retain: retain,
	}
}

// NewClientOptions builds paho options from the broker configuration.
func NewClientOptions(cfg *config.MQTTConfig) *paho_mqtt.ClientOptions {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(time.Duration(cfg.Keepalive) * time.Second)
	if cfg.Username != "" {
		opts = opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	return opts
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(time.Second * 5)
	if res {
		return nil
	}
	if err := token.Error(); err != nil {
		return err
	}
	return errors.New("unable to connect in time")
}

func (s *service) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *service) Disconnect() {
	s.client.Disconnect(250)
}
