package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration: defaults, overlaid by the yaml
// config file, overlaid by environment variables.
type Config struct {
	BACnet    BACnetConfig    `yaml:"bacnet"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Polling   PollingConfig   `yaml:"polling"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Devices   DevicesConfig   `yaml:"devices"`
	API       APIConfig       `yaml:"api"`
	LogLevel  string          `yaml:"log_level" env:"LOG_LEVEL"`
}

type BACnetConfig struct {
	DeviceID   uint32     `yaml:"device_id" env:"BACNET_DEVICE_ID"`
	DeviceName string     `yaml:"device_name" env:"BACNET_DEVICE_NAME"`
	Transport  string     `yaml:"transport" env:"BACNET_TRANSPORT"`
	Address    string     `yaml:"ip_address" env:"BACNET_ADDRESS"`
	Port       int        `yaml:"port" env:"BACNET_PORT"`
	BBMD       BBMDConfig `yaml:"bbmd"`
}

// BBMDConfig controls the optional foreign-device registration with a
// broadcast-management relay.
type BBMDConfig struct {
	Enabled bool   `yaml:"enabled" env:"BBMD_ENABLED"`
	Address string `yaml:"address" env:"BBMD_ADDRESS"`
	Port    int    `yaml:"port" env:"BBMD_PORT"`
	TTL     uint16 `yaml:"ttl" env:"BBMD_TTL"`
}

// Relay returns the relay address in host:port form.
func (c BBMDConfig) Relay() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

type DiscoveryConfig struct {
	AutoDiscover bool          `yaml:"auto_discover" env:"DISCOVERY_AUTO"`
	Interval     time.Duration `yaml:"discovery_interval" env:"DISCOVERY_INTERVAL"`
	WhoIsTimeout time.Duration `yaml:"who_is_timeout" env:"DISCOVERY_WHO_IS_TIMEOUT"`
}

type PollingConfig struct {
	Enabled         bool          `yaml:"enabled" env:"POLLING_ENABLED"`
	Interval        time.Duration `yaml:"default_interval" env:"POLL_INTERVAL"`
	DeviceTimeout   time.Duration `yaml:"device_timeout" env:"POLL_DEVICE_TIMEOUT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"POLL_READ_TIMEOUT"`
	Properties      []string      `yaml:"properties" env:"POLL_PROPERTIES"`
	UnitObjectTypes []string      `yaml:"unit_object_types" env:"POLL_UNIT_OBJECT_TYPES"`
}

type MQTTConfig struct {
	Broker          string        `yaml:"broker" env:"MQTT_HOST"`
	Port            int           `yaml:"port" env:"MQTT_PORT"`
	Username        string        `yaml:"username" env:"MQTT_USER"`
	Password        string        `yaml:"password" env:"MQTT_PASS"`
	ClientID        string        `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	TopicPrefix     string        `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
	QoS             byte          `yaml:"qos" env:"MQTT_QOS"`
	Retain          bool          `yaml:"retain" env:"MQTT_RETAIN"`
	Keepalive       int           `yaml:"keepalive" env:"MQTT_KEEPALIVE"`
	PublishInterval time.Duration `yaml:"publish_interval" env:"MQTT_PUBLISH_INTERVAL"`
}

type DevicesConfig struct {
	PersistenceFile string `yaml:"persistence_file" env:"DEVICES_PERSISTENCE_FILE"`
	MappingFile     string `yaml:"mapping_file" env:"MQTT_MAPPING_FILE"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"API_ENABLED"`
	Host    string `yaml:"host" env:"API_HOST"`
	Port    int    `yaml:"port" env:"API_PORT"`
}

// Default returns the built-in configuration, matching a gateway on the
// standard port publishing under the "bacnet" prefix.
func Default() *Config {
	return &Config{
		BACnet: BACnetConfig{
			DeviceID:   999999,
			DeviceName: "bacnet-mqtt-gateway",
			Transport:  "udp",
			Address:    "0.0.0.0",
			Port:       47808,
			BBMD: BBMDConfig{
				Port: 47808,
				TTL:  30,
			},
		},
		Discovery: DiscoveryConfig{
			AutoDiscover: true,
			Interval:     5 * time.Minute,
			WhoIsTimeout: 5 * time.Second,
		},
		Polling: PollingConfig{
			Enabled:       true,
			Interval:      time.Minute,
			DeviceTimeout: time.Minute,
			ReadTimeout:   5 * time.Second,
			Properties:    []string{"present-value", "status-flags"},
		},
		MQTT: MQTTConfig{
			Broker:          "localhost",
			Port:            1883,
			ClientID:        "bacnet_gateway",
			TopicPrefix:     "bacnet",
			QoS:             1,
			Retain:          true,
			Keepalive:       60,
			PublishInterval: 5 * time.Second,
		},
		Devices: DevicesConfig{
			PersistenceFile: "devices.json",
			MappingFile:     "mqtt_mappings.json",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		LogLevel: "INFO",
	}
}

// Load builds the configuration from the optional yaml file at path and the
// environment. A missing file falls back to defaults; an unparsable file is
// a fatal startup error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
