/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Duration is time.Duration stored as a string like "750ms"
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "duration must be a string")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type DeviceConfig struct {
	// IP of the device. Empty means wait for a broadcast with BroadcastCode,
	// or for any broadcast when BroadcastCode is empty too.
	IP            string `json:"ip,omitempty"`
	BroadcastCode string `json:"broadcastCode,omitempty"`
	CmdPort       int    `json:"cmdPort"`
}

type DiscoverConfig struct {
	Port int `json:"port"`
}

type ControlConfig struct {
	Port                int      `json:"port"`
	Timeout             Duration `json:"timeout"`
	MaxRetries          int      `json:"maxRetries"`
	HeartbeatInterval   Duration `json:"heartbeatInterval"`
	HeartbeatTimeout    Duration `json:"heartbeatTimeout"`
	DegradedThreshold   int      `json:"degradedThreshold"`
	DisconnectThreshold int      `json:"disconnectThreshold"`
}

type PointCloudConfig struct {
	Port        int `json:"port"`
	ReadBuffer  int `json:"readBuffer"`
	FrameBuffer int `json:"frameBuffer"`
}

type CalibrationConfig struct {
	Intrinsic [9]float64  `json:"intrinsic"`
	Extrinsic [12]float64 `json:"extrinsic"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
}

type ApiConfig struct {
	Address string `json:"address"`
}

type MQTTConfig struct {
	Broker   string `json:"broker,omitempty"`
	ClientID string `json:"clientID"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
}

type PublishConfig struct {
	Raw  bool        `json:"raw"`
	MQTT *MQTTConfig `json:"mqtt,omitempty"`
}

type Config struct {
	LogLevel    string             `json:"logLevel"`
	HostIP      string             `json:"hostIP"`
	DBPath      string             `json:"dbPath"`
	Device      *DeviceConfig      `json:"device"`
	Discover    *DiscoverConfig    `json:"discover"`
	Control     *ControlConfig     `json:"control"`
	PointCloud  *PointCloudConfig  `json:"pointCloud"`
	Calibration *CalibrationConfig `json:"calibration"`
	Api         *ApiConfig         `json:"api"`
	Publish     *PublishConfig     `json:"publish"`
	filepath    string
}

// Path returns the file the config is loaded from and persisted to
func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.filepath), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.filepath, data, 0644)
}

// LoadConfig reads the config file over the current values
func (c *Config) LoadConfig() error {
	data, err := os.ReadFile(c.filepath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse %s", c.filepath)
	}
	return c.Validate()
}

// Load is LoadConfig that keeps defaults when there is no config file
func (c *Config) Load() error {
	err := c.LoadConfig()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// SetMQTTBroker enables MQTT publishing. A config file without an mqtt
// section gets the default client ID and topic.
func (c *Config) SetMQTTBroker(broker string) {
	if c.Publish == nil {
		c.Publish = &PublishConfig{}
	}
	if c.Publish.MQTT == nil {
		c.Publish.MQTT = &MQTTConfig{
			ClientID: DefaultMQTTClientID,
			Topic:    DefaultMQTTTopic,
		}
	}
	c.Publish.MQTT.Broker = broker
}

// HostAddr returns the host IP the device must send data to
func (c *Config) HostAddr() net.IP {
	return net.ParseIP(c.HostIP).To4()
}

func (c *Config) Validate() error {
	if c.HostAddr() == nil {
		return ErrInvalidConfig{What: fmt.Sprintf("hostIP %q is not an IPv4 address", c.HostIP)}
	}
	if c.Device == nil || c.Discover == nil || c.Control == nil || c.PointCloud == nil ||
		c.Calibration == nil || c.Api == nil || c.Publish == nil {
		return ErrInvalidConfig{What: "missing config section"}
	}
	if c.Device.IP != "" && net.ParseIP(c.Device.IP).To4() == nil {
		return ErrInvalidConfig{What: fmt.Sprintf("device.ip %q is not an IPv4 address", c.Device.IP)}
	}
	if c.Control.Timeout.Duration <= 0 || c.Control.HeartbeatInterval.Duration <= 0 ||
		c.Control.HeartbeatTimeout.Duration <= 0 {
		return ErrInvalidConfig{What: "control timeouts and heartbeat interval must be positive"}
	}
	if c.Control.MaxRetries < 0 {
		return ErrInvalidConfig{What: "control.maxRetries must not be negative"}
	}
	if c.Control.DegradedThreshold <= 0 || c.Control.DisconnectThreshold < c.Control.DegradedThreshold {
		return ErrInvalidConfig{What: "need 0 < degradedThreshold <= disconnectThreshold"}
	}
	if c.PointCloud.FrameBuffer <= 0 {
		return ErrInvalidConfig{What: "pointCloud.frameBuffer must be positive"}
	}
	if c.Calibration.Width <= 0 || c.Calibration.Height <= 0 {
		return ErrInvalidConfig{What: "calibration width and height must be positive"}
	}
	return nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, DBFile)
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		HostIP:   DefaultHostIP,
		DBPath:   DefaultDBPath(),
		Device: &DeviceConfig{
			CmdPort: DefaultDeviceCmdPort,
		},
		Discover: &DiscoverConfig{
			Port: DefaultDiscoverPort,
		},
		Control: &ControlConfig{
			Port:                DefaultControlPort,
			Timeout:             Duration{DefaultCommandTimeout},
			MaxRetries:          DefaultCommandMaxRetries,
			HeartbeatInterval:   Duration{DefaultHeartbeatInterval},
			HeartbeatTimeout:    Duration{DefaultHeartbeatTimeout},
			DegradedThreshold:   DefaultDegradedThreshold,
			DisconnectThreshold: DefaultDisconnectThreshold,
		},
		PointCloud: &PointCloudConfig{
			Port:        DefaultDataPort,
			ReadBuffer:  DefaultReadBuffer,
			FrameBuffer: DefaultFrameBuffer,
		},
		Calibration: &CalibrationConfig{
			Intrinsic: DefaultIntrinsic,
			Extrinsic: DefaultExtrinsic,
			Width:     DefaultImageWidth,
			Height:    DefaultImageHeight,
		},
		Api: &ApiConfig{
			Address: DefaultApiAddress,
		},
		Publish: &PublishConfig{
			MQTT: &MQTTConfig{
				ClientID: DefaultMQTTClientID,
				Topic:    DefaultMQTTTopic,
			},
		},
		filepath: DefaultConfigPath(),
	}
}
