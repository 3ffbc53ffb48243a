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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 750*time.Millisecond, cfg.Control.HeartbeatInterval.Duration)
	assert.Equal(t, 65000, cfg.Device.CmdPort)
	assert.Equal(t, 1.0, cfg.Calibration.Intrinsic[8])
}

func TestPersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")

	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	cfg.Device.IP = "192.168.1.3"
	cfg.Control.HeartbeatInterval = Duration{time.Second}
	cfg.Publish.MQTT.Broker = "tcp://127.0.0.1:1883"
	require.NoError(t, cfg.Persist(false))

	err := cfg.Persist(false)
	assert.ErrorAs(t, err, &ErrConfigFileExists{})
	require.NoError(t, cfg.Persist(true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "heartbeatInterval: 1s")

	loaded := NewDefaultConfig()
	loaded.SetPath(path)
	require.NoError(t, loaded.LoadConfig())
	assert.Equal(t, "192.168.1.3", loaded.Device.IP)
	assert.Equal(t, time.Second, loaded.Control.HeartbeatInterval.Duration)
	assert.Equal(t, "tcp://127.0.0.1:1883", loaded.Publish.MQTT.Broker)
	assert.Equal(t, cfg.Calibration.Extrinsic, loaded.Calibration.Extrinsic)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, cfg.Load())
	assert.Equal(t, DefaultDataPort, cfg.PointCloud.Port)
}

func TestSetMQTTBrokerWithoutSection(t *testing.T) {
	cfg := NewDefaultConfig()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("publish:\n  raw: true\n  mqtt: null\n"), 0644))
	cfg.SetPath(path)
	require.NoError(t, cfg.Load())
	require.Nil(t, cfg.Publish.MQTT)

	cfg.SetMQTTBroker("tcp://127.0.0.1:1883")
	require.NotNil(t, cfg.Publish.MQTT)
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.Publish.MQTT.Broker)
	assert.Equal(t, DefaultMQTTClientID, cfg.Publish.MQTT.ClientID)
	assert.Equal(t, DefaultMQTTTopic, cfg.Publish.MQTT.Topic)
	assert.True(t, cfg.Publish.Raw)

	cfg.Publish.MQTT.Topic = "custom"
	cfg.SetMQTTBroker("tcp://10.0.0.1:1883")
	assert.Equal(t, "custom", cfg.Publish.MQTT.Topic)
	assert.Equal(t, "tcp://10.0.0.1:1883", cfg.Publish.MQTT.Broker)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad host ip", func(c *Config) { c.HostIP = "nope" }},
		{"bad device ip", func(c *Config) { c.Device.IP = "::1" }},
		{"zero timeout", func(c *Config) { c.Control.Timeout = Duration{} }},
		{"negative retries", func(c *Config) { c.Control.MaxRetries = -1 }},
		{"thresholds", func(c *Config) { c.Control.DisconnectThreshold = 2 }},
		{"no frame buffer", func(c *Config) { c.PointCloud.FrameBuffer = 0 }},
		{"image size", func(c *Config) { c.Calibration.Width = 0 }},
		{"missing section", func(c *Config) { c.Api = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorAs(t, err, &ErrInvalidConfig{})
		})
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte("control:\n  timeout: 5\n"), 0644))
	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	assert.Error(t, cfg.LoadConfig())
}
