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

package publish

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/transform"
)

const (
	MQTTConnectTimeout = 5 * time.Second
	MQTTPublishTimeout = time.Second
	mqttQuiesce        = 250
)

// MQTTSink publishes frames as JSON to one topic
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewMQTTSink(cfg *config.MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(time.Second)
	opts.SetConnectTimeout(MQTTConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warning("MQTT connection lost: %s", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(MQTTConnectTimeout) {
		return nil, errors.Errorf("timeout while connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to MQTT broker %s", cfg.Broker)
	}
	log.Info("Connected to MQTT broker %s, publishing to %s", cfg.Broker, cfg.Topic)
	return newMQTTSink(client, cfg.Topic, cfg.QoS), nil
}

func newMQTTSink(client mqtt.Client, topic string, qos byte) *MQTTSink {
	return &MQTTSink{
		client: client,
		topic:  topic,
		qos:    qos,
	}
}

func (s *MQTTSink) Publish(ctx context.Context, frame *transform.ProjectedFrame) error {
	msg, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, s.qos, false, msg)
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(MQTTPublishTimeout):
		return errors.Errorf("timeout while publishing to %s", s.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(mqttQuiesce)
	return nil
}
