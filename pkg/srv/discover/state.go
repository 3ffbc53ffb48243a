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

package discover

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
)

const (
	BucketPrefix         = "discover_"
	DeviceDescriptionKey = "device_description"
)

// State keeps the last broadcast of every device seen, one bucket per device
type State struct {
	DB *bbolt.DB
}

func NewState(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &State{DB: db}, nil
}

func (s *State) Close() error {
	return s.DB.Close()
}

func BucketName(broadcastCode string) string {
	return BucketPrefix + broadcastCode
}

func (s *State) SetDeviceDescription(dd *layers.DeviceDescription) error {
	log.Debug("Setting device description: device: %s", dd.BroadcastCode)
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(BucketName(dd.BroadcastCode)))
		if err != nil {
			return err
		}
		ddBytes, err := yaml.Marshal(dd)
		if err != nil {
			return err
		}
		return b.Put([]byte(DeviceDescriptionKey), ddBytes)
	})
}

func (s *State) GetDeviceDescription(broadcastCode string) (*layers.DeviceDescription, error) {
	log.Debug("Getting device description: device: %s", broadcastCode)
	dd := &layers.DeviceDescription{}
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName(broadcastCode)))
		if b == nil {
			return ErrDeviceNotFound{BroadcastCode: broadcastCode}
		}
		ddBytes := b.Get([]byte(DeviceDescriptionKey))
		if ddBytes == nil {
			return ErrDeviceNotFound{BroadcastCode: broadcastCode}
		}
		return yaml.Unmarshal(ddBytes, dd)
	}); err != nil {
		return nil, err
	}
	return dd, nil
}

func (s *State) GetAllDeviceDescriptions() ([]*layers.DeviceDescription, error) {
	log.Debug("Getting all device descriptions")
	devices := []*layers.DeviceDescription{}
	err := s.DB.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if !strings.HasPrefix(string(name), BucketPrefix) {
				return nil
			}
			ddBytes := b.Get([]byte(DeviceDescriptionKey))
			if ddBytes == nil {
				return nil
			}
			dd := &layers.DeviceDescription{}
			if err := yaml.Unmarshal(ddBytes, dd); err != nil {
				log.Error("Error while unmarshalling DeviceDescription %s", err)
				return err
			}
			devices = append(devices, dd)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}
