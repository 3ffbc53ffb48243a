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

import "time"

const (
	ConfigDir  = ".go-livox"
	ConfigFile = "config"
	DBFile     = "devices.db"

	DefaultLogLevel   = "info"
	DefaultHostIP     = "192.168.1.50"
	DefaultApiAddress = "127.0.0.1"

	// Livox devices listen for commands on this port and broadcast from it
	DefaultDeviceCmdPort = 65000
	DefaultDiscoverPort  = 55000
	DefaultControlPort   = 1157
	DefaultDataPort      = 7731

	DefaultCommandTimeout      = 500 * time.Millisecond
	DefaultCommandMaxRetries   = 2
	DefaultHeartbeatInterval   = 750 * time.Millisecond
	DefaultHeartbeatTimeout    = 500 * time.Millisecond
	DefaultDegradedThreshold   = 5
	DefaultDisconnectThreshold = 10

	DefaultReadBuffer  = 4 * 1024 * 1024
	DefaultFrameBuffer = 256

	DefaultImageWidth  = 3072
	DefaultImageHeight = 2048

	DefaultMQTTClientID = "go-livox"
	DefaultMQTTTopic    = "livox/frames"
)

// DefaultIntrinsic is the camera matrix of the reference camera, row-major
var DefaultIntrinsic = [9]float64{
	2580.7380664637653, 0, 1535.9830165125002,
	0, 2582.8839945792183, 1008.784910706948,
	0, 0, 1,
}

// DefaultExtrinsic maps sensor frame meters to camera frame meters, row-major 3x4
var DefaultExtrinsic = [12]float64{
	0.0185759, -0.999824, 0.00251985, -0.0904854,
	0.0174645, -0.00219543, -0.999675, -0.132904,
	0.999675, 0.018617, 0.0174206, -0.421934,
}
