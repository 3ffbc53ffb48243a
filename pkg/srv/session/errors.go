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

package session

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrCommandRejected = errors.New("command rejected by device")
	ErrManagerStopped  = errors.New("session manager stopped")
	ErrNoDeviceLocator = errors.New("no device ip configured and discovery is off")
)

// ErrSessionState returned when an operation is not allowed in the current state
type ErrSessionState struct {
	Op    string
	State State
}

func (e ErrSessionState) Error() string {
	return fmt.Sprintf("%s is not allowed in state %s", e.Op, e.State)
}
