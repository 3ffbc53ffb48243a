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

package control

import (
	"github.com/pkg/errors"
)

var (
	// ErrCommandTimeout returned when no matching ACK arrived after all retransmissions
	ErrCommandTimeout = errors.New("command timed out")
	// ErrCancelled returned when a pending command is aborted by the caller or by Close
	ErrCancelled = errors.New("command cancelled")
	// ErrSequenceInUse returned when the sequence number already belongs to a pending command
	ErrSequenceInUse = errors.New("sequence number already pending")
	ErrNoPeer        = errors.New("device address is not set")
)
