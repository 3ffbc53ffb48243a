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

package layers

import "github.com/pkg/errors"

var (
	// ErrChecksumMismatch is returned when the CRC16 of a control header or
	// the CRC32 of a whole control frame does not match the computed value
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnsupportedCommand is returned for command-set/command-id pairs
	// that are unknown or not implemented for the given frame type
	ErrUnsupportedCommand = errors.New("unsupported command")
	// ErrUnsupportedPointFormat is returned for point cloud frames with a data type other than 2
	ErrUnsupportedPointFormat = errors.New("unsupported point format")
	// ErrMalformedFrame is returned on length or field inconsistency
	ErrMalformedFrame = errors.New("malformed frame")
)
