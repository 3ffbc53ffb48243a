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

package srv

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/gopacket"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/log"
)

const MaxDatagramSize = 65536

type InPacket struct {
	Data []byte
	gopacket.CaptureInfo
}

type OutPacket struct {
	Data []byte
	*net.UDPAddr
}

// GetAddrPort returns the UDPAddr of the device that sent the packet
func GetAddrPort(packet gopacket.Packet) (*net.UDPAddr, error) {
	meta := packet.Metadata()
	if len(meta.CaptureInfo.AncillaryData) >= 1 {
		udpAddr, ok := meta.CaptureInfo.AncillaryData[0].(*net.UDPAddr)
		if !ok {
			return nil, ErrGetAddr{}
		}
		return udpAddr, nil
	}
	return nil, ErrGetAddr{}
}

// Listen binds a UDP socket. Port 0 picks an ephemeral port.
func Listen(ip string, port int, readBuffer int) (*net.UDPConn, error) {
	uaddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", uaddr)
	if err != nil {
		return nil, err
	}
	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			log.Warning("Can not set read buffer %d on %s: %s", readBuffer, uaddr, err)
		}
	}
	return conn, nil
}

type Server struct {
	context.Context
	*config.Config
	*net.UDPAddr
	ChIn  chan InPacket
	ChOut chan OutPacket

	// OnDrop, when set, makes Capture drop datagrams that do not fit into
	// ChIn instead of waiting for room
	OnDrop func()
}

// ReadPacketData reads the ChIn channel and returns packet data and metadata.
// This method is from PacketDataSource interface. It returns io.EOF once the
// server context is done so that packet sources stop.
func (s *Server) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case p := <-s.ChIn:
		return p.Data, p.CaptureInfo, nil
	case <-s.Context.Done():
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
}

// Capture reads datagrams from conn and puts copies of them to ChIn until
// the context is done or reading fails
func (s *Server) Capture(conn *net.UDPConn, errChan chan<- error) {
	buffer := make([]byte, MaxDatagramSize)
	for {
		length, udpAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if s.Context.Err() == nil {
				select {
				case errChan <- err:
				default:
				}
			}
			return
		}
		packet := InPacket{
			Data: make([]byte, length),
			CaptureInfo: gopacket.CaptureInfo{
				Length:        length,
				CaptureLength: length,
				Timestamp:     time.Now(),
				AncillaryData: []interface{}{udpAddr},
			},
		}
		copy(packet.Data, buffer[:length])
		if s.OnDrop != nil {
			select {
			case s.ChIn <- packet:
			case <-s.Context.Done():
				return
			default:
				s.OnDrop()
			}
			continue
		}
		select {
		case s.ChIn <- packet:
		case <-s.Context.Done():
			return
		}
	}
}

// Now returns unix time in milliseconds
func Now() uint64 {
	return uint64(time.Now().UnixMilli())
}
