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

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

const (
	// CommandLayerNum identifies the layer
	CommandLayerNum = 2102
	// CommandHeaderSize is the command set and the command id
	CommandHeaderSize = 2
)

type CommandSet uint8

const (
	CommandSetGeneral CommandSet = 0x00
	CommandSetLidar   CommandSet = 0x01
	CommandSetHub     CommandSet = 0x02
)

func (s CommandSet) String() string {
	switch s {
	case CommandSetGeneral:
		return "general"
	case CommandSetLidar:
		return "lidar"
	case CommandSetHub:
		return "hub"
	}
	return fmt.Sprintf("set(0x%02x)", uint8(s))
}

// CommandKey is the two-part opcode of a control frame
type CommandKey struct {
	Set CommandSet
	ID  uint8
}

func (k CommandKey) String() string {
	if spec, ok := commands[k]; ok {
		return spec.Name
	}
	return fmt.Sprintf("%s/0x%02x", k.Set, k.ID)
}

var (
	CmdBroadcast        = CommandKey{CommandSetGeneral, 0x00}
	CmdHandshake        = CommandKey{CommandSetGeneral, 0x01}
	CmdQueryDeviceInfo  = CommandKey{CommandSetGeneral, 0x02}
	CmdHeartbeat        = CommandKey{CommandSetGeneral, 0x03}
	CmdSampling         = CommandKey{CommandSetGeneral, 0x04}
	CmdChangeCoordinate = CommandKey{CommandSetGeneral, 0x05}
	CmdDisconnect       = CommandKey{CommandSetGeneral, 0x06}
	CmdAbnormalStatus   = CommandKey{CommandSetGeneral, 0x07}
	CmdConfigureIP      = CommandKey{CommandSetGeneral, 0x08}
	CmdGetDeviceIP      = CommandKey{CommandSetGeneral, 0x09}
	CmdReboot           = CommandKey{CommandSetGeneral, 0x0A}
	CmdSetDeviceParams  = CommandKey{CommandSetGeneral, 0x0B}
	CmdGetDeviceParams  = CommandKey{CommandSetGeneral, 0x0C}

	CmdSetMode         = CommandKey{CommandSetLidar, 0x00}
	CmdWriteExtrinsic  = CommandKey{CommandSetLidar, 0x01}
	CmdReadExtrinsic   = CommandKey{CommandSetLidar, 0x02}
	CmdRainFog         = CommandKey{CommandSetLidar, 0x03}
	CmdSetFan          = CommandKey{CommandSetLidar, 0x04}
	CmdGetFan          = CommandKey{CommandSetLidar, 0x05}
	CmdSetReturnMode   = CommandKey{CommandSetLidar, 0x06}
	CmdGetReturnMode   = CommandKey{CommandSetLidar, 0x07}
	CmdSetIMUFrequency = CommandKey{CommandSetLidar, 0x08}
	CmdGetIMUFrequency = CommandKey{CommandSetLidar, 0x09}
	CmdUpdateUTC       = CommandKey{CommandSetLidar, 0x0A}
)

// Field names shared by several schemas
const (
	FieldRetCode       = "ret_code"
	FieldBroadcastCode = "broadcast_code"
	FieldDevType       = "dev_type"
	FieldStatusCode    = "status_code"
	FieldUserIP        = "user_ip"
	FieldDataPort      = "data_port"
	FieldCmdPort       = "cmd_port"
	FieldIMUPort       = "imu_port"
	FieldVersion       = "version"
	FieldWorkState     = "work_state"
	FieldFeatureMsg    = "feature_msg"
	FieldAckMsg        = "ack_msg"
	FieldSampleCtrl    = "sample_ctrl"
	FieldCoordinate    = "coordinate_type"
	FieldIPMode        = "ip_mode"
	FieldIP            = "ip"
	FieldNetMask       = "net_mask"
	FieldGateway       = "gateway"
	FieldTimeout       = "timeout"
	FieldRoll          = "roll"
	FieldPitch         = "pitch"
	FieldYaw           = "yaw"
	FieldX             = "x"
	FieldY             = "y"
	FieldZ             = "z"
	FieldState         = "state"
	FieldMode          = "mode"
	FieldFrequency     = "frequency"
)

// CommandSpec holds the payload layouts of one command per frame type.
// A nil schema means the frame type is not used with this command.
type CommandSpec struct {
	Name    string
	Request *Schema
	Ack     *Schema
	Msg     *Schema
}

func (s *CommandSpec) Schema(t FrameType) *Schema {
	switch t {
	case FrameTypeCmd:
		return s.Request
	case FrameTypeAck:
		return s.Ack
	case FrameTypeMsg:
		return s.Msg
	}
	return nil
}

func empty(name string) *Schema {
	return NewSchema(name)
}

func retCodeOnly(name string) *Schema {
	return NewSchema(name, U8(FieldRetCode))
}

func extrinsicFields() []Field {
	return []Field{F32(FieldRoll), F32(FieldPitch), F32(FieldYaw), I32(FieldX), I32(FieldY), I32(FieldZ)}
}

var commands = map[CommandKey]*CommandSpec{
	CmdBroadcast: {
		Name: "Broadcast",
		Msg:  NewSchema("BroadcastMsg", Raw(FieldBroadcastCode, 16), U8(FieldDevType), U16("reserved")),
	},
	CmdHandshake: {
		Name:    "Handshake",
		Request: NewSchema("HandshakeRequest", Raw(FieldUserIP, 4), U16(FieldDataPort), U16(FieldCmdPort), U16(FieldIMUPort)),
		Ack:     retCodeOnly("HandshakeAck"),
	},
	CmdQueryDeviceInfo: {
		Name:    "QueryDeviceInfo",
		Request: empty("QueryDeviceInfoRequest"),
		Ack:     NewSchema("QueryDeviceInfoAck", U8(FieldRetCode), Raw(FieldVersion, 4)),
	},
	CmdHeartbeat: {
		Name:    "Heartbeat",
		Request: empty("HeartbeatRequest"),
		Ack:     NewSchema("HeartbeatAck", U8(FieldRetCode), U8(FieldWorkState), U8(FieldFeatureMsg), U32(FieldAckMsg)),
	},
	CmdSampling: {
		Name:    "StartStopSampling",
		Request: NewSchema("SamplingRequest", U8(FieldSampleCtrl)),
		Ack:     retCodeOnly("SamplingAck"),
	},
	CmdChangeCoordinate: {
		Name:    "ChangeCoordinate",
		Request: NewSchema("ChangeCoordinateRequest", U8(FieldCoordinate)),
		Ack:     retCodeOnly("ChangeCoordinateAck"),
	},
	CmdDisconnect: {
		Name:    "Disconnect",
		Request: empty("DisconnectRequest"),
		Ack:     retCodeOnly("DisconnectAck"),
	},
	CmdAbnormalStatus: {
		Name: "AbnormalStatus",
		Msg:  NewSchema("AbnormalStatusMsg", U32(FieldStatusCode)),
	},
	CmdConfigureIP: {
		Name:    "ConfigureIP",
		Request: NewSchema("ConfigureIPRequest", U8(FieldIPMode), Raw(FieldIP, 4), Raw(FieldNetMask, 4), Raw(FieldGateway, 4)),
		Ack:     retCodeOnly("ConfigureIPAck"),
	},
	CmdGetDeviceIP: {
		Name:    "GetDeviceIP",
		Request: empty("GetDeviceIPRequest"),
		Ack:     NewSchema("GetDeviceIPAck", U8(FieldRetCode), U8(FieldIPMode), Raw(FieldIP, 4), Raw(FieldNetMask, 4), Raw(FieldGateway, 4)),
	},
	CmdReboot: {
		Name:    "Reboot",
		Request: NewSchema("RebootRequest", U16(FieldTimeout)),
		Ack:     retCodeOnly("RebootAck"),
	},
	CmdSetMode: {
		Name:    "SetMode",
		Request: NewSchema("SetModeRequest", U8(FieldMode)),
		Ack:     retCodeOnly("SetModeAck"),
	},
	CmdWriteExtrinsic: {
		Name:    "WriteExtrinsic",
		Request: NewSchema("WriteExtrinsicRequest", extrinsicFields()...),
		Ack:     retCodeOnly("WriteExtrinsicAck"),
	},
	CmdReadExtrinsic: {
		Name:    "ReadExtrinsic",
		Request: empty("ReadExtrinsicRequest"),
		Ack:     NewSchema("ReadExtrinsicAck", append([]Field{U8(FieldRetCode)}, extrinsicFields()...)...),
	},
	CmdRainFog: {
		Name:    "RainFogSuppression",
		Request: NewSchema("RainFogRequest", U8(FieldState)),
		Ack:     retCodeOnly("RainFogAck"),
	},
	CmdSetFan: {
		Name:    "SetFan",
		Request: NewSchema("SetFanRequest", U8(FieldState)),
		Ack:     retCodeOnly("SetFanAck"),
	},
	CmdGetFan: {
		Name:    "GetFan",
		Request: empty("GetFanRequest"),
		Ack:     NewSchema("GetFanAck", U8(FieldRetCode), U8(FieldState)),
	},
	CmdSetReturnMode: {
		Name:    "SetReturnMode",
		Request: NewSchema("SetReturnModeRequest", U8(FieldMode)),
		Ack:     retCodeOnly("SetReturnModeAck"),
	},
	CmdGetReturnMode: {
		Name:    "GetReturnMode",
		Request: empty("GetReturnModeRequest"),
		Ack:     NewSchema("GetReturnModeAck", U8(FieldRetCode), U8(FieldMode)),
	},
	CmdSetIMUFrequency: {
		Name:    "SetIMUFrequency",
		Request: NewSchema("SetIMUFrequencyRequest", U8(FieldFrequency)),
		Ack:     retCodeOnly("SetIMUFrequencyAck"),
	},
	CmdGetIMUFrequency: {
		Name:    "GetIMUFrequency",
		Request: empty("GetIMUFrequencyRequest"),
		Ack:     NewSchema("GetIMUFrequencyAck", U8(FieldRetCode), U8(FieldFrequency)),
	},
	CmdUpdateUTC: {
		Name:    "UpdateUTC",
		Request: NewSchema("UpdateUTCRequest", U8("year"), U8("month"), U8("day"), U8("hour"), U32("microsecond")),
		Ack:     retCodeOnly("UpdateUTCAck"),
	},
}

// LookupCommand returns the layouts of an implemented command
func LookupCommand(key CommandKey) (*CommandSpec, error) {
	switch {
	case key.Set == CommandSetHub:
		return nil, errors.Wrapf(ErrUnsupportedCommand, "hub command 0x%02x is not implemented", key.ID)
	case key == CmdSetDeviceParams || key == CmdGetDeviceParams:
		return nil, errors.Wrapf(ErrUnsupportedCommand, "variable-length configuration parameters (general/0x%02x) are not implemented", key.ID)
	}
	spec, ok := commands[key]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedCommand, "unknown command %s", key)
	}
	return spec, nil
}

// LookupSchema returns the payload layout of a command for the given frame type
func LookupSchema(key CommandKey, t FrameType) (*Schema, error) {
	spec, err := LookupCommand(key)
	if err != nil {
		return nil, err
	}
	schema := spec.Schema(t)
	if schema == nil {
		return nil, errors.Wrapf(ErrUnsupportedCommand, "%s has no %s frame", spec.Name, t)
	}
	return schema, nil
}

// CommandLayer is the command set, the command id and the typed payload
type CommandLayer struct {
	layers.BaseLayer
	Type FrameType
	Key  CommandKey
	Body Payload
}

var CommandLayerType = gopacket.RegisterLayerType(CommandLayerNum,
	gopacket.LayerTypeMetadata{Name: "CommandLayerType", Decoder: gopacket.DecodeFunc(decodeCommandFor(FrameTypeCmd))})

func (cmd *CommandLayer) LayerType() gopacket.LayerType {
	return CommandLayerType
}

// SerializeTo prepends the command set, the command id and the payload
func (cmd *CommandLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(CommandHeaderSize + cmd.Body.Len())
	if err != nil {
		return err
	}
	bytes[0] = uint8(cmd.Key.Set)
	bytes[1] = cmd.Key.ID
	copy(bytes[CommandHeaderSize:], cmd.Body.Bytes())
	return nil
}

// DecodeFromBytes decodes the command bytes of a frame of type cmd.Type
func (cmd *CommandLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < CommandHeaderSize {
		df.SetTruncated()
		return errors.Wrap(ErrMalformedFrame, "command header too short")
	}
	cmd.Key = CommandKey{Set: CommandSet(data[0]), ID: data[1]}
	schema, err := LookupSchema(cmd.Key, cmd.Type)
	if err != nil {
		return err
	}
	body, err := schema.Decode(data[CommandHeaderSize:])
	if err != nil {
		return err
	}
	cmd.BaseLayer = layers.BaseLayer{
		Contents: data[:CommandHeaderSize],
		Payload:  data[CommandHeaderSize:],
	}
	cmd.Body = body
	return nil
}

func (cmd *CommandLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

func decodeCommandFor(t FrameType) func([]byte, gopacket.PacketBuilder) error {
	return func(data []byte, p gopacket.PacketBuilder) error {
		cmd := &CommandLayer{Type: t}
		if err := cmd.DecodeFromBytes(data, p); err != nil {
			return err
		}
		p.AddLayer(cmd)
		return nil
	}
}
