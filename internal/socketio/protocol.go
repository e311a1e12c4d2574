package socketio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types. Each text frame starts with one of these.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// engineHandshake is the payload of the Engine.IO open packet.
type engineHandshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// PacketType is a Socket.IO v5 packet type.
type PacketType int

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	}
	return "PacketType(" + strconv.Itoa(int(t)) + ")"
}

func (t PacketType) binary() bool {
	return t == PacketBinaryEvent || t == PacketBinaryAck
}

// Packet is a decoded Socket.IO packet (without the Engine.IO prefix).
type Packet struct {
	Type        PacketType
	Namespace   string
	Attachments int
	ID          *int
	Data        json.RawMessage
}

// Encode renders the packet in Socket.IO text form.
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte(byte('0' + p.Type))
	if p.Type.binary() {
		b.WriteString(strconv.Itoa(p.Attachments))
		b.WriteByte('-')
	}
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID != nil {
		b.WriteString(strconv.Itoa(*p.ID))
	}
	b.Write(p.Data)
	return b.String()
}

// ParsePacket decodes a Socket.IO text packet.
func ParsePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, fmt.Errorf("empty packet")
	}
	p := Packet{Type: PacketType(s[0] - '0'), Namespace: "/"}
	if s[0] < '0' || p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("unknown packet type %q", s[0])
	}
	i := 1

	if p.Type.binary() {
		dash := strings.IndexByte(s[i:], '-')
		if dash < 0 {
			return Packet{}, fmt.Errorf("binary packet without attachment count: %q", s)
		}
		n, err := strconv.Atoi(s[i : i+dash])
		if err != nil || n < 0 {
			return Packet{}, fmt.Errorf("bad attachment count in %q", s)
		}
		p.Attachments = n
		i += dash + 1
	}

	if i < len(s) && s[i] == '/' {
		end := strings.IndexByte(s[i:], ',')
		if end < 0 {
			p.Namespace = s[i:]
			i = len(s)
		} else {
			p.Namespace = s[i : i+end]
			i += end + 1
		}
	}

	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > start {
		id, err := strconv.Atoi(s[start:i])
		if err != nil {
			return Packet{}, fmt.Errorf("bad ack id in %q: %w", s, err)
		}
		p.ID = &id
	}

	if i < len(s) {
		data := []byte(s[i:])
		if !json.Valid(data) {
			return Packet{}, fmt.Errorf("invalid JSON in %s packet", p.Type)
		}
		p.Data = data
	}
	return p, nil
}

// connectError is the payload of a CONNECT_ERROR packet.
type connectError struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// placeholder marks where a binary attachment belongs in event arguments.
type placeholder struct {
	Placeholder bool `json:"_placeholder"`
	Num         *int `json:"num"`
}

// decodeEvent splits EVENT data into its name and arguments.
func decodeEvent(data json.RawMessage) (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("event data is not an array: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("event data is empty")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name is not a string: %w", err)
	}
	return name, parts[1:], nil
}

// encodeEvent builds EVENT data from a name and arguments.
func encodeEvent(name string, args []any) (json.RawMessage, error) {
	parts := make([]any, 0, len(args)+1)
	parts = append(parts, name)
	parts = append(parts, args...)
	return json.Marshal(parts)
}
