package gopub

import (
	"encoding/binary"
	"errors"

	"github.com/RoanBrand/gopub/internal/model"
)

const (
	protocolName    = "MQIsdp" // MQTT 3.1
	protocolVersion = 3

	connectHeaderBaseLen = 12

	flagCleanSession = 0x02
)

var disconnectPacket = []byte{model.DISCONNECT, 0}

// FixedHeader packs the control packet type with its flags.
// Only PUBLISH carries flags. [MQTT-2.2.2-1]
func FixedHeader(controlType byte, dup bool, qos uint8, retain bool) (byte, error) {
	h := controlType & 0xF0
	if h != model.PUBLISH {
		if dup || qos != 0 || retain {
			return 0, protocolViolation(ErrInvalidFlags, "flags are reserved for non PUBLISH packets")
		}
		return h, nil
	}

	if qos > 2 {
		return 0, protocolViolation(ErrInvalidFlags, "no QoS3")
	}
	if dup && qos == 0 {
		return 0, protocolViolation(ErrInvalidFlags, "DUP set for QoS0 PUBLISH")
	}

	h |= qos << 1
	if dup {
		h |= model.FlagDUP
	}
	if retain {
		h |= model.FlagRetain
	}
	return h, nil
}

// ConnectHeader is the variable header and payload of a CONNECT packet.
type ConnectHeader struct {
	ClientID  string
	KeepAlive uint16 // s
	Flags     byte
}

// NewConnectHeader returns a clean session CONNECT header.
func NewConnectHeader(clientID string, keepAlive uint16) (ConnectHeader, error) {
	h := ConnectHeader{ClientID: clientID, KeepAlive: keepAlive, Flags: flagCleanSession}
	return h, h.validate()
}

func (h *ConnectHeader) validate() error {
	if h.ClientID == "" {
		return protocolViolation(ErrInvalidClientID, "empty")
	}
	if len(h.ClientID) > model.MaxStringLength {
		return protocolViolation(ErrInvalidClientID, "too long")
	}
	if err := model.CheckUTF8(h.ClientID, false); err != nil {
		return protocolViolation(ErrInvalidClientID, err.Error())
	}
	return nil
}

func (h *ConnectHeader) Len() int {
	return connectHeaderBaseLen + 2 + len(h.ClientID)
}

// Serialize writes the header into b and returns the bytes written.
func (h *ConnectHeader) Serialize(b []byte) (int, error) {
	if err := h.validate(); err != nil {
		return 0, err
	}
	l := h.Len()
	if len(b) < l {
		return 0, ErrBufferTooSmall
	}

	// Protocol Name
	binary.BigEndian.PutUint16(b, uint16(len(protocolName)))
	copy(b[2:8], protocolName)
	b[8] = protocolVersion
	b[9] = h.Flags
	binary.BigEndian.PutUint16(b[10:12], h.KeepAlive)

	// Client Identifier
	binary.BigEndian.PutUint16(b[12:14], uint16(len(h.ClientID)))
	copy(b[14:l], h.ClientID)

	return l, nil
}

// PublishHeader is the variable header and payload of a QoS 0 PUBLISH packet.
// QoS 0 carries no packet identifier. [MQTT-2.3.1-5]
type PublishHeader struct {
	Topic   string
	Payload []byte
}

func NewPublishHeader(topic string, payload []byte) (PublishHeader, error) {
	h := PublishHeader{Topic: topic, Payload: payload}
	return h, h.validate()
}

func (h *PublishHeader) validate() error {
	if h.Topic == "" {
		return protocolViolation(ErrInvalidTopic, "empty")
	}
	if len(h.Topic) > model.MaxStringLength {
		return protocolViolation(ErrInvalidTopic, "too long")
	}
	if err := model.CheckUTF8(h.Topic, true); err != nil { // [MQTT-3.3.2-2]
		return protocolViolation(ErrInvalidTopic, err.Error())
	}
	if h.Len() > model.MaxRemainingLength {
		return ErrLengthOverflow
	}
	return nil
}

func (h *PublishHeader) Len() int {
	return 2 + len(h.Topic) + len(h.Payload)
}

// Serialize writes the header into b and returns the bytes written.
func (h *PublishHeader) Serialize(b []byte) (int, error) {
	if err := h.validate(); err != nil {
		return 0, err
	}
	l := h.Len()
	if len(b) < l {
		return 0, ErrBufferTooSmall
	}

	tEnd := 2 + len(h.Topic)
	binary.BigEndian.PutUint16(b, uint16(len(h.Topic)))
	copy(b[2:tEnd], h.Topic)
	copy(b[tEnd:l], h.Payload)

	return l, nil
}

type body interface {
	Len() int
	Serialize(b []byte) (int, error)
}

// Message is a complete control packet: fixed header, remaining length and body.
type Message struct {
	buf    []byte
	hdrLen int
}

// NewMessage allocates a packet with room for exactly bodyLen body bytes.
func NewMessage(fixedHeader byte, bodyLen int) (*Message, error) {
	lenBytes := model.RemainingLengthByteCount(bodyLen)
	if lenBytes == 0 {
		return nil, ErrLengthOverflow
	}

	buf := make([]byte, 1, 1+lenBytes+bodyLen)
	buf[0] = fixedHeader
	buf, err := model.EncodeRemainingLength(buf, bodyLen)
	if err != nil {
		return nil, err
	}

	return &Message{buf: buf[:cap(buf)], hdrLen: len(buf)}, nil
}

// Write serializes b as the packet body. b must fill the body exactly.
func (m *Message) Write(b body) error {
	dst := m.buf[m.hdrLen:]
	bl := b.Len()
	if bl > len(dst) {
		return ErrBufferTooSmall
	}
	if bl < len(dst) {
		return protocolViolation(ErrProtocolViolation, "body shorter than remaining length")
	}

	n, err := b.Serialize(dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return protocolViolation(ErrProtocolViolation, "body length mismatch")
	}
	return nil
}

// Bytes returns the encoded packet.
func (m *Message) Bytes() []byte {
	return m.buf
}

// Len returns the encoded size: 1 + remaining length bytes + body.
func (m *Message) Len() int {
	return len(m.buf)
}

// BodyLen returns the remaining length.
func (m *Message) BodyLen() int {
	return len(m.buf) - m.hdrLen
}

// Type returns the control packet type, comparable with the model constants.
func (m *Message) Type() byte {
	return m.buf[0] & 0xF0
}

// BuildConnect encodes a clean session CONNECT packet.
func BuildConnect(clientID string, keepAlive uint16) (*Message, error) {
	h, err := NewConnectHeader(clientID, keepAlive)
	if err != nil {
		return nil, err
	}

	fh, _ := FixedHeader(model.CONNECT, false, 0, false)
	m, err := NewMessage(fh, h.Len())
	if err != nil {
		return nil, err
	}
	return m, m.Write(&h)
}

// BuildPublish encodes a QoS 0 PUBLISH packet without DUP or RETAIN.
func BuildPublish(topic string, payload []byte) (*Message, error) {
	h, err := NewPublishHeader(topic, payload)
	if err != nil {
		return nil, err
	}

	fh, _ := FixedHeader(model.PUBLISH, false, 0, false)
	m, err := NewMessage(fh, h.Len())
	if err != nil {
		return nil, err
	}
	return m, m.Write(&h)
}

// ParseConnack reads a CONNACK from the start of b.
// It returns the bytes it occupies and the return code.
// ErrIncompletePacket is returned if b holds a valid prefix of a CONNACK.
func ParseConnack(b []byte) (n int, returnCode byte, err error) {
	if len(b) == 0 {
		return 0, 0, ErrIncompletePacket
	}
	if b[0] != model.CONNACK { // flags reserved
		return 0, 0, protocolViolation(ErrMalformedConnack, "not a CONNACK header")
	}

	l, lenBytes, err := model.DecodeRemainingLength(b[1:])
	if err != nil {
		if errors.Is(err, model.ErrLengthIncomplete) {
			return 0, 0, ErrIncompletePacket
		}
		return 0, 0, protocolViolation(ErrMalformedConnack, err.Error())
	}
	if l != 2 || lenBytes != 1 {
		return 0, 0, protocolViolation(ErrMalformedConnack, "remaining length must be 2")
	}

	n = 4
	if len(b) < n {
		return 0, 0, ErrIncompletePacket
	}
	if b[n-2] != 0 {
		return 0, 0, protocolViolation(ErrMalformedConnack, "reserved byte not 0")
	}

	return n, b[n-1], nil
}

// IsValidConnack reports if b is exactly a CONNACK accepting the connection.
func IsValidConnack(b []byte) bool {
	n, rc, err := ParseConnack(b)
	return err == nil && n == len(b) && rc == model.ConnectionAccepted
}
