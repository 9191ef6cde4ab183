package model

import (
	"errors"
	"fmt"
)

// Control Packets
const (
	CONNECT     = 1 << 4
	CONNACK     = 2 << 4
	PUBLISH     = 3 << 4
	PUBACK      = 4 << 4
	PUBREC      = 5 << 4
	PUBREL      = 6 << 4
	PUBCOMP     = 7 << 4
	SUBSCRIBE   = 8 << 4
	SUBACK      = 9 << 4
	UNSUBSCRIBE = 10 << 4
	UNSUBACK    = 11 << 4
	PINGREQ     = 12 << 4
	PINGRESP    = 13 << 4
	DISCONNECT  = 14 << 4
)

// PUBLISH fixed header flags
const (
	FlagDUP    = 0x08
	FlagQoS1   = 0x02
	FlagQoS2   = 0x04
	FlagRetain = 0x01

	QoSMask = 0x06
)

// CONNACK Return Codes (MQTT 3.1)
const (
	ConnectionAccepted          = 0
	UnacceptableProtocolVersion = 1
	IdentifierRejected          = 2
	ServerUnavailable           = 3
	BadUserNameOrPassword       = 4
	NotAuthorized               = 5
)

// MaxRemainingLength is the largest value a 4 byte remaining length can hold (256 MB).
const MaxRemainingLength = 0xFFFFFFF

// MaxStringLength is the largest UTF-8 string field, limited by its 2 byte length prefix.
const MaxStringLength = 0xFFFF

var (
	ErrProtocolViolation = errors.New("protocol violation")

	ErrMalformedLength  = fmt.Errorf("%w: malformed remaining length", ErrProtocolViolation)
	ErrLengthIncomplete = fmt.Errorf("%w: stream ended", ErrMalformedLength)
	ErrLengthOverflow   = fmt.Errorf("%w: remaining length exceeds %d", ErrProtocolViolation, MaxRemainingLength)
)

// ReturnCodeText describes a CONNACK return code.
func ReturnCodeText(rc byte) string {
	switch rc {
	case ConnectionAccepted:
		return "connection accepted"
	case UnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case IdentifierRejected:
		return "identifier rejected"
	case ServerUnavailable:
		return "server unavailable"
	case BadUserNameOrPassword:
		return "bad user name or password"
	case NotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("unknown return code %d", rc)
	}
}

// EncodeRemainingLength appends l to packet as a 1-4 byte variable length integer,
// least significant 7 bit group first.
func EncodeRemainingLength(packet []byte, l int) ([]byte, error) {
	if l < 0 || l > MaxRemainingLength {
		return packet, ErrLengthOverflow
	}

	for {
		eb := l % 128
		l /= 128
		if l > 0 {
			eb |= 128
		}
		packet = append(packet, byte(eb))
		if l <= 0 {
			return packet, nil
		}
	}
}

// DecodeRemainingLength reads a variable length integer from the start of b.
// It returns the value and the number of bytes it occupied.
// ErrLengthIncomplete is returned if b ends before the terminating byte.
func DecodeRemainingLength(b []byte) (l, n int, err error) {
	mul := 1
	for n < len(b) {
		eb := b[n]
		l += int(eb&127) * mul
		n++

		if eb&128 == 0 {
			return l, n, nil
		}
		if n == 4 {
			return 0, n, ErrMalformedLength
		}
		mul *= 128
	}

	return 0, n, ErrLengthIncomplete
}

// RemainingLengthByteCount returns how many bytes EncodeRemainingLength uses for l.
// It returns 0 if l cannot be encoded.
func RemainingLengthByteCount(l int) int {
	switch {
	case l < 0:
		return 0
	case l < 128:
		return 1
	case l < 16384:
		return 2
	case l < 2097152:
		return 3
	case l <= MaxRemainingLength:
		return 4
	default:
		return 0
	}
}
