package gopub

import (
	"errors"
	"fmt"

	"github.com/RoanBrand/gopub/internal/model"
	"github.com/RoanBrand/gopub/internal/queue"
)

// Protocol violations are local failures to build or parse a packet. They are never retried.
var (
	ErrProtocolViolation = model.ErrProtocolViolation
	ErrMalformedLength   = model.ErrMalformedLength
	ErrLengthOverflow    = model.ErrLengthOverflow

	ErrInvalidClientID  = fmt.Errorf("%w: invalid client identifier", ErrProtocolViolation)
	ErrInvalidTopic     = fmt.Errorf("%w: invalid topic name", ErrProtocolViolation)
	ErrInvalidFlags     = fmt.Errorf("%w: invalid fixed header flags", ErrProtocolViolation)
	ErrBufferTooSmall   = fmt.Errorf("%w: buffer too small", ErrProtocolViolation)
	ErrMalformedConnack = fmt.Errorf("%w: malformed CONNACK", ErrProtocolViolation)
)

// ErrIncompletePacket means more bytes are needed before a packet can be judged.
var ErrIncompletePacket = errors.New("incomplete packet")

var (
	ErrTransport       = errors.New("transport failure")
	ErrConnackTimeout  = errors.New("timed out waiting for CONNACK")
	ErrConnackRejected = errors.New("connection refused by broker")
	ErrQueueFull       = queue.ErrQueueFull
	ErrClosed          = errors.New("publisher closed")
)

func protocolViolation(err error, msg string) error {
	return fmt.Errorf("%w: %s", err, msg)
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// ConnackError is a CONNACK with a non zero return code.
type ConnackError struct {
	ReturnCode byte
}

func (e *ConnackError) Error() string {
	return ErrConnackRejected.Error() + ": " + model.ReturnCodeText(e.ReturnCode)
}

func (e *ConnackError) Unwrap() error {
	return ErrConnackRejected
}
