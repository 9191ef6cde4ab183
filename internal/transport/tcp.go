package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// NewTCP returns a transport that connects to "host:port" addresses.
func NewTCP(dialTimeout time.Duration) *Stream {
	return NewStream(dialTCP, dialTimeout)
}

func dialTCP(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}
