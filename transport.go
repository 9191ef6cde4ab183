package gopub

import (
	"github.com/RoanBrand/gopub/internal/config"
	"github.com/RoanBrand/gopub/internal/transport"
)

// Transport is a byte stream to the broker.
type Transport interface {
	// Open prepares the transport for a new connection.
	Open() error
	// Connect dials address. It blocks at most for the dial timeout.
	Connect(address string) error
	Send(p []byte) (int, error)
	// Receive returns 0 bytes and no error if nothing is pending in non-blocking mode.
	Receive(p []byte) (int, error)
	SetNonBlocking(nonBlocking bool)
	// Close releases the connection. The transport can be opened again.
	Close() error
}

func newTransport(b *config.Broker) Transport {
	if b.IsWebsocket() {
		return transport.NewWebsocket(b.DialTimeout())
	}
	return transport.NewTCP(b.DialTimeout())
}
