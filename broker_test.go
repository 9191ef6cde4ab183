package gopub

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoanBrand/gopub/internal/config"
	"github.com/RoanBrand/gopub/internal/model"
)

// fakeBroker accepts MQTT connections on loopback and records what publishers send.
type fakeBroker struct {
	l          net.Listener
	returnCode byte
	silent     bool // never answer CONNECT

	connects    chan connectInfo
	pubs        chan pubInfo
	disconnects chan struct{}
	errs        chan error

	wg sync.WaitGroup
}

type connectInfo struct {
	protocol  string
	version   uint8
	flags     uint8
	keepAlive uint16
	clientID  string
}

type pubInfo struct {
	topic string
	flags uint8
	msg   []byte
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := fakeBroker{
		l:           l,
		connects:    make(chan connectInfo, 16),
		pubs:        make(chan pubInfo, 1024),
		disconnects: make(chan struct{}, 16),
		errs:        make(chan error, 16),
	}
	t.Cleanup(func() {
		l.Close()
		b.wg.Wait()
	})
	return &b
}

func (b *fakeBroker) start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := b.l.Accept()
			if err != nil {
				return
			}
			b.wg.Add(1)
			go b.serve(conn)
		}
	}()
}

func (b *fakeBroker) address() string {
	return b.l.Addr().String()
}

func (b *fakeBroker) serve(conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()

	hdr := make([]byte, 1)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "use of closed") {
				b.errs <- err
			}
			return
		}

		remainLen, mul := 0, 1
		for i := 0; ; i++ {
			var lb [1]byte
			if _, err := io.ReadFull(conn, lb[:]); err != nil {
				b.errs <- err
				return
			}
			remainLen += int(lb[0]&127) * mul
			mul *= 128
			if lb[0]&128 == 0 {
				break
			}
			if i == 3 {
				b.errs <- model.ErrMalformedLength
				return
			}
		}

		body := make([]byte, remainLen)
		if _, err := io.ReadFull(conn, body); err != nil {
			b.errs <- err
			return
		}

		switch hdr[0] & 0xF0 {
		case model.CONNECT:
			pl := int(binary.BigEndian.Uint16(body))
			vh := body[2+pl:]
			ci := connectInfo{
				protocol:  string(body[2 : 2+pl]),
				version:   vh[0],
				flags:     vh[1],
				keepAlive: binary.BigEndian.Uint16(vh[2:4]),
			}
			cl := int(binary.BigEndian.Uint16(vh[4:6]))
			ci.clientID = string(vh[6 : 6+cl])
			b.connects <- ci

			if !b.silent {
				if _, err := conn.Write([]byte{model.CONNACK, 2, 0, b.returnCode}); err != nil {
					b.errs <- err
					return
				}
			}
		case model.PUBLISH:
			tl := int(binary.BigEndian.Uint16(body))
			b.pubs <- pubInfo{
				topic: string(body[2 : 2+tl]),
				flags: hdr[0] & 0x0F,
				msg:   body[2+tl:],
			}
		case model.DISCONNECT:
			b.disconnects <- struct{}{}
			return
		default:
			b.errs <- errors.New("unexpected packet type")
			return
		}
	}
}

func brokerConfig(t *testing.T, address string) *config.Config {
	t.Helper()
	c := new(config.Config)
	c.Broker.Address = address
	c.Broker.ClientID = "hogeisan"
	c.Broker.ConnackTimeoutMS = 200
	c.Driver.TickMS = 1
	c.Driver.RetryMS = 20
	require.NoError(t, c.Validate())
	return c
}

func runPublisher(t *testing.T, c *config.Config) *Publisher {
	t.Helper()

	p, err := New(c)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(context.Background())
	}()
	t.Cleanup(func() {
		p.Close()
		wg.Wait()
	})
	return p
}

func TestBrokerReceivesMessages(t *testing.T) {
	b := newFakeBroker(t)
	b.start()

	p := runPublisher(t, brokerConfig(t, b.address()))
	msgs := []string{"Hello World!", "second", ""}
	for _, m := range msgs {
		require.NoError(t, p.Publish("topic/greeting", []byte(m)))
	}

	select {
	case ci := <-b.connects:
		assert.Equal(t, "MQIsdp", ci.protocol)
		assert.EqualValues(t, 3, ci.version)
		assert.EqualValues(t, 0x02, ci.flags)
		assert.EqualValues(t, 10, ci.keepAlive)
		assert.Equal(t, "hogeisan", ci.clientID)
	case err := <-b.errs:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("no CONNECT received")
	}

	for _, m := range msgs {
		select {
		case pi := <-b.pubs:
			assert.Equal(t, "topic/greeting", pi.topic)
			assert.Zero(t, pi.flags)
			assert.Equal(t, m, string(pi.msg))
		case err := <-b.errs:
			t.Fatal(err)
		case <-time.After(5 * time.Second):
			t.Fatal("PUBLISH not received")
		}
	}

	select {
	case <-b.disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("no DISCONNECT after queue drained")
	}
	require.Eventually(t, func() bool { return p.State() == Idle }, 5*time.Second, time.Millisecond)
}

func TestBrokerRefusesConnection(t *testing.T) {
	b := newFakeBroker(t)
	b.returnCode = model.IdentifierRejected
	b.start()

	p := runPublisher(t, brokerConfig(t, b.address()))
	require.NoError(t, p.Publish("t", []byte("x")))

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.ConnackRejections >= 1 && s.ConnackTimeouts >= 1
	}, 5*time.Second, time.Millisecond)

	assert.Zero(t, p.Stats().Published)
	assert.Equal(t, 1, p.Pending())
}

func TestBrokerSilent(t *testing.T) {
	b := newFakeBroker(t)
	b.silent = true
	b.start()

	p := runPublisher(t, brokerConfig(t, b.address()))
	require.NoError(t, p.Publish("t", []byte("x")))

	require.Eventually(t, func() bool {
		return p.Stats().ConnackTimeouts >= 2
	}, 5*time.Second, time.Millisecond, "reconnects after each timeout")
	assert.Zero(t, p.Stats().ConnackRejections)
}

func TestBrokerUnreachable(t *testing.T) {
	b := newFakeBroker(t)
	addr := b.address()
	require.NoError(t, b.l.Close()) // nothing listening

	p := runPublisher(t, brokerConfig(t, addr))
	require.NoError(t, p.Publish("t", []byte("x")))

	require.Eventually(t, func() bool {
		return p.Stats().ConnectFailures >= 2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, Idle, p.State())
}
