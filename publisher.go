package gopub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoanBrand/gopub/internal/config"
	"github.com/RoanBrand/gopub/internal/model"
	"github.com/RoanBrand/gopub/internal/queue"
	"github.com/RoanBrand/gopub/internal/store"
	log "github.com/sirupsen/logrus"
)

// State of the connection to the broker.
type State uint32

const (
	Idle State = iota
	Connecting
	AwaitingAck
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case AwaitingAck:
		return "AwaitingAck"
	case Ready:
		return "Ready"
	}
	return "Unknown"
}

// Publisher sends queued messages to a broker as QoS 0 PUBLISH packets.
// It connects when there is something to send and disconnects once the queue is drained.
// Publish is safe for concurrent use. The connection is driven by Update, or by Run in the background.
type Publisher struct {
	clientID       string
	keepAlive      uint16
	address        string
	connackTimeout time.Duration
	tick, retry    time.Duration

	transport Transport
	timer     Timer
	spool     *store.Spool
	pubs      queue.Publish

	updateLock sync.Mutex // one goroutine runs transitions at a time
	state      atomic.Uint32
	rx         [16]byte // CONNACK bytes received so far
	rxN        int
	rejectRC   byte // last refusal return code while awaiting CONNACK
	rejected   bool

	closeLock sync.RWMutex
	closed    atomic.Bool
	done      chan struct{}
	running   sync.WaitGroup

	stats counters
}

// New returns a Publisher for c. c must be validated.
// If c.Spool.Dir is set, requests spooled by a previous Close are queued again.
func New(c *config.Config) (*Publisher, error) {
	return NewWithTransport(c, newTransport(&c.Broker), nil)
}

// NewWithTransport returns a Publisher that uses t to reach the broker.
// If tm is nil, the monotonic clock is used.
func NewWithTransport(c *config.Config, t Transport, tm Timer) (*Publisher, error) {
	if _, err := NewConnectHeader(c.Broker.ClientID, c.Broker.KeepAlive); err != nil {
		return nil, err
	}
	if tm == nil {
		tm = NewTimer()
	}

	p := Publisher{
		clientID:       c.Broker.ClientID,
		keepAlive:      c.Broker.KeepAlive,
		address:        c.Broker.Address,
		connackTimeout: c.Broker.ConnackTimeout(),
		tick:           c.Tick(),
		retry:          c.RetryDelay(),
		transport:      t,
		timer:          tm,
		done:           make(chan struct{}),
	}
	p.pubs.Init(c.Queue.Capacity)

	if c.Spool.Dir != "" {
		s, err := store.OpenSpool(c.Spool.Dir)
		if err != nil {
			return nil, err
		}
		p.spool = s

		if err := p.restoreSpooled(); err != nil {
			s.Close()
			return nil, err
		}
	}

	return &p, nil
}

func (p *Publisher) restoreSpooled() error {
	rs, err := p.spool.Load()
	if err != nil {
		return err
	}

	for _, r := range rs {
		if err := p.pubs.Add(r); err != nil {
			p.stats.dropped.Add(1)
			log.WithFields(log.Fields{
				"ClientId": p.clientID,
				"topic":    r.Topic,
				"err":      err,
			}).Warn("Dropping spooled message")
			continue
		}
		p.stats.enqueued.Add(1)
	}

	if len(rs) > 0 {
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"count":    len(rs),
		}).Info("Restored spooled messages")
	}
	return nil
}

// Publish queues a QoS 0 message for topic. It does not block on the network.
// The payload is copied. Fails with ErrQueueFull if the queue is bounded and full.
func (p *Publisher) Publish(topic string, payload []byte) error {
	if _, err := NewPublishHeader(topic, payload); err != nil {
		return err
	}

	p.closeLock.RLock()
	defer p.closeLock.RUnlock()
	if p.closed.Load() {
		return ErrClosed
	}

	if err := p.pubs.Add(model.NewPublishRequest(topic, payload)); err != nil {
		return err
	}
	p.stats.enqueued.Add(1)
	return nil
}

// State returns the current connection state.
func (p *Publisher) State() State {
	return State(p.state.Load())
}

func (p *Publisher) setState(s State) {
	p.state.Store(uint32(s))
}

// IsConnected reports if a session with the broker is established.
func (p *Publisher) IsConnected() bool {
	return p.State() == Ready
}

// Pending returns the number of queued messages.
func (p *Publisher) Pending() int {
	return p.pubs.Len()
}

// Update runs one step of the connection state machine. It never waits on the network,
// except for dialing which is bounded by the dial timeout.
func (p *Publisher) Update() error {
	p.updateLock.Lock()
	defer p.updateLock.Unlock()

	if p.closed.Load() {
		return ErrClosed
	}

	switch p.State() {
	case Idle:
		return p.open()
	case Connecting:
		return p.connect()
	case AwaitingAck:
		return p.checkConnack()
	case Ready:
		return p.publishNext()
	}
	return nil
}

func (p *Publisher) open() error {
	if p.pubs.Len() == 0 {
		return nil
	}

	if err := p.transport.Open(); err != nil {
		p.stats.transportErrors.Add(1)
		p.transport.Close()
		return transportError("open", err)
	}
	p.transport.SetNonBlocking(true)
	p.setState(Connecting)
	return nil
}

func (p *Publisher) connect() error {
	p.stats.connectAttempts.Add(1)

	if err := p.transport.Connect(p.address); err != nil {
		p.stats.connectFailures.Add(1)
		p.closeSession()
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"broker":   p.address,
			"err":      err,
		}).Warn("Unable to connect to broker")
		return transportError("connect", err)
	}

	m, err := BuildConnect(p.clientID, p.keepAlive)
	if err != nil {
		p.closeSession()
		return err
	}

	if err := p.send(m.Bytes()); err != nil {
		p.stats.connectFailures.Add(1)
		p.stats.transportErrors.Add(1)
		p.closeSession()
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"broker":   p.address,
			"err":      err,
		}).Warn("Failed to send CONNECT")
		return transportError("send CONNECT", err)
	}

	log.WithFields(log.Fields{
		"ClientId":  p.clientID,
		"keepAlive": p.keepAlive,
	}).Debug("CONNECT sent")

	p.rxN, p.rejected = 0, false
	p.timer.Reset()
	p.timer.Start()
	p.setState(AwaitingAck)
	return nil
}

func (p *Publisher) checkConnack() error {
	n, err := p.transport.Receive(p.rx[p.rxN:])
	if n > 0 {
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"bytes":    n,
		}).Debug("CONNACK bytes received")
	}
	if err != nil {
		p.stats.transportErrors.Add(1)
		p.closeSession()
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"err":      err,
		}).Warn("Connection lost while waiting for CONNACK")
		return transportError("receive", err)
	}
	p.rxN += n

	for p.rxN > 0 {
		n, rc, err := ParseConnack(p.rx[:p.rxN])
		if errors.Is(err, ErrIncompletePacket) {
			break
		}
		if err != nil {
			p.discard(1) // resync on next byte
			continue
		}
		p.discard(n)

		if rc == model.ConnectionAccepted {
			p.timer.Stop()
			p.setState(Ready)
			log.WithFields(log.Fields{
				"ClientId": p.clientID,
				"broker":   p.address,
			}).Info("Connected to broker")
			return nil
		}

		p.rejected, p.rejectRC = true, rc
		p.stats.connackRejections.Add(1)
		log.WithFields(log.Fields{
			"ClientId":    p.clientID,
			"Return Code": rc,
			"Reason":      model.ReturnCodeText(rc),
		}).Warn("CONNACK refused connection")
	}

	if p.timer.Elapsed() < p.connackTimeout {
		return nil
	}

	p.stats.connackTimeouts.Add(1)
	err = ErrConnackTimeout
	if p.rejected {
		err = errors.Join(ErrConnackTimeout, &ConnackError{ReturnCode: p.rejectRC})
	}
	p.closeSession()
	log.WithFields(log.Fields{
		"ClientId": p.clientID,
		"broker":   p.address,
		"timeout":  p.connackTimeout,
	}).Warn("No CONNACK accepting connection received")
	return err
}

func (p *Publisher) discard(n int) {
	copy(p.rx[:], p.rx[n:p.rxN])
	p.rxN -= n
}

func (p *Publisher) publishNext() error {
	r, ok := p.pubs.TryRemove()
	if !ok {
		p.disconnect()
		return nil
	}

	m, err := BuildPublish(r.Topic, r.Payload)
	if err != nil {
		p.stats.dropped.Add(1)
		return err
	}

	if err := p.send(m.Bytes()); err != nil {
		p.stats.dropped.Add(1)
		p.stats.transportErrors.Add(1)
		p.closeSession()
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"topic":    r.Topic,
			"err":      err,
		}).Warn("Failed to send PUBLISH. Message dropped")
		return transportError("send PUBLISH", err)
	}

	id := uint16(p.stats.pktID.Load()) + 1
	if id == 0 {
		id = 1
	}
	p.stats.pktID.Store(uint32(id))
	p.stats.published.Add(1)

	log.WithFields(log.Fields{
		"ClientId": p.clientID,
		"topic":    r.Topic,
		"packetID": id,
		"size":     m.Len(),
	}).Debug("PUBLISH sent")
	return nil
}

// send writes all of b.
func (p *Publisher) send(b []byte) error {
	for len(b) > 0 {
		n, err := p.transport.Send(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("short write")
		}
		b = b[n:]
	}
	return nil
}

// disconnect sends DISCONNECT if a session is established and closes the transport.
func (p *Publisher) disconnect() {
	if p.State() == Ready {
		if err := p.send(disconnectPacket); err != nil {
			log.WithFields(log.Fields{
				"ClientId": p.clientID,
				"err":      err,
			}).Debug("failed to send DISCONNECT")
		}
	}
	if p.State() != Idle {
		p.closeSession()
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"broker":   p.address,
		}).Info("Session closed")
	}
}

func (p *Publisher) closeSession() {
	if err := p.transport.Close(); err != nil {
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"err":      err,
		}).Debug("failed to close transport")
	}
	p.timer.Stop()
	p.rxN, p.rejected = 0, false
	p.setState(Idle)
}

// Disconnect ends the current session, if any. Queued messages are kept
// and a new session starts on the next Update.
func (p *Publisher) Disconnect() {
	p.updateLock.Lock()
	p.disconnect()
	p.updateLock.Unlock()
}

// Close stops Run, ends the session and releases the queue.
// Messages still queued are spooled if a spool is configured, otherwise dropped.
func (p *Publisher) Close() error {
	p.closeLock.Lock()
	if p.closed.Load() {
		p.closeLock.Unlock()
		return nil
	}
	p.closed.Store(true)
	close(p.done)
	p.closeLock.Unlock()

	p.running.Wait()
	p.Disconnect()

	rs := p.pubs.Reset()
	if p.spool == nil {
		if len(rs) > 0 {
			p.stats.dropped.Add(uint64(len(rs)))
			log.WithFields(log.Fields{
				"ClientId": p.clientID,
				"count":    len(rs),
			}).Warn("Dropped queued messages on close")
		}
		return nil
	}

	err := p.spool.Save(rs)
	if err != nil {
		p.stats.dropped.Add(uint64(len(rs)))
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"count":    len(rs),
			"err":      err,
		}).Error("Unable to spool queued messages")
	} else if len(rs) > 0 {
		log.WithFields(log.Fields{
			"ClientId": p.clientID,
			"count":    len(rs),
		}).Info("Spooled queued messages")
	}
	return errors.Join(err, p.spool.Close())
}
