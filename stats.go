package gopub

import "sync/atomic"

// Stats are counters since the Publisher was created.
type Stats struct {
	Enqueued          uint64
	Published         uint64
	Dropped           uint64 // failed sends and messages discarded on close
	ConnectAttempts   uint64
	ConnectFailures   uint64
	ConnackTimeouts   uint64
	ConnackRejections uint64
	TransportErrors   uint64

	// PacketID of the last PUBLISH sent. Not carried by QoS 0 packets.
	PacketID uint16
}

type counters struct {
	enqueued, published, dropped                        atomic.Uint64
	connectAttempts, connectFailures                    atomic.Uint64
	connackTimeouts, connackRejections, transportErrors atomic.Uint64
	pktID                                               atomic.Uint32
}

func (p *Publisher) Stats() Stats {
	c := &p.stats
	return Stats{
		Enqueued:          c.enqueued.Load(),
		Published:         c.published.Load(),
		Dropped:           c.dropped.Load(),
		ConnectAttempts:   c.connectAttempts.Load(),
		ConnectFailures:   c.connectFailures.Load(),
		ConnackTimeouts:   c.connackTimeouts.Load(),
		ConnackRejections: c.connackRejections.Load(),
		TransportErrors:   c.transportErrors.Load(),
		PacketID:          uint16(c.pktID.Load()),
	}
}
