package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrNotOpen      = errors.New("transport not open")
	ErrAlreadyOpen  = errors.New("transport already open")
	ErrNotConnected = errors.New("transport not connected")
)

// DialFunc opens a byte stream to address.
type DialFunc func(ctx context.Context, address string) (io.ReadWriteCloser, error)

// Stream is a transport over any byte stream connection.
// A reader goroutine feeds received chunks to Receive, so that Receive
// can return immediately when nothing has arrived yet.
// Stream is driven by one goroutine at a time.
type Stream struct {
	dial        DialFunc
	dialTimeout time.Duration

	// ReadTimeout bounds a blocking Receive. 0 waits until data or close.
	ReadTimeout time.Duration

	opened      bool
	nonBlocking bool

	conn    io.ReadWriteCloser
	rx      chan []byte
	rxErr   error // set before rx is closed
	done    chan struct{}
	pending []byte
	ended   sync.WaitGroup
}

func NewStream(dial DialFunc, dialTimeout time.Duration) *Stream {
	return &Stream{dial: dial, dialTimeout: dialTimeout}
}

func (s *Stream) Open() error {
	if s.opened {
		return ErrAlreadyOpen
	}
	s.opened = true
	return nil
}

func (s *Stream) Connect(address string) error {
	if !s.opened {
		return ErrNotOpen
	}
	if s.conn != nil {
		return ErrAlreadyOpen
	}

	ctx := context.Background()
	if s.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dialTimeout)
		defer cancel()
	}

	conn, err := s.dial(ctx, address)
	if err != nil {
		return err
	}

	s.conn = conn
	s.rx = make(chan []byte, 16)
	s.rxErr = nil
	s.done = make(chan struct{})
	s.pending = nil

	s.ended.Add(1)
	go s.reader(conn, s.rx, s.done)
	return nil
}

func (s *Stream) reader(r io.Reader, rx chan<- []byte, done <-chan struct{}) {
	defer s.ended.Done()
	defer close(rx)

	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			select {
			case rx <- b:
			case <-done:
				return
			}
		}
		if err != nil {
			s.rxErr = err
			return
		}
	}
}

func (s *Stream) Send(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	return s.conn.Write(p)
}

// Receive copies received bytes into p. In non-blocking mode it returns 0 and a nil
// error when nothing is available. A closed connection returns an error, io.EOF if
// the peer closed it.
func (s *Stream) Receive(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}

	if len(s.pending) == 0 {
		var b []byte
		var ok bool

		if s.nonBlocking {
			select {
			case b, ok = <-s.rx:
			default:
				return 0, nil
			}
		} else if s.ReadTimeout > 0 {
			t := time.NewTimer(s.ReadTimeout)
			select {
			case b, ok = <-s.rx:
				t.Stop()
			case <-t.C:
				return 0, nil
			}
		} else {
			b, ok = <-s.rx
		}

		if !ok {
			if s.rxErr != nil {
				return 0, s.rxErr
			}
			return 0, io.EOF
		}
		s.pending = b
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Stream) SetNonBlocking(nonBlocking bool) {
	s.nonBlocking = nonBlocking
}

// Close closes the connection, if any, and waits for the reader to exit.
// The transport can be opened again afterwards.
func (s *Stream) Close() error {
	s.opened = false
	if s.conn == nil {
		return nil
	}

	close(s.done)
	err := s.conn.Close()
	s.ended.Wait()

	s.conn, s.rx, s.done, s.pending = nil, nil, nil, nil
	return err
}
