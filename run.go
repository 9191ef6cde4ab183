package gopub

import (
	"context"
	"errors"
	"time"
)

// Run drives the Publisher until ctx is done or Close is called.
// It sleeps while there is nothing to send, drains the queue without pausing,
// and backs off after a failed session.
func (p *Publisher) Run(ctx context.Context) error {
	p.closeLock.Lock()
	if p.closed.Load() {
		p.closeLock.Unlock()
		return ErrClosed
	}
	p.running.Add(1)
	p.closeLock.Unlock()
	defer p.running.Done()

	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C

	for {
		err := p.Update()
		if errors.Is(err, ErrClosed) {
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil:
			wait = p.retry
		case p.State() == Ready:
		case p.State() == Idle && p.pubs.Len() == 0:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return nil
			case <-p.pubs.Notify():
			}
			continue
		default:
			wait = p.tick
		}

		if wait == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return nil
			default:
			}
			continue
		}

		t.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case <-t.C:
		}
	}
}
