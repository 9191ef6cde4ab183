package queue

import (
	"errors"
	"sync"

	"github.com/RoanBrand/gopub/internal/model"
)

var ErrQueueFull = errors.New("publish queue full")

// Publish hands requests from any number of producers to the single publisher driver.
// Requests leave in the order they were added.
type Publish struct {
	h, t     *Item
	n        int
	capacity int // 0 is unbounded
	notify   chan struct{}
	sync.Mutex
}

// Init sets the capacity. A capacity of 0 or less means unbounded.
func (q *Publish) Init(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	q.capacity = capacity
	q.notify = make(chan struct{}, 1)
}

// Add appends r to the tail. Fails with ErrQueueFull when bounded and full.
func (q *Publish) Add(r model.PublishRequest) error {
	q.Lock()
	if q.capacity > 0 && q.n >= q.capacity {
		q.Unlock()
		return ErrQueueFull
	}

	i := getItem(r)
	if q.h == nil {
		q.h = i
	} else {
		q.t.next = i
	}
	q.t = i
	q.n++
	q.Unlock()

	q.notifyDriver()
	return nil
}

// TryRemove removes and returns the head, if any.
func (q *Publish) TryRemove() (model.PublishRequest, bool) {
	q.Lock()
	i := q.h
	if i == nil {
		q.Unlock()
		return model.PublishRequest{}, false
	}

	q.h = i.next
	if q.h == nil {
		q.t = nil
	}
	q.n--
	q.Unlock()

	r := i.R
	returnItem(i)
	return r, true
}

// Len returns the number of queued requests.
func (q *Publish) Len() int {
	q.Lock()
	n := q.n
	q.Unlock()
	return n
}

// Reset empties the queue and returns what was in it, oldest first.
func (q *Publish) Reset() []model.PublishRequest {
	q.Lock()
	h := q.h
	q.h, q.t = nil, nil
	n := q.n
	q.n = 0
	q.Unlock()

	if n == 0 {
		return nil
	}

	rs := make([]model.PublishRequest, 0, n)
	for h != nil {
		next := h.next
		rs = append(rs, h.R)
		returnItem(h)
		h = next
	}
	return rs
}

// Notify fires after requests are added. Used by the driver to sleep while idle.
func (q *Publish) Notify() <-chan struct{} {
	return q.notify
}

func (q *Publish) notifyDriver() {
	if len(q.notify) == 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}
