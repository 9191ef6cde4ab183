package queue

import (
	"sync"

	"github.com/RoanBrand/gopub/internal/model"
)

// Item is stored in the publish queue.
type Item struct {
	R    model.PublishRequest
	next *Item
}

var pool = sync.Pool{}

func getItem(r model.PublishRequest) (i *Item) {
	if pi := pool.Get(); pi == nil {
		i = new(Item)
	} else {
		i = pi.(*Item)
	}

	i.R = r
	return i
}

func returnItem(i *Item) {
	i.R, i.next = model.PublishRequest{}, nil
	pool.Put(i)
}
