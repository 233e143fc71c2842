package chain

import (
	"context"
	"sync"

	"accumreg/core/types"
)

const feedBuffer = 64

// feed fans sealed blocks out to subscribers. Slow subscribers miss blocks
// rather than stall sealing; they can catch up by reading blocks by height.
type feed struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *types.Block
}

func (f *feed) publish(block *types.Block) {
	f.mu.Lock()
	subscribers := make([]chan *types.Block, 0, len(f.subs))
	for _, ch := range f.subs {
		subscribers = append(subscribers, ch)
	}
	f.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- block:
		default:
		}
	}
}

// Subscribe registers for blocks sealed from now on. The returned cancel
// function closes the channel; it also runs when ctx is done.
func (c *Chain) Subscribe(ctx context.Context) (<-chan *types.Block, func()) {
	blocks := make(chan *types.Block, feedBuffer)

	c.feed.mu.Lock()
	if c.feed.subs == nil {
		c.feed.subs = make(map[uint64]chan *types.Block)
	}
	id := c.feed.nextID
	c.feed.nextID++
	c.feed.subs[id] = blocks
	c.feed.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.feed.mu.Lock()
			if sub, ok := c.feed.subs[id]; ok {
				delete(c.feed.subs, id)
				close(sub)
			}
			c.feed.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return blocks, cancel
}
