package synth

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

func cacheKey(voiceID, text string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(voiceID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(text)
	return d.Sum64()
}

type cacheEntry struct {
	key   uint64
	audio Audio
}

// audioCache is a size-bounded LRU of synthesized clips.
type audioCache struct {
	mu       sync.Mutex
	maxBytes int
	used     int
	order    *list.List
	items    map[uint64]*list.Element
}

func newAudioCache(maxBytes int) *audioCache {
	return &audioCache{
		maxBytes: maxBytes,
		order:    list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

func (c *audioCache) get(key uint64) (Audio, bool) {
	if c == nil {
		return Audio{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Audio{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).audio, true
}

func (c *audioCache) put(key uint64, a Audio) {
	if c == nil || len(a.Data) > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.used -= len(el.Value.(*cacheEntry).audio.Data)
		el.Value.(*cacheEntry).audio = a
		c.used += len(a.Data)
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(&cacheEntry{key: key, audio: a})
		c.used += len(a.Data)
	}
	for c.used > c.maxBytes {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.items, e.key)
		c.used -= len(e.audio.Data)
	}
}

func (c *audioCache) entries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
