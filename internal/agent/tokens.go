package agent

import "sync"

// tokenCacheCapacity bounds the process-wide token estimate cache at
// 10,000 entries, evicting the oldest insertion once full. No BPE
// tokenizer library appears anywhere in the example corpus, so this
// stays a stdlib char-count heuristic rather than a proper tokenizer
// (see DESIGN.md).
const tokenCacheCapacity = 10000

type estimateCache struct {
	mu    sync.Mutex
	data  map[string]int
	order []string
}

var globalTokenCache = &estimateCache{data: make(map[string]int)}

func (c *estimateCache) get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *estimateCache) put(key string, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; !exists {
		if len(c.order) >= tokenCacheCapacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.data, oldest)
		}
		c.order = append(c.order, key)
	}
	c.data[key] = v
}

// estimateTokens returns a cached rough token count for text, ~4 chars
// per token.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if v, ok := globalTokenCache.get(text); ok {
		return v
	}
	n := (len(text) + 3) / 4
	globalTokenCache.put(text, n)
	return n
}
