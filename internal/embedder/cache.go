package embedder

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewCache gets a non-positive size
const DefaultCacheSize = 10000

// Cache is an LRU of vectors keyed by model and content hash.
// A nil *Cache is valid and never hits.
type Cache struct {
	entries *lru.Cache[string, Embedding]
}

// NewCache creates a cache holding up to size embeddings
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, _ := lru.New[string, Embedding](size) // Only fails for size <= 0
	return &Cache{entries: entries}
}

// ContentHash is the SHA-256 of text, hex encoded
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func cacheKey(model, hash string) string {
	return model + "\x00" + hash
}

// Get returns a copy of the embedding of text under model
func (c *Cache) Get(model, text string) (*Embedding, bool) {
	if c == nil {
		return nil, false
	}
	emb, ok := c.entries.Get(cacheKey(model, ContentHash(text)))
	if !ok {
		return nil, false
	}
	emb.Vector = append([]float32(nil), emb.Vector...)
	return &emb, true
}

// Set stores a copy of emb as the embedding of text under model
func (c *Cache) Set(model, text string, emb *Embedding) {
	if c == nil || emb == nil {
		return
	}
	stored := *emb
	stored.Vector = append([]float32(nil), emb.Vector...)
	stored.Hash = ContentHash(text)
	c.entries.Add(cacheKey(model, stored.Hash), stored)
}

// Len returns the number of cached embeddings
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	if c != nil {
		c.entries.Purge()
	}
}
