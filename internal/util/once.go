package util

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultOnceCapacity bounds how many distinct keys a OnceLogger remembers.
const DefaultOnceCapacity = 256

// OnceKey names one occurrence class, e.g. ("unknown-peer", 7).
type OnceKey struct {
	Class string
	ID    uint32
}

// OnceLogger prints a message the first time its key is seen and swallows
// repeats. Keys live in a bounded LRU, so a packet storm over many ids costs
// a fixed amount of memory; an evicted key may be logged again.
//
// Not safe for concurrent use; it belongs to the tick goroutine.
type OnceLogger struct {
	seen *lru.Cache[OnceKey, struct{}]
	logf func(format string, args ...interface{})
}

// NewOnceLogger creates a OnceLogger that writes through logf (LogWarning
// when nil) and remembers up to capacity keys.
func NewOnceLogger(capacity int, logf func(string, ...interface{})) *OnceLogger {
	if capacity <= 0 {
		capacity = DefaultOnceCapacity
	}
	if logf == nil {
		logf = LogWarning
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[OnceKey, struct{}](capacity)
	return &OnceLogger{seen: cache, logf: logf}
}

// Log reports whether the message was printed.
func (o *OnceLogger) Log(key OnceKey, format string, args ...interface{}) bool {
	if ok, _ := o.seen.ContainsOrAdd(key, struct{}{}); ok {
		return false
	}
	o.logf(format, args...)
	return true
}

// Forget re-arms key, e.g. once the missing peer has finally spawned.
func (o *OnceLogger) Forget(key OnceKey) {
	o.seen.Remove(key)
}

// Reset re-arms every key.
func (o *OnceLogger) Reset() {
	o.seen.Purge()
}
