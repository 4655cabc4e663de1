package store

import "sync"

// keyPool provides reusable byte slices for read-path keys.
// Keys handed to txn.Set or txn.Delete must not come from the pool:
// Badger keeps referencing them until the transaction commits.
var keyPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 192)
	},
}

// buildKey concatenates parts into a pooled buffer.
// Callers must call releaseKey when done with the key.
func buildKey(parts ...string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// releaseKey returns a key buffer to the pool.
func releaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0])
	}
}

// indexKey is the key of one non-unique index entry:
// prefix + "idx:" + name + ":" + value + ":" + id.
func indexKey(prefix, name, value, id string) []byte {
	return []byte(prefix + "idx:" + name + ":" + value + ":" + id)
}
