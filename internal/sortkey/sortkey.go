// Package sortkey builds natural-order sort keys for library entities.
//
// Keys are hex-encoded collation keys: comparing two keys as plain strings
// gives the same order as comparing the names they came from with numeric
// runs compared by value, so "Chapter 2" sorts before "Chapter 10".
// They can be stored in a TEXT column and used directly in ORDER BY.
package sortkey

import (
	"encoding/hex"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// collators are not safe for concurrent use.
var pool = sync.Pool{
	New: func() any {
		return &keyer{c: collate.New(language.Und, collate.Loose, collate.Numeric)}
	},
}

type keyer struct {
	c   *collate.Collator
	buf collate.Buffer
}

// Key returns the natural sort key for name.
func Key(name string) string {
	k := pool.Get().(*keyer)
	defer pool.Put(k)

	raw := k.c.KeyFromString(&k.buf, name)
	out := hex.EncodeToString(raw)
	k.buf.Reset()
	return out
}

// Less reports whether a sorts before b in natural order.
func Less(a, b string) bool {
	return Key(a) < Key(b)
}
