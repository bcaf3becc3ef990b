package unordered

import (
	"sync/atomic"

	"github.com/sharedcode/oltpcore/version"
)

// Record is a hash-chain node: a key, a value, a deleted marker, an
// INVALID marker for a speculative insert not yet committed, and the
// version word spec.md §4.2's record-level Lock/Check/Install protect.
// A Record is always heap-allocated and referenced only through *Record;
// it is never copied by value.
type Record struct {
	id      version.RecordID
	version version.Word

	key   any
	value atomic.Value

	deleted atomic.Bool
	invalid atomic.Bool

	bucketIdx int
	next      atomic.Pointer[Record]
}

// valueBox gives atomic.Value a single concrete type to store regardless
// of what the caller's value actually is (including nil).
type valueBox struct{ v any }

func newRecord(key, value any, bucketIdx int) *Record {
	r := &Record{id: version.NewRecordID(), key: key, bucketIdx: bucketIdx}
	r.value.Store(valueBox{value})
	r.invalid.Store(true)
	return r
}

// ID returns the record's identity, stable across updates to its value.
func (r *Record) ID() version.RecordID { return r.id }

// Value returns the record's current staged or committed value.
func (r *Record) Value() any {
	return r.value.Load().(valueBox).v
}

func (r *Record) setValue(v any) {
	r.value.Store(valueBox{v})
}
