package txn

import "github.com/sharedcode/oltpcore/version"

// Kind discriminates the three item variants spec.md §4.4 describes via
// pointer tag bits ("the lower bits of an item's key pointer distinguish
// record items from bucket-version items (unordered) and internode items
// (ordered)"). Per the DESIGN NOTES, this module expresses that as a plain
// tagged sum type instead.
type Kind int

const (
	// RecordKind identifies an item protecting a single record's version
	// word (either index).
	RecordKind Kind = iota
	// BucketKind identifies an item protecting an unordered index
	// bucket's version word.
	BucketKind
	// InternodeKind identifies an item protecting an ordered index node's
	// version word (an "internode observation").
	InternodeKind
)

// Flag carries container-defined write intent.
type Flag uint8

const (
	// FlagInsert marks a write item as a speculative insert.
	FlagInsert Flag = 1 << iota
	// FlagDelete marks a write item as a speculative delete.
	FlagDelete
)

// ItemKey identifies the entity an Item protects: the Owner (the container
// instance), the item Kind, and an opaque, comparable Raw key (a *Record,
// a bucket index, or a trie leaf *Node). Owner+Kind+Raw together must be
// unique across the whole descriptor, mirroring spec.md §3's "owner identifies the
// container; key is an opaque pointer or integer identifying the protected
// entity."
type ItemKey struct {
	Owner Owner
	Kind  Kind
	Raw   any
}

// Item is the transaction item T of spec.md §3: either a read-set
// observation, a write-set staged mutation, or both.
type Item struct {
	Key ItemKey

	HasRead  bool
	Observed version.Snapshot

	HasWrite bool
	Flags    Flag
	Value    any

	// locked becomes true once this transaction's commit phase has
	// successfully acquired the underlying word's lock for this item.
	locked bool
}

// HasFlag reports whether f is set.
func (it *Item) HasFlag(f Flag) bool { return it.Flags&f != 0 }

// SetFlag sets f.
func (it *Item) SetFlag(f Flag) { it.Flags |= f }

// ClearFlag clears f.
func (it *Item) ClearFlag(f Flag) { it.Flags &^= f }

// Locked reports whether this transaction currently holds the item's lock.
func (it *Item) Locked() bool { return it.locked }
