package version

import (
	"time"

	"github.com/google/uuid"
)

// RecordID is a hash-table record's identity, independent of the key it
// currently stores: spec.md §4.2's record-level lock/check/install protect
// the word at this identity, not the key, so a record keeps the same
// RecordID across an update that changes its value.
type RecordID [16]byte

// NodeID is a trie node's identity. A split publishes the new right
// sibling with a fresh NodeID; the leaf being split stays in place and
// keeps its own.
type NodeID [16]byte

func newIdentity() [16]byte {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return id
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}

// NewRecordID returns a fresh, randomly generated record identity.
func NewRecordID() RecordID { return RecordID(newIdentity()) }

// NewNodeID returns a fresh, randomly generated node identity.
func NewNodeID() NodeID { return NodeID(newIdentity()) }

func (id RecordID) String() string { return uuid.UUID(id).String() }
func (id NodeID) String() string   { return uuid.UUID(id).String() }
