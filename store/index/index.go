// Package index provides the hand-built in-memory index structures that
// back the record store: an AVL tree keyed by string, an unbalanced
// binary search tree keyed by int64, a fixed-size chained hash table and
// a binary min-heap.
//
// None of the structures are safe for concurrent use. The owning store
// serializes access.
package index

// nilNode marks an absent child in the arena-backed trees.
const nilNode int32 = -1

// StringIndex is a unique-key index from strings to int64 values.
// Upserting an existing key overwrites its value.
type StringIndex interface {
	// Upsert inserts key→value, or overwrites the value if key exists.
	Upsert(key string, value int64)
	// Find looks up key. Returns false if not found.
	Find(key string) (int64, bool)
	// Len reports the number of distinct keys.
	Len() int
}

// IntIndex is a unique-key ordered index from int64 keys to values of
// type V. Upserting an existing key overwrites its value.
type IntIndex[V any] interface {
	Upsert(key int64, value V)
	Get(key int64) (V, bool)
	Len() int
}

var _ StringIndex = (*AVL)(nil)

var _ IntIndex[string] = (*BST[string])(nil)
