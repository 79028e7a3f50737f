package index

import "hash/fnv"

// DefaultBuckets is the bucket count used when NewHashIndex is given a
// non-positive size.
const DefaultBuckets = 1024

// HashIndex is a fixed-size chained hash table from string keys to
// int64 values. It never resizes; it is meant for a small working set
// such as live session tokens.
type HashIndex struct {
	buckets [][]hashEntry
	count   int
}

type hashEntry struct {
	key   string
	value int64
}

// NewHashIndex creates a table with the given number of buckets.
func NewHashIndex(buckets int) *HashIndex {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	return &HashIndex{buckets: make([][]hashEntry, buckets)}
}

// Len reports the number of keys in the table.
func (h *HashIndex) Len() int {
	return h.count
}

// Buckets reports the fixed bucket count.
func (h *HashIndex) Buckets() int {
	return len(h.buckets)
}

// Put stores key→value, updating in place if key is already present.
func (h *HashIndex) Put(key string, value int64) {
	b := h.bucket(key)
	for i := range h.buckets[b] {
		if h.buckets[b][i].key == key {
			h.buckets[b][i].value = value
			return
		}
	}
	h.buckets[b] = append(h.buckets[b], hashEntry{key: key, value: value})
	h.count++
}

// Get looks up key. Returns false if not found.
func (h *HashIndex) Get(key string) (int64, bool) {
	for _, e := range h.buckets[h.bucket(key)] {
		if e.key == key {
			return e.value, true
		}
	}
	return 0, false
}

// Remove deletes key if present. Remaining entries in the bucket keep
// their order.
func (h *HashIndex) Remove(key string) {
	b := h.bucket(key)
	entries := h.buckets[b]
	for i := range entries {
		if entries[i].key == key {
			copy(entries[i:], entries[i+1:])
			entries[len(entries)-1] = hashEntry{}
			h.buckets[b] = entries[:len(entries)-1]
			h.count--
			return
		}
	}
}

// bucket returns the FNV-1a 64-bit hash of key reduced modulo the
// bucket count.
func (h *HashIndex) bucket(key string) int {
	f := fnv.New64a()
	f.Write([]byte(key))
	return int(f.Sum64() % uint64(len(h.buckets)))
}
