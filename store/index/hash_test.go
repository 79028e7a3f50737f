package index

import (
	"fmt"
	"testing"
)

func TestHashIndex_PutGet(t *testing.T) {
	h := NewHashIndex(16)
	h.Put("tok1", 42)
	h.Put("tok2", 7)

	v, ok := h.Get("tok1")
	if !ok || v != 42 {
		t.Errorf("Get(tok1) = (%d, %v), want (42, true)", v, ok)
	}
	if _, ok := h.Get("nope"); ok {
		t.Error("Get(nope) should return false")
	}
	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.Len())
	}
}

func TestHashIndex_PutOverwritesThenRemove(t *testing.T) {
	h := NewHashIndex(8)
	h.Put("a", 1)
	h.Put("a", 2)
	if v, _ := h.Get("a"); v != 2 {
		t.Errorf("Get(a) = %d, want 2", v)
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}

	h.Remove("a")
	if _, ok := h.Get("a"); ok {
		t.Error("Get(a) should return false after Remove")
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}

	// Removing a missing key is a no-op.
	h.Remove("a")
	if h.Len() != 0 {
		t.Errorf("Len() = %d after second Remove, want 0", h.Len())
	}
}

func TestHashIndex_DefaultBuckets(t *testing.T) {
	for _, n := range []int{0, -3} {
		if got := NewHashIndex(n).Buckets(); got != DefaultBuckets {
			t.Errorf("NewHashIndex(%d).Buckets() = %d, want %d", n, got, DefaultBuckets)
		}
	}
}

func TestHashIndex_SingleBucketChain(t *testing.T) {
	// One bucket forces every key into the same chain.
	h := NewHashIndex(1)
	const n = 200
	for i := 0; i < n; i++ {
		h.Put(fmt.Sprintf("k%d", i), int64(i))
	}
	for i := 0; i < n; i += 2 {
		h.Remove(fmt.Sprintf("k%d", i))
	}
	for i := 0; i < n; i++ {
		v, ok := h.Get(fmt.Sprintf("k%d", i))
		if i%2 == 0 {
			if ok {
				t.Fatalf("Get(k%d) should return false after Remove", i)
			}
			continue
		}
		if !ok || v != int64(i) {
			t.Fatalf("Get(k%d) = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}
	if h.Len() != n/2 {
		t.Errorf("Len() = %d, want %d", h.Len(), n/2)
	}

	// Entries keep insertion order inside the chain.
	chain := h.buckets[0]
	for i := 1; i < len(chain); i++ {
		if chain[i-1].value >= chain[i].value {
			t.Fatalf("chain order broken at %d: %d then %d", i, chain[i-1].value, chain[i].value)
		}
	}
}

func TestHashIndex_FNV1a(t *testing.T) {
	// FNV-1a 64 of "a" is 0xaf63dc4c8601ec8c.
	h := NewHashIndex(1 << 16)
	if got, want := h.bucket("a"), int(uint64(0xaf63dc4c8601ec8c)%(1<<16)); got != want {
		t.Errorf("bucket(a) = %d, want %d", got, want)
	}
}

func TestHashIndex_PutAfterRemove(t *testing.T) {
	h := NewHashIndex(4)
	h.Put("x", 1)
	h.Remove("x")
	h.Put("x", 3)
	if v, ok := h.Get("x"); !ok || v != 3 {
		t.Errorf("Get(x) = (%d, %v), want (3, true)", v, ok)
	}
}
