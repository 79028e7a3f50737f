package index

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"
)

// checkAVL walks the subtree rooted at n and verifies ordering, stored
// heights and the balance invariant. It returns the subtree height.
func checkAVL(t *testing.T, tree *AVL, n int32, lo, hi *string) int32 {
	t.Helper()
	if n == nilNode {
		return 0
	}
	node := tree.nodes[n]
	if lo != nil && node.key <= *lo {
		t.Fatalf("key %q not greater than lower bound %q", node.key, *lo)
	}
	if hi != nil && node.key >= *hi {
		t.Fatalf("key %q not less than upper bound %q", node.key, *hi)
	}
	lh := checkAVL(t, tree, node.left, lo, &node.key)
	rh := checkAVL(t, tree, node.right, &node.key, hi)
	if bf := lh - rh; bf < -1 || bf > 1 {
		t.Fatalf("node %q balance factor = %d, want within [-1, 1]", node.key, bf)
	}
	h := 1 + max(lh, rh)
	if node.height != h {
		t.Fatalf("node %q stored height = %d, want %d", node.key, node.height, h)
	}
	return h
}

func TestAVL_UpsertAndFind(t *testing.T) {
	tree := NewAVL()
	tree.Upsert("bob", 2)
	tree.Upsert("alice", 1)
	tree.Upsert("carol", 3)

	for key, want := range map[string]int64{"alice": 1, "bob": 2, "carol": 3} {
		got, ok := tree.Find(key)
		if !ok || got != want {
			t.Errorf("Find(%q) = (%d, %v), want (%d, true)", key, got, ok, want)
		}
	}
	if _, ok := tree.Find("dave"); ok {
		t.Error("Find(dave) should return false")
	}
	if tree.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tree.Len())
	}
}

func TestAVL_FindEmpty(t *testing.T) {
	tree := NewAVL()
	if _, ok := tree.Find("x"); ok {
		t.Error("Find on empty tree should return false")
	}
	if tree.Height() != 0 {
		t.Errorf("Height() = %d, want 0", tree.Height())
	}
}

func TestAVL_UpsertOverwrites(t *testing.T) {
	tree := NewAVL()
	tree.Upsert("alice", 7)
	heightBefore := tree.Height()
	tree.Upsert("alice", 9)

	got, ok := tree.Find("alice")
	if !ok || got != 9 {
		t.Errorf("Find(alice) = (%d, %v), want (9, true)", got, ok)
	}
	if tree.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tree.Len())
	}
	if tree.Height() != heightBefore {
		t.Errorf("Height() = %d after overwrite, want %d", tree.Height(), heightBefore)
	}
}

func TestAVL_RotationCases(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		root string
	}{
		{"left-left", []string{"c", "b", "a"}, "b"},
		{"right-right", []string{"a", "b", "c"}, "b"},
		{"left-right", []string{"c", "a", "b"}, "b"},
		{"right-left", []string{"a", "c", "b"}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewAVL()
			for i, k := range tt.keys {
				tree.Upsert(k, int64(i))
			}
			if got := tree.nodes[tree.root].key; got != tt.root {
				t.Errorf("root = %q, want %q", got, tt.root)
			}
			if tree.Height() != 2 {
				t.Errorf("Height() = %d, want 2", tree.Height())
			}
			checkAVL(t, tree, tree.root, nil, nil)
		})
	}
}

func TestAVL_SequentialInsertStaysBalanced(t *testing.T) {
	tree := NewAVL()
	const n = 4096
	for i := 0; i < n; i++ {
		tree.Upsert(fmt.Sprintf("user%06d", i), int64(i))
	}
	checkAVL(t, tree, tree.root, nil, nil)
	// An AVL tree with n nodes has height < 1.45 log2(n+2).
	if h := tree.Height(); h > 18 {
		t.Errorf("Height() = %d for %d sequential keys, want <= 18", h, n)
	}
}

func TestAVL_RandomUpsertsLastWriteWins(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	tree := NewAVL()
	want := make(map[string]int64)

	for i := 0; i < 5000; i++ {
		key := fmt.Sprintf("k%d", rng.IntN(800))
		val := rng.Int64()
		tree.Upsert(key, val)
		want[key] = val
		if i%500 == 0 {
			checkAVL(t, tree, tree.root, nil, nil)
		}
	}
	checkAVL(t, tree, tree.root, nil, nil)

	if tree.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", tree.Len(), len(want))
	}
	for key, val := range want {
		got, ok := tree.Find(key)
		if !ok || got != val {
			t.Fatalf("Find(%q) = (%d, %v), want (%d, true)", key, got, ok, val)
		}
	}
}

func TestAVL_Ascend(t *testing.T) {
	tree := NewAVL()
	keys := []string{"mike", "alice", "zed", "bob", "carol", "", "Bob"}
	for i, k := range keys {
		tree.Upsert(k, int64(i))
	}

	var got []string
	tree.Ascend(func(key string, _ int64) bool {
		got = append(got, key)
		return true
	})
	want := append([]string(nil), keys...)
	sort.Strings(want)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Ascend order = %q, want %q", got, want)
	}

	// Early stop.
	var count int
	tree.Ascend(func(string, int64) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("Ascend visited %d keys after stop, want 2", count)
	}
}
