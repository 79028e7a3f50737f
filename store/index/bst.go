package index

import "iter"

// BST is an unbalanced binary search tree mapping int64 keys to values
// of type V. Insertion order determines the shape: strictly increasing
// keys produce a list, so both insert and traversal are iterative.
type BST[V any] struct {
	nodes []bstNode[V]
	root  int32
}

type bstNode[V any] struct {
	key         int64
	value       V
	left, right int32
}

// NewBST creates an empty tree.
func NewBST[V any]() *BST[V] {
	return &BST[V]{root: nilNode}
}

// Len reports the number of keys in the tree.
func (t *BST[V]) Len() int {
	return len(t.nodes)
}

// Upsert inserts key→value, overwriting the value if key exists.
func (t *BST[V]) Upsert(key int64, value V) {
	parent, n := nilNode, t.root
	for n != nilNode {
		node := &t.nodes[n]
		switch {
		case key < node.key:
			parent, n = n, node.left
		case key > node.key:
			parent, n = n, node.right
		default:
			node.value = value
			return
		}
	}

	t.nodes = append(t.nodes, bstNode[V]{key: key, value: value, left: nilNode, right: nilNode})
	id := int32(len(t.nodes) - 1)
	switch {
	case parent == nilNode:
		t.root = id
	case key < t.nodes[parent].key:
		t.nodes[parent].left = id
	default:
		t.nodes[parent].right = id
	}
}

// Get looks up key. Returns false if not found.
func (t *BST[V]) Get(key int64) (V, bool) {
	n := t.root
	for n != nilNode {
		node := &t.nodes[n]
		switch {
		case key < node.key:
			n = node.left
		case key > node.key:
			n = node.right
		default:
			return node.value, true
		}
	}
	var zero V
	return zero, false
}

// All returns an in-order iterator over (key, value) pairs in ascending
// key order. Each call starts a fresh traversal.
func (t *BST[V]) All() iter.Seq2[int64, V] {
	return func(yield func(int64, V) bool) {
		var stack []int32
		n := t.root
		for n != nilNode || len(stack) > 0 {
			for n != nilNode {
				stack = append(stack, n)
				n = t.nodes[n].left
			}
			n = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(t.nodes[n].key, t.nodes[n].value) {
				return
			}
			n = t.nodes[n].right
		}
	}
}
