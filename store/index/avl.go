package index

// AVL is a self-balancing binary search tree mapping string keys to
// int64 values, ordered lexicographically. Nodes are kept in an arena
// and addressed by index, so the tree never hands out node pointers.
type AVL struct {
	nodes []avlNode
	root  int32
}

type avlNode struct {
	key         string
	value       int64
	left, right int32
	height      int32
}

// NewAVL creates an empty tree.
func NewAVL() *AVL {
	return &AVL{root: nilNode}
}

// Len reports the number of keys in the tree.
func (t *AVL) Len() int {
	return len(t.nodes)
}

// Height reports the height of the tree (0 when empty).
func (t *AVL) Height() int {
	return int(t.height(t.root))
}

// Upsert inserts key→value. If key already exists its value is
// overwritten and the tree shape is left untouched.
func (t *AVL) Upsert(key string, value int64) {
	t.root, _ = t.insert(t.root, key, value)
}

// Find looks up key. Returns false if not found.
func (t *AVL) Find(key string) (int64, bool) {
	n := t.root
	for n != nilNode {
		node := &t.nodes[n]
		switch {
		case key == node.key:
			return node.value, true
		case key < node.key:
			n = node.left
		default:
			n = node.right
		}
	}
	return 0, false
}

// Ascend calls fn for every key in ascending order until fn returns false.
func (t *AVL) Ascend(fn func(key string, value int64) bool) {
	stack := make([]int32, 0, t.height(t.root))
	n := t.root
	for n != nilNode || len(stack) > 0 {
		for n != nilNode {
			stack = append(stack, n)
			n = t.nodes[n].left
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(t.nodes[n].key, t.nodes[n].value) {
			return
		}
		n = t.nodes[n].right
	}
}

// insert adds key under subtree n and returns the new subtree root.
// grew is false when key already existed, in which case no heights
// changed and the ancestors skip rebalancing.
func (t *AVL) insert(n int32, key string, value int64) (root int32, grew bool) {
	if n == nilNode {
		t.nodes = append(t.nodes, avlNode{
			key:    key,
			value:  value,
			left:   nilNode,
			right:  nilNode,
			height: 1,
		})
		return int32(len(t.nodes) - 1), true
	}

	// Indexes stay stable across appends; pointers into t.nodes do not.
	switch nodeKey := t.nodes[n].key; {
	case key < nodeKey:
		child, grew := t.insert(t.nodes[n].left, key, value)
		t.nodes[n].left = child
		if !grew {
			return n, false
		}
	case key > nodeKey:
		child, grew := t.insert(t.nodes[n].right, key, value)
		t.nodes[n].right = child
		if !grew {
			return n, false
		}
	default:
		t.nodes[n].value = value
		return n, false
	}

	t.updateHeight(n)
	bf := t.balance(n)
	left, right := t.nodes[n].left, t.nodes[n].right

	// The rotation case is picked by where the new key landed relative to
	// the heavy child, not by the child's own balance factor.
	switch {
	case bf > 1 && key < t.nodes[left].key: // left-left
		return t.rotateRight(n), true
	case bf < -1 && key > t.nodes[right].key: // right-right
		return t.rotateLeft(n), true
	case bf > 1 && key > t.nodes[left].key: // left-right
		t.nodes[n].left = t.rotateLeft(left)
		return t.rotateRight(n), true
	case bf < -1 && key < t.nodes[right].key: // right-left
		t.nodes[n].right = t.rotateRight(right)
		return t.rotateLeft(n), true
	}
	return n, true
}

func (t *AVL) height(n int32) int32 {
	if n == nilNode {
		return 0
	}
	return t.nodes[n].height
}

func (t *AVL) updateHeight(n int32) {
	t.nodes[n].height = 1 + max(t.height(t.nodes[n].left), t.height(t.nodes[n].right))
}

// balance returns height(left) - height(right) for node n.
func (t *AVL) balance(n int32) int32 {
	if n == nilNode {
		return 0
	}
	return t.height(t.nodes[n].left) - t.height(t.nodes[n].right)
}

func (t *AVL) rotateRight(y int32) int32 {
	x := t.nodes[y].left
	t.nodes[y].left = t.nodes[x].right
	t.nodes[x].right = y
	t.updateHeight(y)
	t.updateHeight(x)
	return x
}

func (t *AVL) rotateLeft(x int32) int32 {
	y := t.nodes[x].right
	t.nodes[x].right = t.nodes[y].left
	t.nodes[y].left = x
	t.updateHeight(x)
	t.updateHeight(y)
	return y
}
