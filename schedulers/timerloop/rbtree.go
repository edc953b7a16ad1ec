package timerloop

import "time"

// color packs the red/black bit. spec.md §9 explicitly forbids packing it
// into the low bit of a 2-aligned parent pointer for languages (like Go)
// where pointer tagging isn't portable/safe; this tree keeps it as an
// ordinary explicit field alongside the parent pointer instead, per
// spec.md §9's own guidance.
type color bool

const (
	red   color = false
	black color = true
)

// node is one pending deadline, keyed on (deadline, seq) so that equal
// deadlines still order by insertion (spec.md §3's timer-loop-tree key).
type node struct {
	deadline time.Time
	seq      uint64

	color               color
	parent, left, right *node

	cancelled bool // stop_ops was called; deliver set_stopped instead of set_value
	delivered bool // already popped and handed to the caller for delivery

	op *timerOp
}

// rbtree is a red-black tree of *node, using a single shared sentinel leaf
// (CLRS-style) so that every "no child"/"no parent" case is a comparison
// against nilNode instead of a nil check, which keeps the rotate/fixup code
// uniform.
type rbtree struct {
	root *node
	nilNode *node
	min     *node // cached current minimum, per spec.md §3/§4.6
	size    int
}

func newRBTree() *rbtree {
	sentinel := &node{color: black}
	sentinel.parent, sentinel.left, sentinel.right = sentinel, sentinel, sentinel
	return &rbtree{root: sentinel, nilNode: sentinel}
}

func (t *rbtree) less(a, b *node) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.seq < b.seq
}

func (t *rbtree) empty() bool { return t.root == t.nilNode }

func (t *rbtree) leftRotate(x *node) {
	y := x.right
	x.right = y.left
	if y.left != t.nilNode {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilNode {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *rbtree) rightRotate(x *node) {
	y := x.left
	x.left = y.right
	if y.right != t.nilNode {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilNode {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

// insert adds n to the tree and restores the red-black invariants,
// updating the cached minimum if n is now the smallest key.
func (t *rbtree) insert(n *node) {
	n.left, n.right, n.parent = t.nilNode, t.nilNode, t.nilNode
	n.color = red

	y := t.nilNode
	x := t.root
	for x != t.nilNode {
		y = x
		if t.less(n, x) {
			x = x.left
		} else {
			x = x.right
		}
	}
	n.parent = y
	if y == t.nilNode {
		t.root = n
	} else if t.less(n, y) {
		y.left = n
	} else {
		y.right = n
	}

	t.size++
	if t.min == nil || t.less(n, t.min) {
		t.min = n
	}

	t.insertFixup(n)
}

func (t *rbtree) insertFixup(z *node) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *rbtree) minimumFrom(x *node) *node {
	for x.left != t.nilNode {
		x = x.left
	}
	return x
}

func (t *rbtree) transplant(u, v *node) {
	if u.parent == t.nilNode {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

// remove deletes n from the tree (cases 1-6 of the standard red-black
// deletion case-split on sibling/nephew colors, spec.md §4.6) and
// refreshes the cached minimum if n was it.
func (t *rbtree) remove(z *node) {
	y := z
	yOriginalColor := y.color
	var x *node

	if z.left == t.nilNode {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nilNode {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minimumFrom(z.right)
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginalColor == black {
		t.removeFixup(x)
	}

	z.parent, z.left, z.right = nil, nil, nil
	t.size--

	if t.min == z {
		if t.empty() {
			t.min = nil
		} else {
			t.min = t.minimumFrom(t.root)
		}
	}
}

func (t *rbtree) removeFixup(x *node) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.leftRotate(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}
