package repository

import "hash/fnv"

// rankIndex is an order-statistic treap over machines ordered by score desc,
// then machine id asc. In-order traversal yields the ranking. Not safe for
// concurrent use.
type rankIndex struct {
	root   *node
	scores map[string]float64
}

type node struct {
	id    string
	score float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func newRankIndex() *rankIndex {
	return &rankIndex{scores: make(map[string]float64)}
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// before reports whether (aScore, aID) ranks ahead of (bScore, bID).
func before(aScore float64, aID string, bScore float64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

// priority derives a stable heap priority from the machine id so the tree
// shape does not depend on insertion history.
func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, id string, score float64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: priority(id), size: 1}
	}
	if before(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, score float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, score)
		}
	case before(score, id, n.score, n.id):
		n.left = remove(n.left, id, score)
	default:
		n.right = remove(n.right, id, score)
	}
	fix(n)
	return n
}

// Set places id at score, moving it if already present.
func (r *rankIndex) Set(id string, score float64) {
	if old, ok := r.scores[id]; ok {
		if old == score {
			return
		}
		r.root = remove(r.root, id, old)
	}
	r.scores[id] = score
	r.root = insert(r.root, id, score)
}

// Has reports whether id is indexed.
func (r *rankIndex) Has(id string) bool {
	_, ok := r.scores[id]
	return ok
}

// Len returns the number of indexed machines.
func (r *rankIndex) Len() int { return nsize(r.root) }

// Position returns the 1-based rank of id, or 0 if absent.
func (r *rankIndex) Position(id string) int {
	score, ok := r.scores[id]
	if !ok {
		return 0
	}
	pos := 0
	for n := r.root; n != nil; {
		switch {
		case n.id == id:
			return pos + nsize(n.left) + 1
		case before(score, id, n.score, n.id):
			n = n.left
		default:
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// Walk visits up to limit machines in rank order. A negative limit visits all.
func (r *rankIndex) Walk(limit int, fn func(id string, score float64)) {
	if limit < 0 {
		limit = r.Len()
	}
	seen := 0
	var visit func(n *node)
	visit = func(n *node) {
		if n == nil || seen >= limit {
			return
		}
		visit(n.left)
		if seen < limit {
			fn(n.id, n.score)
			seen++
		}
		visit(n.right)
	}
	visit(r.root)
}
