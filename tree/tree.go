// Package tree evaluates decision trees downloaded from the remote service.
//
// A tree is stored as an arena: a slice of nodes whose children are integer
// indices into the same slice. The arena is validated once by Build and is
// read-only afterwards, so one *Tree can be evaluated from any number of
// goroutines without locking.
//
// Two missing-value strategies are supported. LastPrediction follows a single
// path and, when a split has no majority branch, stops there and returns the
// aggregate of every leaf below it. Proportional fans out into both branches,
// weighting each by the number of training instances under it, and merges the
// leaves it reaches.
package tree

import (
	"github.com/YuminosukeSato/localml/core"
)

// Leaf is the prediction held by a terminal node, or synthesized from several
// of them. Distribution is shared with the tree and must not be modified.
type Leaf struct {
	// Output is a string for classification trees and a float64 for regression trees.
	Output       any
	Count        int
	Confidence   float64
	Error        float64
	Distribution []core.Bucket
}

// WeightedLeaf is one leaf reached during proportional descent together with
// the share of the evaluation weight that reached it.
type WeightedLeaf struct {
	Leaf   *Leaf
	Weight float64
}

type node struct {
	split    bool
	field    string
	op       Operator
	numeric  bool
	num      float64
	str      string
	numSet   map[float64]struct{}
	strSet   map[string]struct{}
	children [2]int
	missing  int
	majority int
	total    float64
	// leaf holds the prediction of a leaf node, or the precomputed aggregate of a split.
	leaf *Leaf
}

// Tree is an immutable, validated decision tree.
type Tree struct {
	nodes      []node
	root       int
	regression bool
}

// Regression reports whether leaves carry numeric outputs.
func (t *Tree) Regression() bool { return t.regression }

// RootIsSplit reports whether evaluation needs at least one input value.
func (t *Tree) RootIsSplit() bool { return t.nodes[t.root].split }

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Evaluate descends from the root for an id-keyed row of normalized values
// and returns the leaf reached, or a leaf synthesized from several.
// Values whose type differs from the split field's type count as missing.
func (t *Tree) Evaluate(row core.Row, strategy MissingStrategy) Leaf {
	if strategy == Proportional {
		reached := t.Reach(row)
		if len(reached) == 1 {
			return *reached[0].Leaf
		}
		return merge(reached, t.regression)
	}

	i := t.root
	for {
		nd := &t.nodes[i]
		if !nd.split {
			return *nd.leaf
		}
		if next, ok := nd.branch(row); ok {
			i = next
			continue
		}
		switch {
		case nd.missing >= 0:
			i = nd.missing
		case nd.majority >= 0:
			i = nd.majority
		default:
			return *nd.leaf
		}
	}
}

// Reach returns the leaves reached under the proportional strategy. The
// weights sum to 1.
func (t *Tree) Reach(row core.Row) []WeightedLeaf {
	return t.reach(t.root, 1, row)
}

func (t *Tree) reach(i int, weight float64, row core.Row) []WeightedLeaf {
	nd := &t.nodes[i]
	if !nd.split {
		return []WeightedLeaf{{Leaf: nd.leaf, Weight: weight}}
	}
	if next, ok := nd.branch(row); ok {
		return t.reach(next, weight, row)
	}
	if nd.missing >= 0 {
		return t.reach(nd.missing, weight, row)
	}

	left, right := nd.children[0], nd.children[1]
	share := 0.5
	if sum := t.nodes[left].total + t.nodes[right].total; sum > 0 {
		share = t.nodes[left].total / sum
	}

	var out []WeightedLeaf
	if share > 0 {
		out = t.reach(left, weight*share, row)
	}
	if share < 1 {
		out = append(out, t.reach(right, weight*(1-share), row)...)
	}
	return out
}

// branch returns the child selected by the row, or false when the value is
// missing or of the wrong type.
func (n *node) branch(row core.Row) (int, bool) {
	v, ok := row[n.field]
	if !ok || v == nil {
		return 0, false
	}

	var hit bool
	if n.numeric {
		x, ok := v.(float64)
		if !ok {
			return 0, false
		}
		hit = n.matchNumber(x)
	} else {
		s, ok := v.(string)
		if !ok || s == "" {
			return 0, false
		}
		hit = n.matchString(s)
	}
	if hit {
		return n.children[0], true
	}
	return n.children[1], true
}

func (n *node) matchNumber(x float64) bool {
	switch n.op {
	case OpEqual:
		return x == n.num
	case OpNotEqual:
		return x != n.num
	case OpLess:
		return x < n.num
	case OpLessEqual:
		return x <= n.num
	case OpGreater:
		return x > n.num
	case OpGreaterEqual:
		return x >= n.num
	case OpIn:
		_, ok := n.numSet[x]
		return ok
	}
	return false
}

func (n *node) matchString(s string) bool {
	switch n.op {
	case OpEqual:
		return s == n.str
	case OpNotEqual:
		return s != n.str
	case OpIn:
		_, ok := n.strSet[s]
		return ok
	}
	return false
}
