package tree

import (
	"math"

	"github.com/YuminosukeSato/localml/fields"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Build validates desc against catalog and returns the tree. Every structural
// problem is reported here as a MalformedTreeError, so Evaluate never meets one.
func Build(desc Description, catalog *fields.Catalog) (*Tree, error) {
	if catalog == nil {
		return nil, errors.NewValidationError("catalog", "field catalog is required", nil)
	}
	n := len(desc.Nodes)
	if n == 0 {
		return nil, errors.NewMalformedTreeError(-1, "tree has no nodes")
	}
	if desc.Root < 0 || desc.Root >= n {
		return nil, errors.NewMalformedTreeError(-1, "root index %d out of range [0, %d)", desc.Root, n)
	}

	t := &Tree{
		nodes:      make([]node, n),
		root:       desc.Root,
		regression: isRegression(desc, catalog),
	}
	for i, nd := range desc.Nodes {
		var err error
		if nd.IsSplit() {
			err = t.buildSplit(i, nd, catalog)
		} else {
			err = t.buildLeaf(i, nd)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := t.checkAcyclic(); err != nil {
		return nil, err
	}

	visited := make([]bool, n)
	t.computeTotal(t.root, visited)
	t.computeAggregates()
	return t, nil
}

// isRegression uses the objective field's optype when the catalog knows it,
// otherwise whether every leaf output is numeric.
func isRegression(desc Description, catalog *fields.Catalog) bool {
	if f, ok := catalog.Field(desc.Objective); ok {
		return f.OpType == fields.Numeric
	}
	sawLeaf := false
	for _, nd := range desc.Nodes {
		if nd.IsSplit() {
			continue
		}
		sawLeaf = true
		if _, ok := toFloat(nd.Output); !ok {
			return false
		}
	}
	return sawLeaf
}

func (t *Tree) buildSplit(i int, nd NodeDescription, catalog *fields.Catalog) error {
	n := len(t.nodes)
	if len(nd.Children) != 2 {
		return errors.NewMalformedTreeError(i, "split must have exactly two children, got %d", len(nd.Children))
	}
	for _, c := range nd.Children {
		if c < 0 || c >= n {
			return errors.NewMalformedTreeError(i, "child index %d out of range", c)
		}
	}
	f, ok := catalog.Field(nd.Field)
	if !ok {
		return errors.NewMalformedTreeError(i, "split field %q is not in the field catalog", nd.Field)
	}
	if !nd.Operator.valid() {
		return errors.NewMalformedTreeError(i, "unknown operator %q", nd.Operator)
	}

	out := node{
		split:    true,
		field:    nd.Field,
		op:       nd.Operator,
		numeric:  f.OpType == fields.Numeric,
		children: [2]int{nd.Children[0], nd.Children[1]},
		missing:  -1,
		majority: -1,
	}

	switch {
	case out.numeric && nd.Operator == OpIn:
		out.numSet = make(map[float64]struct{})
		for _, v := range setValues(nd.Value) {
			x, ok := toFloat(v)
			if !ok {
				return errors.NewMalformedTreeError(i, "set member %v is not numeric for field %s", v, nd.Field)
			}
			out.numSet[x] = struct{}{}
		}
		if len(out.numSet) == 0 {
			return errors.NewMalformedTreeError(i, "operator in needs a non-empty set")
		}
	case out.numeric:
		x, ok := toFloat(nd.Value)
		if !ok {
			return errors.NewMalformedTreeError(i, "value %v is not numeric for field %s", nd.Value, nd.Field)
		}
		out.num = x
	case nd.Operator.ordered():
		return errors.NewMalformedTreeError(i, "operator %s needs a numeric field, %s is %s", nd.Operator, nd.Field, f.OpType)
	case nd.Operator == OpIn:
		out.strSet = make(map[string]struct{})
		for _, v := range setValues(nd.Value) {
			s, ok := v.(string)
			if !ok {
				return errors.NewMalformedTreeError(i, "set member %v is not a string for field %s", v, nd.Field)
			}
			out.strSet[s] = struct{}{}
		}
		if len(out.strSet) == 0 {
			return errors.NewMalformedTreeError(i, "operator in needs a non-empty set")
		}
	default:
		s, ok := nd.Value.(string)
		if !ok {
			return errors.NewMalformedTreeError(i, "value %v is not a string for field %s", nd.Value, nd.Field)
		}
		out.str = s
	}

	if nd.MissingChild != nil {
		if c := *nd.MissingChild; c < 0 || c >= n {
			return errors.NewMalformedTreeError(i, "missing child index %d out of range", c)
		}
		out.missing = *nd.MissingChild
	}
	if nd.MajorityChild != nil {
		c := *nd.MajorityChild
		if c != out.children[0] && c != out.children[1] {
			return errors.NewMalformedTreeError(i, "majority child %d is not one of the children", c)
		}
		out.majority = c
	}

	t.nodes[i] = out
	return nil
}

func setValues(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out
	}
	return nil
}

func (t *Tree) buildLeaf(i int, nd NodeDescription) error {
	if nd.Output == nil {
		return errors.NewMalformedTreeError(i, "leaf has no output")
	}
	if nd.Count < 0 {
		return errors.NewMalformedTreeError(i, "negative instance count %d", nd.Count)
	}

	leaf := &Leaf{Count: nd.Count, Distribution: nd.Distribution}
	if nd.Error != nil {
		leaf.Error = *nd.Error
	}

	if t.regression {
		x, ok := toFloat(nd.Output)
		if !ok {
			return errors.NewMalformedTreeError(i, "regression leaf output %v is not numeric", nd.Output)
		}
		leaf.Output = x
		if nd.Confidence != nil {
			leaf.Confidence = *nd.Confidence
		} else {
			leaf.Confidence = 1 / (1 + math.Abs(leaf.Error))
		}
	} else {
		s, ok := nd.Output.(string)
		if !ok {
			return errors.NewMalformedTreeError(i, "classification leaf output %v is not a string", nd.Output)
		}
		leaf.Output = s
		if nd.Confidence != nil {
			leaf.Confidence = *nd.Confidence
		} else {
			leaf.Confidence = leafWilsonScore(s, nd)
		}
	}
	if math.IsNaN(leaf.Confidence) {
		return errors.NewMalformedTreeError(i, "leaf confidence is NaN")
	}

	t.nodes[i] = node{leaf: leaf, total: float64(nd.Count), missing: -1, majority: -1}
	return nil
}

// successors lists the nodes a split can descend into.
func (n *node) successors() []int {
	if !n.split {
		return nil
	}
	if n.missing >= 0 && n.missing != n.children[0] && n.missing != n.children[1] {
		return []int{n.children[0], n.children[1], n.missing}
	}
	if n.children[0] == n.children[1] {
		return []int{n.children[0]}
	}
	return []int{n.children[0], n.children[1]}
}

const (
	white = iota
	grey
	black
)

// checkAcyclic runs an iterative three-colour DFS from the root and then
// from every node it left white, so unreachable cycles are rejected too.
func (t *Tree) checkAcyclic() error {
	type frame struct {
		node int
		next int
	}
	color := make([]uint8, len(t.nodes))
	var stack []frame

	starts := make([]int, 0, len(t.nodes)+1)
	starts = append(starts, t.root)
	for i := range t.nodes {
		starts = append(starts, i)
	}
	for _, start := range starts {
		if color[start] != white {
			continue
		}
		color[start] = grey
		stack = append(stack[:0], frame{node: start})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := t.nodes[top.node].successors()
			if top.next == len(succ) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			c := succ[top.next]
			top.next++
			switch color[c] {
			case grey:
				return errors.NewMalformedTreeError(c, "cycle detected: node %d refers back to it", stack[len(stack)-1].node)
			case white:
				color[c] = grey
				stack = append(stack, frame{node: c})
			}
		}
	}
	return nil
}

// computeTotal sets each reachable split's total to the instance count
// below it. The tree is known to be acyclic.
func (t *Tree) computeTotal(i int, visited []bool) float64 {
	nd := &t.nodes[i]
	if visited[i] || !nd.split {
		visited[i] = true
		return nd.total
	}
	visited[i] = true
	total := 0.0
	for _, c := range nd.successors() {
		total += t.computeTotal(c, visited)
	}
	nd.total = total
	return total
}

// computeAggregates stores on every split the count-weighted merge of the
// distinct leaves below it.
func (t *Tree) computeAggregates() {
	for i := range t.nodes {
		if !t.nodes[i].split {
			continue
		}
		leaves := t.leavesUnder(i)
		weights := 0.0
		for _, wl := range leaves {
			weights += wl.Weight
		}
		if weights == 0 {
			for j := range leaves {
				leaves[j].Weight = 1
			}
		}
		agg := merge(leaves, t.regression)
		t.nodes[i].leaf = &agg
	}
}

func (t *Tree) leavesUnder(i int) []WeightedLeaf {
	seen := make(map[int]bool)
	stack := []int{i}
	var out []WeightedLeaf
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[j] {
			continue
		}
		seen[j] = true
		nd := &t.nodes[j]
		if !nd.split {
			out = append(out, WeightedLeaf{Leaf: nd.leaf, Weight: float64(nd.leaf.Count)})
			continue
		}
		succ := nd.successors()
		for k := len(succ) - 1; k >= 0; k-- {
			stack = append(stack, succ[k])
		}
	}
	return out
}
