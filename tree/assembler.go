package tree

import "fmt"

// arena indexes a flat row set by id with per-row child index lists.
type arena struct {
	nodes    []Node
	index    map[int64]int
	children [][]int
	roots    []int
}

func newArena(flat []Node) *arena {
	a := &arena{
		nodes:    flat,
		index:    make(map[int64]int, len(flat)),
		children: make([][]int, len(flat)),
	}
	for i, n := range flat {
		if _, dup := a.index[n.ID]; dup {
			continue
		}
		a.index[n.ID] = i
	}
	for i, n := range flat {
		if a.index[n.ID] != i {
			continue
		}
		if n.ParentID != nil {
			if p, ok := a.index[*n.ParentID]; ok && p != i {
				a.children[p] = append(a.children[p], i)
				continue
			}
		}
		a.roots = append(a.roots, i)
	}
	return a
}

// build materializes the tree under node i. Nodes at maxDepth get no children.
func (a *arena) build(i, depth int, maxDepth *int, seen []bool) Tree {
	t := Tree{Node: a.nodes[i], Children: []Tree{}}
	seen[i] = true
	if maxDepth != nil && depth >= *maxDepth {
		return t
	}
	for _, c := range a.children[i] {
		if seen[c] {
			continue
		}
		t.Children = append(t.Children, a.build(c, depth+1, maxDepth, seen))
	}
	return t
}

// ToForest reconstructs nested trees from flat rows. Every row whose parent
// is nil or absent from flat starts a tree. Roots and children keep the
// order of flat. A nil maxDepth keeps every level.
func ToForest(flat []Node, maxDepth *int) []Tree {
	a := newArena(flat)
	seen := make([]bool, len(flat))
	forest := make([]Tree, 0, len(a.roots))
	for _, r := range a.roots {
		forest = append(forest, a.build(r, 0, maxDepth, seen))
	}
	return forest
}

// ToSingleTree reconstructs the tree rooted at rootID.
func ToSingleTree(flat []Node, rootID int64, maxDepth *int) (Tree, error) {
	a := newArena(flat)
	i, ok := a.index[rootID]
	if !ok {
		return Tree{}, fmt.Errorf("%w: id %d", ErrRootNotFound, rootID)
	}
	return a.build(i, 0, maxDepth, make([]bool, len(flat))), nil
}
