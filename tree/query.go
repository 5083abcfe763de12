package tree

import (
	"fmt"
	"slices"

	"github.com/jacentio/canopy/mpath"
)

// PredicateKind selects which rows a Predicate matches.
type PredicateKind int

const (
	// KindRoots matches rows without a parent.
	KindRoots PredicateKind = iota
	// KindIDs matches rows whose id is listed in IDs.
	KindIDs
	// KindPathPrefix matches rows whose path starts with PathPrefix.
	KindPathPrefix
	// KindAll matches every row.
	KindAll
)

func (k PredicateKind) String() string {
	switch k {
	case KindRoots:
		return "roots"
	case KindIDs:
		return "ids"
	case KindPathPrefix:
		return "path-prefix"
	case KindAll:
		return "all"
	}
	return fmt.Sprintf("PredicateKind(%d)", int(k))
}

// Predicate is a backend-neutral filter over the id, parent and path
// columns. Backends translate it into their own query language.
type Predicate struct {
	Kind PredicateKind

	// IDs is set for KindIDs, in the order the caller wants them back.
	IDs []int64

	// PathPrefix is set for KindPathPrefix and always ends with the separator.
	PathPrefix string

	// MaxDepth bounds the absolute depth of matched rows when non-nil.
	MaxDepth *int
}

// Roots matches every root.
func Roots() Predicate {
	return Predicate{Kind: KindRoots}
}

// AncestorsOf matches the ids embedded in the node's path, including the
// node itself.
func AncestorsOf(n Node) (Predicate, error) {
	ids, err := mpath.IDs(n.Path)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{Kind: KindIDs, IDs: ids}, nil
}

// DescendantsOf matches the node and its subtree. A non-nil maxDepth keeps
// only rows at most maxDepth levels below the node; 0 matches the node alone.
func DescendantsOf(n Node, maxDepth *int) (Predicate, error) {
	if _, err := mpath.IDs(n.Path); err != nil {
		return Predicate{}, err
	}
	p := Predicate{Kind: KindPathPrefix, PathPrefix: n.Path}
	if maxDepth != nil {
		p.MaxDepth = Depth(n.Depth() + max(*maxDepth, 0))
	}
	return p, nil
}

// Forest matches every row at most maxDepth levels below its root.
func Forest(maxDepth *int) Predicate {
	p := Predicate{Kind: KindAll}
	if maxDepth != nil {
		p.MaxDepth = Depth(max(*maxDepth, 0))
	}
	return p
}

// Matches evaluates the predicate against a single row.
func (p Predicate) Matches(n Node) bool {
	if p.MaxDepth != nil && n.Depth() > *p.MaxDepth {
		return false
	}
	switch p.Kind {
	case KindRoots:
		return n.ParentID == nil
	case KindIDs:
		return slices.Contains(p.IDs, n.ID)
	case KindPathPrefix:
		return mpath.IsPrefixOf(p.PathPrefix, n.Path)
	case KindAll:
		return true
	}
	return false
}

func (p Predicate) String() string {
	s := p.Kind.String()
	switch p.Kind {
	case KindIDs:
		s = fmt.Sprintf("%s %v", s, p.IDs)
	case KindPathPrefix:
		s = fmt.Sprintf("%s %q", s, p.PathPrefix)
	}
	if p.MaxDepth != nil {
		s = fmt.Sprintf("%s depth<=%d", s, *p.MaxDepth)
	}
	return s
}
