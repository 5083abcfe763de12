package tree

import (
	"maps"

	"github.com/jacentio/canopy/mpath"
)

// Node is one row of the flat tree table.
type Node struct {
	// ID is assigned by the backend on first save and never changes.
	ID int64 `json:"id"`

	// ParentID is nil for roots.
	ParentID *int64 `json:"parentId,omitempty"`

	// Path is the materialized path, written only by PathStore.
	Path string `json:"path"`

	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs,omitempty"`

	// Version is the optimistic lock counter maintained by the backend.
	Version int64 `json:"version"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

// Depth returns the number of edges between the node and its root.
func (n Node) Depth() int {
	return mpath.Depth(n.Path)
}

// Persisted reports whether the node has been saved.
func (n Node) Persisted() bool {
	return n.ID > 0
}

// sameFields reports whether the caller-editable fields match.
func (n Node) sameFields(o Node) bool {
	return n.Name == o.Name && maps.Equal(n.Attrs, o.Attrs)
}

// Tree is a node with its nested children.
type Tree struct {
	Node
	Children []Tree `json:"children"`
}

// Walk visits t and every descendant depth-first, parents before children.
func (t Tree) Walk(fn func(Tree)) {
	fn(t)
	for _, c := range t.Children {
		c.Walk(fn)
	}
}

// Draft is a node of a caller-built graph handed to Save. Save fills in
// ID, ParentID and Path of every draft it persists.
type Draft struct {
	Node
	Children []*Draft
}

// NewDraft returns a draft for a new node called name.
func NewDraft(name string, children ...*Draft) *Draft {
	return &Draft{Node: Node{Name: name}, Children: children}
}

// Add appends children to d and returns d.
func (d *Draft) Add(children ...*Draft) *Draft {
	d.Children = append(d.Children, children...)
	return d
}

// ParentIDOf returns a pointer to a copy of id.
func ParentIDOf(id int64) *int64 {
	return &id
}

// Depth returns a pointer to n for use in FindOptions.
func Depth(n int) *int {
	return &n
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
