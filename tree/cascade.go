package tree

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// CascadeSaver persists a draft graph so that every node is written after
// its parent. It orders writes; it does not make them atomic across nodes.
type CascadeSaver struct {
	backend Backend
	paths   *PathStore
	logger  *zap.Logger
}

// NewCascadeSaver creates a CascadeSaver.
func NewCascadeSaver(backend Backend, paths *PathStore, logger *zap.Logger) *CascadeSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadeSaver{backend: backend, paths: paths, logger: logger}
}

type pending struct {
	draft  *Draft
	parent *Node

	// keepParent leaves the stored parent alone.
	keepParent bool
}

// Save walks root breadth-first and persists every draft. The top draft
// keeps the ParentID the caller set on it; every other draft is placed
// under the draft that lists it as a child. A persisted top draft without
// a ParentID stays where it is stored; use PathStore.Reparent to make it a
// root. It returns the number of nodes inserted or changed.
//
// The first failure stops the walk and is returned as a *SaveError.
func (c *CascadeSaver) Save(ctx context.Context, root *Draft) (int, error) {
	if root == nil {
		return 0, nil
	}

	top := pending{draft: root, keepParent: root.Persisted() && root.ParentID == nil}
	if root.ParentID != nil {
		p, err := c.backend.Get(ctx, *root.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				err = ErrParentNotFound
			}
			return 0, &SaveError{Stage: StageLoadParent, Name: root.Name, ID: root.ID, Err: err}
		}
		top.parent = &p
	}

	saved := 0
	queue := []pending{top}
	visited := make(map[*Draft]bool)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		item := queue[0]
		queue = queue[1:]
		if visited[item.draft] {
			continue
		}
		visited[item.draft] = true

		changed, err := c.saveOne(ctx, item)
		if err != nil {
			return saved, err
		}
		if changed {
			saved++
		}

		self := item.draft.Node
		for _, child := range item.draft.Children {
			if child == nil {
				continue
			}
			queue = append(queue, pending{draft: child, parent: &self})
		}
	}

	c.logger.Debug("cascade save finished",
		zap.Int64("rootID", root.ID),
		zap.String("rootName", root.Name),
		zap.Int("saved", saved),
	)
	return saved, nil
}

func (c *CascadeSaver) saveOne(ctx context.Context, item pending) (bool, error) {
	d := item.draft
	if !d.Persisted() {
		return true, c.insert(ctx, d, item.parent)
	}
	return c.update(ctx, d, item.parent, item.keepParent)
}

func (c *CascadeSaver) insert(ctx context.Context, d *Draft, parent *Node) error {
	id, err := c.backend.NextID(ctx)
	if err != nil {
		return &SaveError{Stage: StageAllocateID, Name: d.Name, Err: err}
	}

	n := d.Node
	n.ID = id
	n.ParentID = parentID(parent)
	n.Path, err = c.paths.AssignPath(n, parent)
	if err != nil {
		return &SaveError{Stage: StageAssignPath, Name: d.Name, ID: id, Err: err}
	}
	n.Version = 1

	if err := c.backend.Insert(ctx, n); err != nil {
		return &SaveError{Stage: StageInsert, Name: d.Name, ID: id, Err: err}
	}
	d.Node = n

	c.logger.Debug("node inserted",
		zap.Int64("nodeID", n.ID),
		zap.String("name", n.Name),
		zap.String("path", n.Path),
	)
	return nil
}

func (c *CascadeSaver) update(ctx context.Context, d *Draft, parent *Node, keepParent bool) (bool, error) {
	stored, err := c.backend.Get(ctx, d.ID)
	if err != nil {
		return false, &SaveError{Stage: StageUpdate, Name: d.Name, ID: d.ID, Err: err}
	}

	changed := false
	if !keepParent && !sameParent(stored.ParentID, parentID(parent)) {
		if _, err := c.paths.Reparent(ctx, stored, parent); err != nil {
			return false, &SaveError{Stage: StageReparent, Name: d.Name, ID: d.ID, Err: err}
		}
		if stored, err = c.backend.Get(ctx, d.ID); err != nil {
			return false, &SaveError{Stage: StageReparent, Name: d.Name, ID: d.ID, Err: err}
		}
		changed = true
	}

	if !stored.sameFields(d.Node) {
		n := stored
		n.Name = d.Name
		n.Attrs = d.Attrs
		if err := c.backend.UpdateFields(ctx, n); err != nil {
			return false, &SaveError{Stage: StageUpdate, Name: d.Name, ID: d.ID, Err: err}
		}
		n.Version++
		stored = n
		changed = true
	}

	d.Node = stored
	return changed, nil
}
