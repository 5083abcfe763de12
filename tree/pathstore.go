package tree

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jacentio/canopy/mpath"
)

// PathStore computes materialized paths and keeps them current when nodes
// move.
type PathStore struct {
	backend Backend
	logger  *zap.Logger
}

// NewPathStore creates a PathStore over backend.
func NewPathStore(backend Backend, logger *zap.Logger) *PathStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PathStore{backend: backend, logger: logger}
}

// AssignPath returns the path of node under parent, or the root path when
// parent is nil. The node must already have its id.
func (s *PathStore) AssignPath(node Node, parent *Node) (string, error) {
	if !node.Persisted() {
		return "", fmt.Errorf("canopy: assign path: node %q has no id", node.Name)
	}
	if parent == nil {
		return mpath.Format(nil, node.ID), nil
	}
	if _, err := mpath.IDs(parent.Path); err != nil {
		return "", fmt.Errorf("assign path: parent %d: %w", parent.ID, err)
	}
	return mpath.Child(parent.Path, node.ID), nil
}

// ReparentResult summarizes a reparent.
type ReparentResult struct {
	// Path is the node's new path.
	Path string

	// Moved counts rewritten rows, the node included.
	Moved int

	// Orphaned lists descendants deleted between read and write.
	Orphaned []int64
}

// Reparent moves node under newParent (nil makes it a root) and rewrites
// the paths of the node and its whole subtree in one atomic backend write.
//
// Two concurrent reparents touching overlapping subtrees are not
// serialized here. A row rewritten by the other call makes this one fail
// with ErrConcurrentModification; callers needing stronger isolation must
// serialize the calls themselves.
//
// The subtree is read through Backend.Query, which in DynamoDB is an
// eventually consistent index. After the write the old prefix is read
// again and every row still found under it is confirmed with Get and
// moved in a follow-up write. A child whose insert has not reached the
// index by then is not seen by either read and keeps its old path; callers
// that insert and move in quick succession must wait for the index
// between the two.
func (s *PathStore) Reparent(ctx context.Context, node Node, newParent *Node) (ReparentResult, error) {
	current, err := s.backend.Get(ctx, node.ID)
	if err != nil {
		return ReparentResult{}, fmt.Errorf("reparent %d: %w", node.ID, err)
	}

	var parent *Node
	if newParent != nil {
		p, err := s.backend.Get(ctx, newParent.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				err = ErrParentNotFound
			}
			return ReparentResult{}, fmt.Errorf("reparent %d: load parent %d: %w", node.ID, newParent.ID, err)
		}
		parent = &p
	}

	if sameParent(current.ParentID, parentID(parent)) {
		return ReparentResult{Path: current.Path}, nil
	}

	pred, err := DescendantsOf(current, nil)
	if err != nil {
		return ReparentResult{}, fmt.Errorf("reparent %d: %w", node.ID, err)
	}
	subtree, err := s.backend.Query(ctx, pred)
	if err != nil {
		return ReparentResult{}, fmt.Errorf("reparent %d: read subtree: %w", node.ID, err)
	}

	if parent != nil {
		if parent.ID == current.ID || mpath.IsPrefixOf(current.Path, parent.Path) {
			return ReparentResult{}, fmt.Errorf("%w: %d under %d", ErrCyclicParent, current.ID, parent.ID)
		}
		for _, d := range subtree {
			if d.ID == parent.ID {
				return ReparentResult{}, fmt.Errorf("%w: %d under %d", ErrCyclicParent, current.ID, parent.ID)
			}
		}
	}

	newPath, err := s.AssignPath(current, parent)
	if err != nil {
		return ReparentResult{}, err
	}

	updates := make([]PathUpdate, 0, len(subtree))
	updates = append(updates, PathUpdate{
		ID:        current.ID,
		OldPath:   current.Path,
		NewPath:   newPath,
		SetParent: true,
		ParentID:  parentID(parent),
	})
	paths := map[int64]string{current.ID: current.Path}
	for _, d := range subtree {
		if d.ID == current.ID {
			continue
		}
		rebased, err := mpath.Rebase(d.Path, current.Path, newPath)
		if err != nil {
			return ReparentResult{}, fmt.Errorf("reparent %d: descendant %d: %w", current.ID, d.ID, err)
		}
		updates = append(updates, PathUpdate{ID: d.ID, OldPath: d.Path, NewPath: rebased})
		paths[d.ID] = d.Path
	}

	skipped, err := s.backend.ApplyPaths(ctx, updates)
	if err != nil {
		return ReparentResult{}, fmt.Errorf("reparent %d: apply paths: %w", current.ID, err)
	}

	result := ReparentResult{Path: newPath, Moved: len(updates)}
	for _, id := range skipped {
		if id == current.ID {
			return ReparentResult{}, fmt.Errorf("reparent %d: %w", current.ID, ErrNotFound)
		}
		orphan := &OrphanedSubtreeError{NodeID: id, Path: paths[id]}
		s.logger.Warn("skipped vanished descendant",
			zap.Int64("nodeID", current.ID),
			zap.Int64("descendantID", id),
			zap.Error(orphan),
		)
		result.Orphaned = append(result.Orphaned, id)
		result.Moved--
	}

	stragglers, err := s.sweep(ctx, current.Path, newPath)
	if err != nil {
		return ReparentResult{}, fmt.Errorf("reparent %d: %w", current.ID, err)
	}
	result.Moved += stragglers

	s.logger.Info("reparented subtree",
		zap.Int64("nodeID", current.ID),
		zap.String("oldPath", current.Path),
		zap.String("newPath", newPath),
		zap.Int("moved", result.Moved),
		zap.Int("orphaned", len(result.Orphaned)),
	)

	return result, nil
}

// maxSweeps bounds the follow-up writes of one reparent.
const maxSweeps = 3

// sweep moves rows left under oldPrefix after the main write. Index hits
// are confirmed with Get so rows the index still shows at their old path
// are not rewritten twice.
func (s *PathStore) sweep(ctx context.Context, oldPrefix, newPrefix string) (int, error) {
	moved := 0
	for round := 0; ; round++ {
		rows, err := s.backend.Query(ctx, Predicate{Kind: KindPathPrefix, PathPrefix: oldPrefix})
		if err != nil {
			return moved, fmt.Errorf("sweep %s: %w", oldPrefix, err)
		}

		var updates []PathUpdate
		for _, row := range rows {
			stored, err := s.backend.Get(ctx, row.ID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return moved, fmt.Errorf("sweep %s: %w", oldPrefix, err)
			}
			if !mpath.IsPrefixOf(oldPrefix, stored.Path) {
				continue
			}
			rebased, err := mpath.Rebase(stored.Path, oldPrefix, newPrefix)
			if err != nil {
				return moved, err
			}
			updates = append(updates, PathUpdate{ID: stored.ID, OldPath: stored.Path, NewPath: rebased})
		}
		if len(updates) == 0 {
			return moved, nil
		}
		if round == maxSweeps {
			return moved, fmt.Errorf("%w: %d rows still under %s", ErrConcurrentModification, len(updates), oldPrefix)
		}

		skipped, err := s.backend.ApplyPaths(ctx, updates)
		if err != nil {
			return moved, fmt.Errorf("sweep %s: %w", oldPrefix, err)
		}
		moved += len(updates) - len(skipped)
		s.logger.Warn("moved rows missed by the subtree read",
			zap.String("oldPath", oldPrefix),
			zap.Int("count", len(updates)-len(skipped)),
		)
	}
}

func parentID(parent *Node) *int64 {
	if parent == nil {
		return nil
	}
	return ParentIDOf(parent.ID)
}
