package tree

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/jacentio/canopy/mpath"
)

// Repository is the public surface of the tree store.
type Repository struct {
	backend Backend
	paths   *PathStore
	saver   *CascadeSaver
	logger  *zap.Logger
}

// NewRepository creates a Repository over backend. A nil logger disables logging.
func NewRepository(backend Backend, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	paths := NewPathStore(backend, logger)
	return &Repository{
		backend: backend,
		paths:   paths,
		saver:   NewCascadeSaver(backend, paths, logger),
		logger:  logger,
	}
}

// Paths returns the repository's PathStore.
func (r *Repository) Paths() *PathStore {
	return r.paths
}

// FindOptions configures tree reads.
type FindOptions struct {
	// Depth limits how many levels below each root are loaded. Nil loads
	// everything; 0 loads the roots alone.
	Depth *int
}

// DeleteOptions configures delete behavior.
type DeleteOptions struct {
	// Cascade deletes the whole subtree.
	Cascade bool

	// OrphanProtect fails the delete if the node has children.
	OrphanProtect bool
}

// Save persists d and every draft reachable through Children. New drafts
// get their id, parent and path; persisted drafts whose parent in the graph
// differs from the stored one are reparented together with their subtree.
// A persisted top draft is only reparented when its ParentID is set; Move
// makes a node a root.
func (r *Repository) Save(ctx context.Context, d *Draft) error {
	_, err := r.saver.Save(ctx, d)
	return err
}

// Move reparents node under newParentID, or makes it a root when nil.
func (r *Repository) Move(ctx context.Context, node Node, newParentID *int64) (ReparentResult, error) {
	var parent *Node
	if newParentID != nil {
		parent = &Node{ID: *newParentID}
	}
	return r.paths.Reparent(ctx, node, parent)
}

// Get loads a node by id.
func (r *Repository) Get(ctx context.Context, id int64) (Node, error) {
	return r.backend.Get(ctx, id)
}

// FindRoots returns every root in insertion order.
func (r *Repository) FindRoots(ctx context.Context) ([]Node, error) {
	return r.backend.Query(ctx, Roots())
}

// FindAncestors returns the node's ancestors ordered from the root down to
// the node itself.
func (r *Repository) FindAncestors(ctx context.Context, node Node) ([]Node, error) {
	node, err := r.resolve(ctx, node)
	if err != nil {
		return nil, err
	}
	pred, err := AncestorsOf(node)
	if err != nil {
		return nil, err
	}
	rows, err := r.backend.Query(ctx, pred)
	if err != nil {
		return nil, fmt.Errorf("find ancestors of %d: %w", node.ID, err)
	}

	byID := make(map[int64]Node, len(rows))
	for _, n := range rows {
		byID[n.ID] = n
	}
	ancestors := make([]Node, 0, len(pred.IDs))
	for _, id := range pred.IDs {
		if n, ok := byID[id]; ok {
			ancestors = append(ancestors, n)
		}
	}
	return ancestors, nil
}

// FindAncestorsTree returns the chain from the root down to the node as a
// tree where each level has exactly one child.
func (r *Repository) FindAncestorsTree(ctx context.Context, node Node) (Tree, error) {
	chain, err := r.FindAncestors(ctx, node)
	if err != nil {
		return Tree{}, err
	}
	if len(chain) == 0 {
		return Tree{}, fmt.Errorf("%w: id %d", ErrRootNotFound, node.ID)
	}
	return ToSingleTree(chain, chain[0].ID, nil)
}

// CountAncestors returns how many nodes lie above the node.
func (r *Repository) CountAncestors(ctx context.Context, node Node) (int, error) {
	ancestors, err := r.FindAncestors(ctx, node)
	if err != nil {
		return 0, err
	}
	return max(len(ancestors)-1, 0), nil
}

// FindDescendants returns the node and every node below it.
func (r *Repository) FindDescendants(ctx context.Context, node Node) ([]Node, error) {
	node, err := r.resolve(ctx, node)
	if err != nil {
		return nil, err
	}
	pred, err := DescendantsOf(node, nil)
	if err != nil {
		return nil, err
	}
	rows, err := r.backend.Query(ctx, pred)
	if err != nil {
		return nil, fmt.Errorf("find descendants of %d: %w", node.ID, err)
	}
	return rows, nil
}

// CountDescendants returns how many nodes lie below the node.
func (r *Repository) CountDescendants(ctx context.Context, node Node) (int, error) {
	rows, err := r.FindDescendants(ctx, node)
	if err != nil {
		return 0, err
	}
	return max(len(rows)-1, 0), nil
}

// FindTrees loads every root with its nested children. Subtrees whose
// parent is already deleted but which have not been expired yet are left
// out, so the trees returned match FindRoots.
func (r *Repository) FindTrees(ctx context.Context, opts FindOptions) ([]Tree, error) {
	rows, err := r.backend.Query(ctx, Forest(opts.Depth))
	if err != nil {
		return nil, fmt.Errorf("find trees: %w", err)
	}
	forest := ToForest(rows, opts.Depth)
	return slices.DeleteFunc(forest, func(t Tree) bool { return !t.IsRoot() }), nil
}

// FindDescendantsTree loads the subtree rooted at node.
func (r *Repository) FindDescendantsTree(ctx context.Context, node Node, opts FindOptions) (Tree, error) {
	node, err := r.resolve(ctx, node)
	if err != nil {
		return Tree{}, err
	}
	pred, err := DescendantsOf(node, opts.Depth)
	if err != nil {
		return Tree{}, err
	}
	rows, err := r.backend.Query(ctx, pred)
	if err != nil {
		return Tree{}, fmt.Errorf("find descendants tree of %d: %w", node.ID, err)
	}
	return ToSingleTree(rows, node.ID, opts.Depth)
}

// Delete removes the node. With Cascade the whole subtree goes with it;
// with OrphanProtect a node that still has children is kept and
// ErrHasChildren returned. Without options the backend takes the subtree
// along on its own: the memstore at once, DynamoDB through the stream
// handler. Cascade reads the subtree through the index, so in DynamoDB a
// child inserted moments earlier may only be expired by the stream handler.
func (r *Repository) Delete(ctx context.Context, node Node, opts DeleteOptions) error {
	node, err := r.resolve(ctx, node)
	if err != nil {
		return err
	}

	ids := []int64{node.ID}
	if opts.Cascade || opts.OrphanProtect {
		pred, err := DescendantsOf(node, nil)
		if err != nil {
			return err
		}
		if !opts.Cascade {
			pred.MaxDepth = Depth(node.Depth() + 1)
		}
		rows, err := r.backend.Query(ctx, pred)
		if err != nil {
			return fmt.Errorf("delete %d: read subtree: %w", node.ID, err)
		}
		if !opts.Cascade && len(rows) > 1 {
			return ErrHasChildren
		}
		if opts.Cascade {
			ids = ids[:0]
			for _, n := range rows {
				ids = append(ids, n.ID)
			}
		}
	}

	if err := r.backend.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete %d: %w", node.ID, err)
	}
	r.logger.Info("nodes deleted",
		zap.Int64("nodeID", node.ID),
		zap.Int("count", len(ids)),
		zap.Bool("cascade", opts.Cascade),
	)
	return nil
}

// resolve reloads the node by id. A caller's copy goes stale as soon as
// the node or one of its ancestors moves, so its Path is never trusted.
func (r *Repository) resolve(ctx context.Context, node Node) (Node, error) {
	if !node.Persisted() {
		return Node{}, fmt.Errorf("%w: node %q was never saved", ErrNotFound, node.Name)
	}
	stored, err := r.backend.Get(ctx, node.ID)
	if err != nil {
		return Node{}, err
	}
	if _, err := mpath.IDs(stored.Path); err != nil {
		return Node{}, fmt.Errorf("node %d: %w", stored.ID, err)
	}
	return stored, nil
}
