package tree

import "context"

// Backend is the flat record storage the tree core runs on.
//
// Implementations must return query rows in ascending id order. Ids come
// from a monotonic sequence, so this is insertion order.
type Backend interface {
	// NextID reserves a fresh node id.
	NextID(ctx context.Context) (int64, error)

	// Insert writes a new row carrying its id and path. It fails with
	// ErrParentNotFound when ParentID names a missing or deleted row, with
	// ErrConcurrentModification when the parent's stored path is no longer
	// the prefix n.Path was built from, and with ErrAlreadyExists when the
	// id is taken.
	Insert(ctx context.Context, n Node) error

	// UpdateFields writes Name and Attrs, conditioned on n.Version, and
	// bumps the stored version by one. A version mismatch fails with
	// ErrConcurrentModification.
	UpdateFields(ctx context.Context, n Node) error

	// Get returns a live row or ErrNotFound.
	Get(ctx context.Context, id int64) (Node, error)

	// Query returns every live row matching p.
	Query(ctx context.Context, p Predicate) ([]Node, error)

	// ApplyPaths writes all updates atomically. Rows that no longer exist
	// are left out and their ids returned; a row whose path no longer
	// equals OldPath fails the whole call with ErrConcurrentModification.
	ApplyPaths(ctx context.Context, updates []PathUpdate) (skipped []int64, err error)

	// Delete removes the rows. Their subtrees follow, immediately or
	// eventually; the DynamoDB store relies on the stream handler for that.
	// Deleting a missing row is not an error.
	Delete(ctx context.Context, ids []int64) error
}

// PathUpdate moves one row from OldPath to NewPath.
type PathUpdate struct {
	ID      int64
	OldPath string
	NewPath string

	// SetParent is true for the reparented node itself; ParentID is then
	// written too. Descendants keep their parent.
	SetParent bool
	ParentID  *int64
}
