// Package tree stores a single-parent hierarchy in a flat table using
// materialized paths.
//
// Every row carries its id, its parent id and a path listing the ids from
// the root down to itself ("1.4.9."). Ancestor, descendant, root and
// subtree reads become id lookups and path-prefix scans against a
// [Backend]; no recursive joins are needed.
//
// # Saving
//
// Callers build a graph of [Draft] values and hand its top to
// [Repository.Save]. New drafts are inserted parent first, so each path is
// computed from a parent that is already stored:
//
//	root := tree.NewDraft("a1",
//	    tree.NewDraft("a11", tree.NewDraft("a111"), tree.NewDraft("a112")),
//	    tree.NewDraft("a12"),
//	)
//	err := repo.Save(ctx, root)
//
// A single node is attached by setting ParentID on a childless draft.
// Changing the parent of a stored node reparents it together with its
// subtree; see [PathStore.Reparent].
//
// # Reading
//
// [Repository.FindAncestors] and [Repository.FindDescendants] include the
// node itself. [Repository.FindTrees] and [Repository.FindDescendantsTree]
// return nested [Tree] values and accept a depth limit through
// [FindOptions].
//
// # Errors
//
//   - [ErrNotFound] - node doesn't exist or is deleted
//   - [ErrParentNotFound] - parent of a new node doesn't exist
//   - [ErrCyclicParent] - reparent would place a node under itself
//   - [ErrRootNotFound] - subtree root missing from the rows read
//   - [ErrConcurrentModification] - a row changed between read and write
//   - [ErrHasChildren] - delete refused under orphan protection
//   - [OrphanedSubtreeError] - descendant vanished mid-reparent (logged, skipped)
//   - [SaveError] - cascade save failure with the failing node and stage
package tree
