package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a node doesn't exist or is deleted.
	ErrNotFound = errors.New("canopy: node not found")

	// ErrParentNotFound is returned when the parent of a new node doesn't exist or is deleted.
	ErrParentNotFound = errors.New("canopy: parent node not found")

	// ErrAlreadyExists is returned when inserting a node with an id already in use.
	ErrAlreadyExists = errors.New("canopy: node already exists")

	// ErrConcurrentModification is returned when a row changed between read and write.
	ErrConcurrentModification = errors.New("canopy: node was modified concurrently")

	// ErrCyclicParent is returned when a reparent would place a node under itself.
	ErrCyclicParent = errors.New("canopy: new parent is the node or one of its descendants")

	// ErrRootNotFound is returned when the requested subtree root is absent from the rows read.
	ErrRootNotFound = errors.New("canopy: subtree root not found")

	// ErrHasChildren is returned when deleting a node with children under orphan protection.
	ErrHasChildren = errors.New("canopy: node has children")
)

// OrphanedSubtreeError reports a descendant that vanished while its subtree
// was being reparented. The row is skipped; the reparent still succeeds.
type OrphanedSubtreeError struct {
	NodeID int64
	Path   string
}

func (e *OrphanedSubtreeError) Error() string {
	return fmt.Sprintf("canopy: descendant %d (%s) deleted during reparent", e.NodeID, e.Path)
}

// SaveStage names the step of a cascade save that failed.
type SaveStage string

const (
	StageLoadParent SaveStage = "load-parent"
	StageAllocateID SaveStage = "allocate-id"
	StageAssignPath SaveStage = "assign-path"
	StageInsert     SaveStage = "insert"
	StageReparent   SaveStage = "reparent"
	StageUpdate     SaveStage = "update"
)

// SaveError is returned by a cascade save. Nodes saved before the failing
// one stay saved.
type SaveError struct {
	Stage SaveStage
	Name  string
	ID    int64
	Err   error
}

func (e *SaveError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("canopy: save %q (id %d) failed at %s: %v", e.Name, e.ID, e.Stage, e.Err)
	}
	return fmt.Sprintf("canopy: save %q failed at %s: %v", e.Name, e.Stage, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
