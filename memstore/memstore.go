// Package memstore is an in-memory tree.Backend.
//
// Rows live in a hash map keyed by id; a B-tree ordered by path serves
// prefix scans the same way a range key does in DynamoDB.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/jacentio/canopy/mpath"
	"github.com/jacentio/canopy/tree"
)

// DefaultDegree is the B-tree degree used by New.
const DefaultDegree = 16

// Store keeps tree rows in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	rows   map[int64]tree.Node
	byPath map[string]int64
	paths  *btree.BTreeG[string]
	nextID int64
}

var _ tree.Backend = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		rows:   make(map[int64]tree.Node),
		byPath: make(map[string]int64),
		paths:  btree.NewOrderedG[string](DefaultDegree),
	}
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// NextID reserves the next id of the sequence, starting at 1.
func (s *Store) NextID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

// Insert stores a new row.
func (s *Store) Insert(ctx context.Context, n tree.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ParentID != nil {
		parent, ok := s.rows[*n.ParentID]
		if !ok {
			return tree.ErrParentNotFound
		}
		want, err := mpath.Parent(n.Path)
		if err != nil {
			return err
		}
		if parent.Path != want {
			return fmt.Errorf("%w: parent %d moved to %q", tree.ErrConcurrentModification, parent.ID, parent.Path)
		}
	}
	if _, ok := s.rows[n.ID]; ok {
		return tree.ErrAlreadyExists
	}
	if _, ok := s.byPath[n.Path]; ok {
		return fmt.Errorf("%w: path %q", tree.ErrAlreadyExists, n.Path)
	}
	if n.Version == 0 {
		n.Version = 1
	}
	s.put(n)
	return nil
}

// UpdateFields writes name and attrs if the version still matches.
func (s *Store) UpdateFields(ctx context.Context, n tree.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[n.ID]
	if !ok {
		return tree.ErrNotFound
	}
	if row.Version != n.Version {
		return tree.ErrConcurrentModification
	}
	row.Name = n.Name
	row.Attrs = maps.Clone(n.Attrs)
	row.Version++
	s.rows[n.ID] = row
	return nil
}

// Get returns a copy of the row.
func (s *Store) Get(ctx context.Context, id int64) (tree.Node, error) {
	if err := ctx.Err(); err != nil {
		return tree.Node{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return tree.Node{}, tree.ErrNotFound
	}
	return clone(row), nil
}

// Query returns matching rows in ascending id order.
func (s *Store) Query(ctx context.Context, p tree.Predicate) ([]tree.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []tree.Node
	collect := func(n tree.Node) {
		if p.Matches(n) {
			out = append(out, clone(n))
		}
	}

	switch p.Kind {
	case tree.KindIDs:
		for _, id := range p.IDs {
			if row, ok := s.rows[id]; ok {
				collect(row)
			}
		}
	case tree.KindPathPrefix:
		s.paths.AscendGreaterOrEqual(p.PathPrefix, func(path string) bool {
			if !strings.HasPrefix(path, p.PathPrefix) {
				return false
			}
			collect(s.rows[s.byPath[path]])
			return true
		})
	default:
		for _, row := range s.rows {
			collect(row)
		}
	}

	slices.SortFunc(out, func(a, b tree.Node) int {
		return cmp.Compare(a.ID, b.ID)
	})
	out = slices.CompactFunc(out, func(a, b tree.Node) bool { return a.ID == b.ID })
	return out, nil
}

// ApplyPaths rewrites paths under a single lock, so readers see either all
// or none of the updates.
func (s *Store) ApplyPaths(ctx context.Context, updates []tree.PathUpdate) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var skipped []int64
	live := make([]tree.PathUpdate, 0, len(updates))
	for _, u := range updates {
		row, ok := s.rows[u.ID]
		if !ok {
			skipped = append(skipped, u.ID)
			continue
		}
		if row.Path != u.OldPath {
			return nil, fmt.Errorf("%w: node %d path is %q, expected %q",
				tree.ErrConcurrentModification, u.ID, row.Path, u.OldPath)
		}
		live = append(live, u)
	}

	for _, u := range live {
		row := s.rows[u.ID]
		s.paths.Delete(row.Path)
		delete(s.byPath, row.Path)
	}
	for _, u := range live {
		row := s.rows[u.ID]
		row.Path = u.NewPath
		if u.SetParent {
			row.ParentID = u.ParentID
		}
		row.Version++
		s.put(row)
	}
	return skipped, nil
}

// Delete removes rows together with everything below them, the way the
// stream handler expires a subtree in DynamoDB. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for _, id := range ids {
		row, ok := s.rows[id]
		if !ok {
			continue
		}
		s.paths.AscendGreaterOrEqual(row.Path, func(path string) bool {
			if !strings.HasPrefix(path, row.Path) {
				return false
			}
			doomed = append(doomed, path)
			return true
		})
	}
	for _, path := range doomed {
		id, ok := s.byPath[path]
		if !ok {
			continue
		}
		s.paths.Delete(path)
		delete(s.byPath, path)
		delete(s.rows, id)
	}
	return nil
}

// put stores row and indexes its path. Callers hold the write lock.
func (s *Store) put(row tree.Node) {
	row = clone(row)
	s.rows[row.ID] = row
	s.byPath[row.Path] = row.ID
	s.paths.ReplaceOrInsert(row.Path)
}

func clone(n tree.Node) tree.Node {
	n.Attrs = maps.Clone(n.Attrs)
	if n.ParentID != nil {
		n.ParentID = tree.ParentIDOf(*n.ParentID)
	}
	return n
}
