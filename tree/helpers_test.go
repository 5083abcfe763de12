package tree_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jacentio/canopy/memstore"
	"github.com/jacentio/canopy/tree"
)

// fixture holds the forest a1(a11(a111), a12), b1 saved into a memstore.
//
//	a1   id 1  "1."
//	a11  id 2  "1.2."
//	a12  id 3  "1.3."
//	a111 id 4  "1.2.4."
//	b1   id 5  "5."
type fixture struct {
	mem  *memstore.Store
	repo *tree.Repository

	a1, a11, a12, a111, b1 *tree.Draft
}

func newFixture(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{mem: memstore.New()}
	f.repo = tree.NewRepository(f.mem, logger)

	f.a111 = tree.NewDraft("a111")
	f.a11 = tree.NewDraft("a11", f.a111)
	f.a12 = tree.NewDraft("a12")
	f.a1 = tree.NewDraft("a1", f.a11, f.a12)
	require.NoError(t, f.repo.Save(ctx, f.a1))

	f.b1 = tree.NewDraft("b1")
	require.NoError(t, f.repo.Save(ctx, f.b1))
	return f
}

func names(nodes []tree.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func treeNames(trees []tree.Tree) []string {
	out := make([]string, len(trees))
	for i, t := range trees {
		out[i] = t.Name
	}
	return out
}

// hookBackend runs before on every ApplyPaths call, letting a test change
// rows between the reparent's read and its write.
type hookBackend struct {
	tree.Backend
	before func(ctx context.Context)
}

func (h *hookBackend) ApplyPaths(ctx context.Context, updates []tree.PathUpdate) ([]int64, error) {
	if h.before != nil {
		h.before(ctx)
	}
	return h.Backend.ApplyPaths(ctx, updates)
}

// laggingIndex hides the missing rows from the first until Query calls, or
// from every call when until is negative, like an index that has not caught
// up with the table yet. Get still sees them.
type laggingIndex struct {
	tree.Backend
	missing map[int64]bool
	until   int
	calls   int
}

func (l *laggingIndex) Query(ctx context.Context, p tree.Predicate) ([]tree.Node, error) {
	rows, err := l.Backend.Query(ctx, p)
	if err != nil {
		return nil, err
	}
	l.calls++
	if l.until >= 0 && l.calls > l.until {
		return rows, nil
	}
	return slices.DeleteFunc(rows, func(n tree.Node) bool { return l.missing[n.ID] }), nil
}
