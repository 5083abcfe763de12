// Package mpath encodes and decodes materialized paths.
//
// A materialized path is the chain of node ids from the root of a tree down
// to a node, each id followed by [Separator]. A root with id 1 has path "1.",
// its child 4 has path "1.4." and so on. Every function in this package is
// pure.
package mpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator terminates every path segment, including the last one.
const Separator = "."

// ErrMalformedPath is returned when a path cannot be decoded.
var ErrMalformedPath = errors.New("canopy: malformed path")

// Format joins ancestor ids and self into a path.
func Format(ancestors []int64, self int64) string {
	var b strings.Builder
	for _, id := range ancestors {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteString(Separator)
	}
	b.WriteString(strconv.FormatInt(self, 10))
	b.WriteString(Separator)
	return b.String()
}

// Child returns the path of node self placed directly under parentPath.
func Child(parentPath string, self int64) string {
	return parentPath + strconv.FormatInt(self, 10) + Separator
}

// IDs decodes a path into its ids in root-to-leaf order.
func IDs(path string) ([]int64, error) {
	if path == "" || !strings.HasSuffix(path, Separator) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPath, path)
	}
	segments := strings.Split(strings.TrimSuffix(path, Separator), Separator)
	ids := make([]int64, 0, len(segments))
	for _, seg := range segments {
		id, err := strconv.ParseInt(seg, 10, 64)
		if err != nil || id <= 0 || seg[0] == '+' || seg[0] == '0' {
			return nil, fmt.Errorf("%w: %q: bad segment %q", ErrMalformedPath, path, seg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IsPrefixOf reports whether ancestor names path itself or one of its
// ancestors. Only whole segments match, so "1." is not a prefix of "12.".
func IsPrefixOf(ancestor, path string) bool {
	if ancestor == "" || !strings.HasSuffix(ancestor, Separator) {
		return false
	}
	return strings.HasPrefix(path, ancestor)
}

// Depth returns the number of edges between the root and the node the path
// points at. Roots have depth 0; an empty path yields -1.
func Depth(path string) int {
	return strings.Count(path, Separator) - 1
}

// RootID returns the first id of the path.
func RootID(path string) (int64, error) {
	head, _, ok := strings.Cut(path, Separator)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPath, path)
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q: bad root segment %q", ErrMalformedPath, path, head)
	}
	return id, nil
}

// Rebase replaces the oldPrefix of path with newPrefix.
func Rebase(path, oldPrefix, newPrefix string) (string, error) {
	if !IsPrefixOf(oldPrefix, path) {
		return "", fmt.Errorf("%w: %q is not under %q", ErrMalformedPath, path, oldPrefix)
	}
	if newPrefix == "" || !strings.HasSuffix(newPrefix, Separator) {
		return "", fmt.Errorf("%w: %q", ErrMalformedPath, newPrefix)
	}
	return newPrefix + path[len(oldPrefix):], nil
}

// Parent returns the path of the node's parent, or "" for a root path.
func Parent(path string) (string, error) {
	if _, err := IDs(path); err != nil {
		return "", err
	}
	trimmed := strings.TrimSuffix(path, Separator)
	i := strings.LastIndex(trimmed, Separator)
	if i < 0 {
		return "", nil
	}
	return trimmed[:i+1], nil
}
