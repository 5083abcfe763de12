// Package shard provides partition key generation for the path index.
package shard

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

// PathPartition computes the index partition for every node of the tree
// rooted at rootID. Keeping a tree in one partition lets a single query
// with begins_with on the path range key read any subtree.
// With numShards=1, every tree goes to shard "00".
func PathPartition(treeName string, rootID int64, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", treeName)
	}
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(rootID, 10)))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", treeName, shard)
}

// Partitions lists all index partitions of a tree name, for fan-out reads.
func Partitions(treeName string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	parts := make([]string, numShards)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s#%02x", treeName, i)
	}
	return parts
}
