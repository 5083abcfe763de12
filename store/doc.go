// Package store provides a DynamoDB backend for materialized-path trees.
//
// Store implements tree.Backend over a single table. Each node is one item
// keyed by its numeric id; a global secondary index keyed by
// (partition, path) turns descendant reads into one begins_with query.
//
// # Table Layout
//
//	id          N  hash key (0 is reserved for the id sequence)
//	parent_id   N  absent for roots
//	path        S  materialized path, e.g. "1.4.9."
//	depth       N  edges below the root
//	partition   S  "<tree name>#<shard>", derived from the root id
//	name, attrs    entity fields
//	version     N  optimistic lock counter
//	created_at, updated_at, ttl
//
// The path index must project all attributes:
//
//	path_index: partition (HASH), path (RANGE)
//
// # Key Features
//
//   - Parent validation on insert (atomic with the put)
//   - Monotonic numeric ids from an atomic counter
//   - Reparent of a whole subtree in one conditional transaction
//   - Soft delete via TTL, filtered out of every read
//   - Configurable index sharding by root id
//
// # Index Consistency
//
// Descendant reads go through path_index, which is eventually consistent.
// A row written moments ago may be missing from them:
//
//   - Reparent re-reads the old prefix after its transaction and moves
//     any row still found there, confirmed with a consistent GetItem. A
//     child not yet visible to either read keeps its old path, so callers
//     should not move a node right after inserting under it.
//   - Delete with Cascade expires what the index returns; the node's own
//     TTL then reaches the stream handler, which expires the rest.
//   - Insert checks that the parent still sits at the path the child's
//     path was built from, so an insert racing a reparent fails with
//     tree.ErrConcurrentModification instead of landing under the old
//     prefix.
//
// # Configuration
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards to spread independent trees over more partitions:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16
//
// # Errors
//
// Besides the tree package errors, the package defines:
//
//   - [ErrTransactionTooLarge] - reparent exceeds MaxTransactItems rows
//   - [ErrSequenceUnavailable] - id counter returned no value
package store
