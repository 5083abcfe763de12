package store

import "errors"

var (
	// ErrTransactionTooLarge is returned when a reparent would rewrite more
	// rows than fit in one transaction. Nothing is written.
	ErrTransactionTooLarge = errors.New("canopy: subtree too large for a single transaction")

	// ErrSequenceUnavailable is returned when the id sequence returns no value.
	ErrSequenceUnavailable = errors.New("canopy: id sequence returned no value")
)
