package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Node operations
	SaveNode(n *Node) error
	GetNode(id uint8) (*Node, error)
	ListNodes() ([]*Node, error)
	DeleteNode(id uint8) error

	// UpdateNode atomically reads, modifies, and saves a node in a single
	// transaction. Returns ErrNotFound if the node does not exist.
	UpdateNode(id uint8, fn func(n *Node) error) error

	// Value cache. Value and ListValues only ever return public records;
	// internal records are reachable through InternalValue alone.
	SaveValue(node uint8, rec *ValueRecord) error
	Value(node uint8, id ValueID) (*ValueRecord, error)
	InternalValue(node uint8, id ValueID) (*ValueRecord, error)
	ListValues(node uint8) ([]*ValueRecord, error)

	// Close the store
	Close() error
}
