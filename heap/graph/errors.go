package graph

import "errors"

var (
	// ErrTooManyEdges is returned by Link when the source node is full.
	ErrTooManyEdges = errors.New("graph: node edge capacity exhausted")

	// ErrForeignNode is returned when a node of another graph is linked.
	ErrForeignNode = errors.New("graph: node belongs to another graph")
)
