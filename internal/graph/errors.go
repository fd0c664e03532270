package graph

import "errors"

// ErrNodeNotFound is returned by queries naming an identifier that is not a
// node of the graph.
var ErrNodeNotFound = errors.New("parameter not found in graph")
