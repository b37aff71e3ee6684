// Package mtree implements a dynamic metric tree (M-tree) over arbitrary
// elements compared only through a caller supplied distance function.
//
// The tree supports incremental insertion and deletion, bulk eviction ranked
// by a score function, and lazy best-first retrieval: NearestNeighbours yields
// elements in ascending distance to a query, and Query generalises the same
// branch-and-bound traversal to any per-sphere lower bound.
//
// A Tree is a single-writer structure and is not safe for concurrent
// mutation. Concurrent readers are safe only while no mutation takes place.
package mtree
