// Package tree provides a vector index over a dynamic M-tree. Vectors are
// added and removed incrementally and kNN queries run as best-first search,
// so results match the brute-force index exactly for metric distances.
// Cosine indexes search by angular distance, which ranks identically and is
// a metric.
package tree
