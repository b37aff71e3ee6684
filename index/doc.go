// Package index defines a minimal abstraction for vector indexes that can be
// built from embeddings, queried for kNN, maintained incrementally, and
// serialized for persistence. Implementations are a brute-force baseline
// and an M-tree.
package index
