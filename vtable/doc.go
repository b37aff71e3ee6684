// Package vtable exposes an M-tree nearest-neighbour index as a SQLite
// virtual table.
//
// The table indexes the embedding column of a source table (instances by
// default) and answers MATCH queries with the closest rows:
//
//	CREATE VIRTUAL TABLE knn USING mtree(instances, distance=cosine, max_capacity=16);
//	SELECT id, label, score FROM knn WHERE id MATCH '[0.1,0.2]' AND k = 5;
//
// The index is built lazily on the first MATCH and shared across connections.
// InstallTriggers wires mtree_invalidate into the source table so that writes
// drop the cached index. Queries read the source table from inside the
// virtual table, so the pool must allow more than one connection.
package vtable
