// Package bruteforce provides a vector index that answers kNN queries by
// scoring every stored vector. It is the exact baseline the tree index is
// checked against and shares its binary encoding.
package bruteforce
