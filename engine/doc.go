// Package engine opens modernc.org/sqlite connections and registers the
// vector SQL scalar functions (vec_l2, vec_cosine, vec_angular) used to rank
// stored instances directly in SQL.
package engine
