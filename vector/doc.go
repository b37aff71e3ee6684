// Package vector provides the vector element model stored in metric trees:
//   - Point with a cached magnitude
//   - distance functions backed by github.com/viant/vec/search
//   - RangeNormalizer for streams whose value ranges drift
//   - embedding BLOB encoding shared with SQLite storage
package vector
