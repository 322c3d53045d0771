// Package schema describes where a record keeps its key and how the key is
// encoded.
//
// A [Schema] is an explicit, immutable value handed to the store at open
// time; nothing is discovered through reflection. Four encodings exist:
//
//   - [Positional]: the key is the record's slot number; no key bytes.
//   - [Scalar] / [ScalarFloat]: a fixed-width number at a byte offset.
//   - [FixedString]: a NUL-padded byte buffer of fixed capacity.
//   - [FixedArray]: a fixed-length homogeneous array of numbers.
//
// Numbers use the platform's native byte order, matching the in-memory
// layout of the record type on the machine that wrote the file.
//
// Schemas whose keys have a successor (positional and integer keys)
// implement [Successor]; the store's NEXT merge policy requires it.
package schema
