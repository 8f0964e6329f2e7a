// Package types defines the state tree, record, query and update shapes
// shared by the pantry schema, database and session layers, together with
// the standard error values returned by them.
//
// The state tree is plain data: a map from entity name to a TableState
// holding ids, records, a meta block and reverse relation indexes. It holds
// no functions or live objects and serializes to the layout
//
//	{ "<Entity>": { "items": [...], "itemsById": {...}, "meta": {"maxId": n}, "indexes": {...} } }
package types
