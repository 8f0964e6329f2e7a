// Package db stores pantry records in a normalized state tree and evaluates
// queries and updates against it.
//
// A Table owns the storage rules for one entity branch: id assignment,
// reverse index maintenance and no-op detection. A Database dispatches query
// and update specs across tables and carries out the relational side effects
// of a write (one-to-one uniqueness, many-to-many through rows). Every write
// goes through a Writer, which decides whether a branch is copied or reused;
// a Transaction holds the Writer for one unit of work.
package db
