// Package orm is the session layer over pkg/db.
//
// An ORM owns a schema.Registry and a db.Database. Sessions bind the ORM to
// one state tree: every read and write goes through the session, which holds
// the current tree and the transaction whose writer decides whether branches
// are copied (Session) or reused within the batch (MutableSession).
//
// From a session, Model returns the ModelType of an entity: a QuerySet over
// all its records plus Create, Upsert, Get and WithID. Records come back as
// Model values that resolve relation fields through the entity's accessor
// table. QuerySets are lazy; chaining never touches the database and each
// instance evaluates at most once.
package orm
