package types

import (
	"errors"
	"fmt"
)

// Registration errors. These are fatal for the Register call that raised them.
var (
	ErrInvalidEntityName = errors.New("invalid entity name")
	ErrDuplicateEntity   = errors.New("entity already registered")
	ErrUnknownTarget     = errors.New("relation target is not registered")
	ErrReservedField     = errors.New("field name is reserved")
	ErrAccessorConflict  = errors.New("accessor name already in use")
	ErrInvalidThrough    = errors.New("invalid through entity")
	ErrInvalidField      = errors.New("invalid field descriptor")
	ErrInvalidIDPolicy   = errors.New("invalid id policy")
)

// Validation errors returned to callers of create, update, upsert and get.
var (
	ErrMissingField        = errors.New("required field is missing")
	ErrMissingID           = errors.New("id attribute is required")
	ErrDuplicateID         = errors.New("id already exists")
	ErrInvalidID           = errors.New("invalid id value")
	ErrIDImmutable         = errors.New("id attribute cannot be changed")
	ErrAmbiguous           = errors.New("lookup matched more than one record")
	ErrUnresolvedReference = errors.New("relation reference cannot be resolved to an id")
	ErrNotFound            = errors.New("record not found")
	ErrFieldNotFound       = errors.New("field not found")
	ErrNotRelationSet      = errors.New("field is not a to-many relation")
)

// Structural and referential errors. The database reports these through a
// FAILURE UpdateResult rather than returning them.
var (
	ErrTableNotFound       = errors.New("table not found")
	ErrOneToOneConflict    = errors.New("one-to-one target already claimed")
	ErrUnknownAction       = errors.New("unknown update action")
	ErrInvalidPayload      = errors.New("invalid update payload")
	ErrInvalidFilter       = errors.New("invalid filter clause")
	ErrInvalidOrder        = errors.New("invalid order clause")
	ErrUnknownClause       = errors.New("unknown clause type")
	ErrAlreadyRelated      = errors.New("records are already related")
	ErrNotRelated          = errors.New("records are not related")
	ErrThroughNotCreatable = errors.New("through entity requires manual ids")
)

// RowError reports the row that stopped a multi-row update.
type RowError struct {
	Table string
	ID    any
	Err   error
}

func (e *RowError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("%s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("%s %v: %v", e.Table, e.ID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
