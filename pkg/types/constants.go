package types

// Clause types accepted in a Query.
const (
	Filter  = "REDUX_ORM_FILTER"
	Exclude = "REDUX_ORM_EXCLUDE"
	OrderBy = "REDUX_ORM_ORDER_BY"
)

// Update actions accepted in an UpdateSpec.
const (
	Create = "REDUX_ORM_CREATE"
	Update = "REDUX_ORM_UPDATE"
	Delete = "REDUX_ORM_DELETE"
)

// Update result statuses.
const (
	Success = "SUCCESS"
	Failure = "FAILURE"
)

// Default storage names for a table branch.
const (
	DefaultIDAttribute = "id"
	DefaultArrName     = "items"
	DefaultMapName     = "itemsById"
)

// Sort directions accepted in Ordering.Orders, besides true and false.
const (
	Asc  = "asc"
	Desc = "desc"
)
