package types

// UpdateSpec describes one write. Table names the target for Create; Update
// and Delete take their table and rows from Query.
type UpdateSpec struct {
	Action  string
	Table   string
	Payload any
	Query   *Query
}

// UpdateResult is the outcome of a write. State is always usable: on Failure
// it holds every row committed before the failing one (the input state when
// nothing was committed) and Payload holds the error.
type UpdateResult struct {
	Status  string
	State   State
	Payload any
}

// Err returns the failure payload as an error, or nil on success.
func (r UpdateResult) Err() error {
	if r.Status != Failure {
		return nil
	}
	if err, ok := r.Payload.(error); ok {
		return err
	}
	return ErrInvalidPayload
}
