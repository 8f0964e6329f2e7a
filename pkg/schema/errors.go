package schema

import "fmt"

// RegistrationError reports the entity and field that made a Register call
// fail. Err wraps one of the types registration sentinels.
type RegistrationError struct {
	Entity string
	Field  string
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("registering %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("registering %s.%s: %v", e.Entity, e.Field, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func regErr(entity, field string, err error, format string, args ...any) error {
	if format != "" {
		err = fmt.Errorf("%w: "+format, append([]any{err}, args...)...)
	}
	return &RegistrationError{Entity: entity, Field: field, Err: err}
}
