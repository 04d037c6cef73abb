package orm

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an item does not exist in the table.
var ErrNotFound = errors.New("orm: item not found")

// ErrSortKeyRequired is returned when an operation needs a sort key the
// definition does not declare, or a sort key value was omitted.
var ErrSortKeyRequired = errors.New("orm: sort key required")

// MissingAttributeError reports a required attribute absent from a record.
type MissingAttributeError struct {
	Name string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("orm: missing required attribute %q", e.Name)
}

// UnknownAttributeError reports a reference to an attribute the definition
// does not declare.
type UnknownAttributeError struct {
	Name string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("orm: unknown attribute %q", e.Name)
}

// InvalidComparisonError reports an unsupported filter comparison operator.
type InvalidComparisonError struct {
	Comparison string
}

func (e *InvalidComparisonError) Error() string {
	return fmt.Sprintf("orm: invalid comparison operator %q", e.Comparison)
}
