package envconfig

import (
	"fmt"
	"reflect"
)

// InvalidConfigError is returned when Load receives something other than a
// pointer to a struct.
type InvalidConfigError struct {
	Value reflect.Type
}

func (e *InvalidConfigError) Error() string {
	if e.Value.Kind() != reflect.Ptr {
		return fmt.Sprintf("envconfig: config must be a pointer to struct, got %s", e.Value.Kind())
	}
	return fmt.Sprintf("envconfig: config must be a pointer to struct, got pointer to %s", e.Value.Elem().Kind())
}

// MissingVariableError is returned when a field tagged required resolves to
// no value at all.
type MissingVariableError struct {
	FieldName string
	EnvVar    string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("envconfig: required variable %s (field %s) is not set", e.EnvVar, e.FieldName)
}

// FieldError wraps a conversion failure while setting a struct field.
type FieldError struct {
	FieldName string
	EnvVar    string
	Value     string
	Err       error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("envconfig: error setting field %s from env %s=%s: %v",
		e.FieldName, e.EnvVar, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError is returned for field types Load cannot convert.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("envconfig: unsupported type %s", e.Type)
}
