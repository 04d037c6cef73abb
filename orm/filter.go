package orm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
)

// Comparison is a filter comparison operator.
type Comparison string

const (
	CompareEqual              Comparison = "equal"
	CompareNotEqual           Comparison = "not_equal"
	CompareGreaterThan        Comparison = "greater_than"
	CompareGreaterThanOrEqual Comparison = "greater_than_or_equal"
	CompareLessThan           Comparison = "less_than"
	CompareLessThanOrEqual    Comparison = "less_than_or_equal"
	CompareContains           Comparison = "contains"
)

var comparisons = map[Comparison]struct{}{
	CompareEqual:              {},
	CompareNotEqual:           {},
	CompareGreaterThan:        {},
	CompareGreaterThanOrEqual: {},
	CompareLessThan:           {},
	CompareLessThanOrEqual:    {},
	CompareContains:           {},
}

type filterCondition struct {
	attribute  string
	comparison Comparison
	value      any
}

// FilterDefinition accumulates attribute filters for a scan. Every filter
// must name an attribute the table definition declares; values are converted
// with the attribute's marshaling rules so comparisons run against the
// stored representation.
type FilterDefinition struct {
	def        *Definition
	prefix     string
	conditions []filterCondition
	err        error
}

// NewFilterDefinition creates an empty filter definition for def.
func NewFilterDefinition(def *Definition) *FilterDefinition {
	return &FilterDefinition{def: def}
}

// WithPrefix prepends "<prefix>_" to every attribute name added afterwards.
func (f *FilterDefinition) WithPrefix(prefix string) *FilterDefinition {
	f.prefix = prefix
	return f
}

// Add appends a filter condition. The first invalid condition sticks and is
// reported by Err and Build.
func (f *FilterDefinition) Add(attribute string, comparison Comparison, value any) *FilterDefinition {
	if f.err != nil {
		return f
	}
	if _, ok := comparisons[comparison]; !ok {
		f.err = &InvalidComparisonError{Comparison: string(comparison)}
		return f
	}

	name := attribute
	if f.prefix != "" {
		name = f.prefix + "_" + attribute
	}
	if _, ok := f.def.AttributeNamed(name); !ok {
		f.err = &UnknownAttributeError{Name: name}
		return f
	}

	f.conditions = append(f.conditions, filterCondition{attribute: name, comparison: comparison, value: value})
	return f
}

func (f *FilterDefinition) Equal(attribute string, value any) *FilterDefinition {
	return f.Add(attribute, CompareEqual, value)
}

func (f *FilterDefinition) NotEqual(attribute string, value any) *FilterDefinition {
	return f.Add(attribute, CompareNotEqual, value)
}

func (f *FilterDefinition) GreaterThan(attribute string, value any) *FilterDefinition {
	return f.Add(attribute, CompareGreaterThan, value)
}

func (f *FilterDefinition) GreaterThanOrEqual(attribute string, value any) *FilterDefinition {
	return f.Add(attribute, CompareGreaterThanOrEqual, value)
}

func (f *FilterDefinition) LessThan(attribute string, value any) *FilterDefinition {
	return f.Add(attribute, CompareLessThan, value)
}

func (f *FilterDefinition) LessThanOrEqual(attribute string, value any) *FilterDefinition {
	return f.Add(attribute, CompareLessThanOrEqual, value)
}

func (f *FilterDefinition) Contains(attribute string, value any) *FilterDefinition {
	return f.Add(attribute, CompareContains, value)
}

// Err returns the first error recorded while adding conditions.
func (f *FilterDefinition) Err() error {
	return f.err
}

// Empty reports whether no conditions were added.
func (f *FilterDefinition) Empty() bool {
	return len(f.conditions) == 0
}

// Instructions renders the filters as plain text, one per condition.
func (f *FilterDefinition) Instructions() []string {
	out := make([]string, 0, len(f.conditions))
	for _, c := range f.conditions {
		out = append(out, fmt.Sprintf("%s %s %v", c.attribute, c.comparison, c.value))
	}
	return out
}

// Build combines the conditions into a single AND-joined condition builder.
func (f *FilterDefinition) Build() (expression.ConditionBuilder, error) {
	var cond expression.ConditionBuilder

	if f.err != nil {
		return cond, f.err
	}

	for i, c := range f.conditions {
		attr, _ := f.def.AttributeNamed(c.attribute)

		value, err := filterValue(attr, c.comparison, c.value)
		if err != nil {
			return cond, err
		}

		name := expression.Name(attr.DynamoDBKeyName())

		var next expression.ConditionBuilder
		switch c.comparison {
		case CompareContains:
			next = name.Contains(fmt.Sprint(value))
		case CompareNotEqual:
			next = name.NotEqual(expression.Value(value))
		case CompareGreaterThan:
			next = name.GreaterThan(expression.Value(value))
		case CompareGreaterThanOrEqual:
			next = name.GreaterThanEqual(expression.Value(value))
		case CompareLessThan:
			next = name.LessThan(expression.Value(value))
		case CompareLessThanOrEqual:
			next = name.LessThanEqual(expression.Value(value))
		default:
			next = name.Equal(expression.Value(value))
		}

		if i == 0 {
			cond = next
		} else {
			cond = cond.And(next)
		}
	}

	return cond, nil
}

// filterValue normalizes a filter value to the stored representation for the
// attribute type, so the expression builder marshals it the same way the
// item was written.
func filterValue(attr Attribute, comparison Comparison, v any) (any, error) {
	// Contains on a string list compares against a plain string member.
	if comparison == CompareContains && attr.Type == StringList {
		return fmt.Sprint(v), nil
	}

	switch attr.Type {
	case Datetime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("orm: attribute %q: expected time.Time, got %T", attr.Name, v)
		}
		if t.IsZero() {
			return float64(0), nil
		}
		return float64(t.UnixNano()) / float64(time.Second), nil

	case JSON:
		// JSON payloads are stored as strings; a string value compares as-is.
		if s, ok := v.(string); ok {
			return s, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("orm: attribute %q: %w", attr.Name, err)
		}
		return string(raw), nil

	case CompositeString:
		if parts, ok := v.([]string); ok {
			return strings.Join(parts, CompositeDelimiter), nil
		}
		return fmt.Sprint(v), nil

	case Number:
		return v, nil

	case Boolean:
		return v, nil

	case String:
		return fmt.Sprint(v), nil

	default:
		return v, nil
	}
}
