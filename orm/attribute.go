package orm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttributeType identifies how an attribute value is converted to and from
// its DynamoDB representation.
type AttributeType string

const (
	String          AttributeType = "string"
	Number          AttributeType = "number"
	Boolean         AttributeType = "boolean"
	Datetime        AttributeType = "datetime"
	JSON            AttributeType = "json"
	StringList      AttributeType = "string_list"
	NumberList      AttributeType = "number_list"
	JSONList        AttributeType = "json_list"
	CompositeString AttributeType = "composite_string"
)

// IsList reports whether the type stores a DynamoDB list.
func (t AttributeType) IsList() bool {
	return t == StringList || t == NumberList || t == JSONList
}

// DynamoDBType returns the DynamoDB type label backing the attribute type.
func (t AttributeType) DynamoDBType() string {
	switch {
	case t == Number || t == Datetime:
		return "N"
	case t == Boolean:
		return "BOOL"
	case t.IsList():
		return "L"
	default:
		return "S"
	}
}

// CompositeDelimiter joins the parts of a composite string attribute.
const CompositeDelimiter = "-"

// ExportFunc transforms a value right before it is converted for DynamoDB.
type ExportFunc func(v any) any

// ImportFunc transforms a value right after it is loaded from DynamoDB.
type ImportFunc func(v any) any

// Attribute describes a single typed attribute of a table definition.
//
// KeyName is the physical DynamoDB attribute name; when empty it defaults to
// the PascalCase form of Name ("created_on" becomes "CreatedOn"). Default may
// be a plain value or a func() any evaluated at marshal time; setting it makes
// the attribute optional.
type Attribute struct {
	Name           string        `validate:"required"`
	Type           AttributeType `validate:"required"`
	KeyName        string
	Description    string
	ArgumentNames  []string
	Default        any
	Optional       bool
	ExcludeFromMap bool
	Export         ExportFunc
	Import         ImportFunc
}

// DynamoDBKeyName returns the physical attribute name.
func (a Attribute) DynamoDBKeyName() string {
	if a.KeyName != "" {
		return a.KeyName
	}
	return defaultKeyName(a.Name)
}

func defaultKeyName(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}

// Indexable reports whether the attribute can appear in key schemas and
// filter conditions. JSON payloads are stored as opaque strings and are
// never indexable.
func (a Attribute) Indexable() bool {
	return a.Type != JSON && a.Type != JSONList
}

// IsOptional reports whether a value may be omitted when marshaling a record.
// An attribute with a default is always optional.
func (a Attribute) IsOptional() bool {
	return a.Optional || a.Default != nil
}

// DefaultValue resolves the attribute default, evaluating generator funcs.
func (a Attribute) DefaultValue() any {
	if fn, ok := a.Default.(func() any); ok {
		return fn()
	}
	return a.Default
}

// AttributeValue converts v into the DynamoDB representation for the
// attribute type. The Export hook, when set, replaces the standard
// conversion entirely.
func (a Attribute) AttributeValue(v any) (types.AttributeValue, error) {
	if a.Export != nil {
		v = a.Export(v)
	}

	switch a.Type {
	case Number:
		s, err := numberString(v)
		if err != nil {
			return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
		}
		return &types.AttributeValueMemberN{Value: s}, nil

	case Datetime:
		t, ok := v.(time.Time)
		if v == nil || (ok && t.IsZero()) {
			return &types.AttributeValueMemberN{Value: "0"}, nil
		}
		if !ok {
			return nil, fmt.Errorf("orm: attribute %q: expected time.Time, got %T", a.Name, v)
		}
		secs := float64(t.UnixNano()) / float64(time.Second)
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(secs, 'f', -1, 64)}, nil

	case Boolean:
		b, _ := v.(bool)
		return &types.AttributeValueMemberBOOL{Value: b}, nil

	case JSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
		}
		return &types.AttributeValueMemberS{Value: string(raw)}, nil

	case StringList, NumberList, JSONList:
		return a.listValue(v)

	case CompositeString:
		switch val := v.(type) {
		case string:
			return &types.AttributeValueMemberS{Value: val}, nil
		case []string:
			return &types.AttributeValueMemberS{Value: strings.Join(val, CompositeDelimiter)}, nil
		default:
			return nil, fmt.Errorf("orm: attribute %q: composite value must be string or []string, got %T", a.Name, v)
		}

	default: // String
		if v == nil {
			return &types.AttributeValueMemberS{Value: ""}, nil
		}
		return &types.AttributeValueMemberS{Value: fmt.Sprint(v)}, nil
	}
}

func (a Attribute) listValue(v any) (types.AttributeValue, error) {
	members := []types.AttributeValue{}

	switch a.Type {
	case NumberList:
		vals, err := toFloatSlice(v)
		if err != nil {
			return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
		}
		for _, n := range vals {
			members = append(members, &types.AttributeValueMemberN{Value: strconv.FormatFloat(n, 'f', -1, 64)})
		}

	case JSONList:
		vals, ok := v.([]any)
		if v != nil && !ok {
			return nil, fmt.Errorf("orm: attribute %q: expected []any, got %T", a.Name, v)
		}
		for _, item := range vals {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
			}
			members = append(members, &types.AttributeValueMemberS{Value: string(raw)})
		}

	default: // StringList
		vals, err := toStringSlice(v)
		if err != nil {
			return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
		}
		for _, s := range vals {
			members = append(members, &types.AttributeValueMemberS{Value: s})
		}
	}

	return &types.AttributeValueMemberL{Value: members}, nil
}

// Value converts a DynamoDB attribute value back into its Go representation.
// The Import hook, when set, runs on the decoded value.
func (a Attribute) Value(av types.AttributeValue) (any, error) {
	v, err := a.decode(av)
	if err != nil {
		return nil, err
	}
	if a.Import != nil {
		v = a.Import(v)
	}
	return v, nil
}

func (a Attribute) decode(av types.AttributeValue) (any, error) {
	switch a.Type {
	case Number:
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, a.typeMismatch(av)
		}
		if strings.Contains(n.Value, ".") {
			return strconv.ParseFloat(n.Value, 64)
		}
		return strconv.ParseInt(n.Value, 10, 64)

	case Datetime:
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, a.typeMismatch(av)
		}
		secs, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
		}
		if secs == 0 {
			return time.Time{}, nil
		}
		return time.Unix(0, int64(secs*float64(time.Second))).UTC(), nil

	case Boolean:
		b, ok := av.(*types.AttributeValueMemberBOOL)
		if !ok {
			return nil, a.typeMismatch(av)
		}
		return b.Value, nil

	case JSON:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, a.typeMismatch(av)
		}
		var out any
		if err := json.Unmarshal([]byte(s.Value), &out); err != nil {
			return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
		}
		// Tolerate doubly encoded payloads written by older clients.
		if inner, ok := out.(string); ok {
			var reparsed any
			if err := json.Unmarshal([]byte(inner), &reparsed); err == nil {
				return reparsed, nil
			}
		}
		return out, nil

	case StringList, NumberList, JSONList:
		l, ok := av.(*types.AttributeValueMemberL)
		if !ok {
			return nil, a.typeMismatch(av)
		}
		return a.decodeList(l.Value)

	case CompositeString:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, a.typeMismatch(av)
		}
		return strings.Split(s.Value, CompositeDelimiter), nil

	default: // String
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, a.typeMismatch(av)
		}
		return s.Value, nil
	}
}

func (a Attribute) decodeList(members []types.AttributeValue) (any, error) {
	switch a.Type {
	case NumberList:
		out := make([]float64, 0, len(members))
		for _, m := range members {
			n, ok := m.(*types.AttributeValueMemberN)
			if !ok {
				return nil, a.typeMismatch(m)
			}
			f, err := strconv.ParseFloat(n.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
			}
			out = append(out, f)
		}
		return out, nil

	case JSONList:
		out := make([]any, 0, len(members))
		for _, m := range members {
			s, ok := m.(*types.AttributeValueMemberS)
			if !ok {
				return nil, a.typeMismatch(m)
			}
			var item any
			if err := json.Unmarshal([]byte(s.Value), &item); err != nil {
				return nil, fmt.Errorf("orm: attribute %q: %w", a.Name, err)
			}
			out = append(out, item)
		}
		return out, nil

	default: // StringList
		out := make([]string, 0, len(members))
		for _, m := range members {
			s, ok := m.(*types.AttributeValueMemberS)
			if !ok {
				return nil, a.typeMismatch(m)
			}
			out = append(out, s.Value)
		}
		return out, nil
	}
}

func (a Attribute) typeMismatch(av types.AttributeValue) error {
	return fmt.Errorf("orm: attribute %q: unexpected dynamodb value %T for type %s", a.Name, av, a.Type)
}

func numberString(v any) (string, error) {
	switch n := v.(type) {
	case nil:
		return "0", nil
	case int:
		return strconv.Itoa(n), nil
	case int32:
		return strconv.FormatInt(int64(n), 10), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 64), nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case string:
		if _, err := strconv.ParseFloat(n, 64); err != nil {
			return "", fmt.Errorf("value %q is not numeric", n)
		}
		return n, nil
	default:
		return "", fmt.Errorf("expected numeric value, got %T", v)
	}
}

func toStringSlice(v any) ([]string, error) {
	switch vals := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return vals, nil
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string slice, got %T", v)
	}
}

func toFloatSlice(v any) ([]float64, error) {
	switch vals := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		return vals, nil
	case []int:
		out := make([]float64, 0, len(vals))
		for _, n := range vals {
			out = append(out, float64(n))
		}
		return out, nil
	case []any:
		out := make([]float64, 0, len(vals))
		for _, item := range vals {
			switch n := item.(type) {
			case int:
				out = append(out, float64(n))
			case int64:
				out = append(out, float64(n))
			case float64:
				out = append(out, n)
			default:
				return nil, fmt.Errorf("expected numeric element, got %T", item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected numeric slice, got %T", v)
	}
}
