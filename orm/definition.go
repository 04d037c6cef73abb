package orm

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// GlobalSecondaryIndex declares a GSI over a table definition. Key names
// reference declared attribute names.
type GlobalSecondaryIndex struct {
	Name           string `validate:"required"`
	PartitionKey   string `validate:"required"`
	SortKey        string
	ProjectionType types.ProjectionType
}

// LocalSecondaryIndex declares an LSI over a table definition. The sort key
// references a declared attribute name; the partition key is the table's.
type LocalSecondaryIndex struct {
	Name           string `validate:"required"`
	SortKey        string `validate:"required"`
	ProjectionType types.ProjectionType
}

// UpdateHook runs against a record right before it is written, typically to
// maintain last-updated timestamps.
type UpdateHook func(Record)

// Definition declares a DynamoDB-backed table once: keys, indexes and typed
// attributes. Both the runtime table client and infrastructure synthesis
// derive from it.
type Definition struct {
	TableName     string    `validate:"required"`
	PartitionKey  Attribute `validate:"required"`
	SortKey       *Attribute
	TTLAttribute  string
	Attributes    []Attribute
	GlobalIndexes []GlobalSecondaryIndex
	LocalIndexes  []LocalSecondaryIndex
	Description   string
	OnUpdate      UpdateHook
}

// Validate checks the structural shape of the definition and its
// cross-references: every key, TTL and index attribute must name a declared
// attribute, and composite attributes must declare their argument names.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("orm: invalid definition for table %q: %w", d.TableName, err)
	}

	for _, attr := range d.AllAttributes() {
		if attr.Type == CompositeString && len(attr.ArgumentNames) == 0 {
			return fmt.Errorf("orm: table %q: composite attribute %q must declare argument names", d.TableName, attr.Name)
		}
	}

	if d.TTLAttribute != "" {
		if _, ok := d.AttributeNamed(d.TTLAttribute); !ok {
			return fmt.Errorf("orm: table %q: ttl attribute: %w", d.TableName, &UnknownAttributeError{Name: d.TTLAttribute})
		}
	}

	for _, gsi := range d.GlobalIndexes {
		if _, ok := d.AttributeNamed(gsi.PartitionKey); !ok {
			return fmt.Errorf("orm: table %q: index %q: %w", d.TableName, gsi.Name, &UnknownAttributeError{Name: gsi.PartitionKey})
		}
		if gsi.SortKey != "" {
			if _, ok := d.AttributeNamed(gsi.SortKey); !ok {
				return fmt.Errorf("orm: table %q: index %q: %w", d.TableName, gsi.Name, &UnknownAttributeError{Name: gsi.SortKey})
			}
		}
	}

	for _, lsi := range d.LocalIndexes {
		if _, ok := d.AttributeNamed(lsi.SortKey); !ok {
			return fmt.Errorf("orm: table %q: index %q: %w", d.TableName, lsi.Name, &UnknownAttributeError{Name: lsi.SortKey})
		}
	}

	return nil
}

// AllAttributes returns the declared attributes plus the key attributes.
func (d *Definition) AllAttributes() []Attribute {
	all := make([]Attribute, 0, len(d.Attributes)+2)
	all = append(all, d.Attributes...)
	all = append(all, d.PartitionKey)
	if d.SortKey != nil {
		all = append(all, *d.SortKey)
	}
	return all
}

// AttributeNamed looks up an attribute definition by name.
func (d *Definition) AttributeNamed(name string) (Attribute, bool) {
	for _, attr := range d.AllAttributes() {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// MarshalRecord converts a record into a DynamoDB item, applying defaults
// for absent optional attributes. An absent required attribute is an error.
func (d *Definition) MarshalRecord(rec Record) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue)

	for _, attr := range d.AllAttributes() {
		val, err := d.recordValue(rec, attr)
		if err != nil {
			return nil, err
		}

		av, err := attr.AttributeValue(val)
		if err != nil {
			return nil, err
		}
		item[attr.DynamoDBKeyName()] = av
	}

	return item, nil
}

// recordValue resolves the value an attribute takes in rec. Composite
// attributes are assembled from their argument values.
func (d *Definition) recordValue(rec Record, attr Attribute) (any, error) {
	if attr.Type == CompositeString {
		if v, ok := rec[attr.Name]; ok {
			return v, nil
		}
		parts := make([]string, 0, len(attr.ArgumentNames))
		for _, arg := range attr.ArgumentNames {
			v, ok := rec[arg]
			if !ok {
				return nil, &MissingAttributeError{Name: arg}
			}
			parts = append(parts, fmt.Sprint(v))
		}
		return parts, nil
	}

	if v, ok := rec[attr.Name]; ok && v != nil {
		return v, nil
	}
	if attr.IsOptional() {
		return attr.DefaultValue(), nil
	}
	return nil, &MissingAttributeError{Name: attr.Name}
}

// UnmarshalItem converts a DynamoDB item back into a record. Composite
// attributes are split back into their argument values.
func (d *Definition) UnmarshalItem(item map[string]types.AttributeValue) (Record, error) {
	rec := make(Record)

	for _, attr := range d.AllAttributes() {
		av, ok := item[attr.DynamoDBKeyName()]
		if !ok {
			continue
		}

		val, err := attr.Value(av)
		if err != nil {
			return nil, err
		}

		if attr.Type == CompositeString {
			parts, _ := val.([]string)
			for i, arg := range attr.ArgumentNames {
				if i < len(parts) {
					rec[arg] = parts[i]
				}
			}
			continue
		}

		rec[attr.Name] = val
	}

	return rec, nil
}

// SchemaText renders the schema as plain text, one line per attribute with
// its type and role. Suitable for embedding in generated docs or prompts.
func (d *Definition) SchemaText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Table: %s\n", d.TableName)
	if d.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", d.Description)
	}

	writeAttr := func(attr Attribute, role string) {
		fmt.Fprintf(&b, "- %s (%s)", attr.Name, attr.Type)
		if role != "" {
			fmt.Fprintf(&b, " [%s]", role)
		}
		if attr.Description != "" {
			fmt.Fprintf(&b, ": %s", attr.Description)
		}
		b.WriteString("\n")
	}

	writeAttr(d.PartitionKey, "partition key")
	if d.SortKey != nil {
		writeAttr(*d.SortKey, "sort key")
	}
	for _, attr := range d.Attributes {
		role := ""
		if attr.IsOptional() {
			role = "optional"
		}
		writeAttr(attr, role)
	}

	return b.String()
}

// ToMap converts a record into a plain map, honoring ExcludeFromMap flags
// and the export hooks, for JSON-facing surfaces.
func (d *Definition) ToMap(rec Record) map[string]any {
	out := make(map[string]any)
	for _, attr := range d.AllAttributes() {
		if attr.ExcludeFromMap {
			continue
		}
		val, ok := rec[attr.Name]
		if !ok {
			continue
		}
		if t, ok := val.(time.Time); ok {
			val = t.Format(time.RFC3339)
		}
		if attr.Export != nil {
			val = attr.Export(val)
		}
		out[attr.Name] = val
	}
	return out
}

// Key builds the primary key for the given key values. A sort key value is
// required exactly when the definition declares a sort key.
func (d *Definition) Key(partitionValue any, sortValue any) (map[string]types.AttributeValue, error) {
	pk, err := d.PartitionKey.AttributeValue(partitionValue)
	if err != nil {
		return nil, err
	}

	key := map[string]types.AttributeValue{
		d.PartitionKey.DynamoDBKeyName(): pk,
	}

	if d.SortKey != nil {
		if sortValue == nil {
			return nil, ErrSortKeyRequired
		}
		sk, err := d.SortKey.AttributeValue(sortValue)
		if err != nil {
			return nil, err
		}
		key[d.SortKey.DynamoDBKeyName()] = sk
	}

	return key, nil
}

// TouchTimestamps sets the named datetime attributes to now. Helper for
// building OnUpdate hooks.
func TouchTimestamps(rec Record, names ...string) {
	now := time.Now().UTC()
	for _, name := range names {
		rec[name] = now
	}
}
