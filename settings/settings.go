// Package settings provides the global settings table shared by every
// component of an application deployment.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atelierhq/atelier/discovery"
	"github.com/atelierhq/atelier/orm"
)

// EnabledVar gates the settings subsystem for a deployment.
const EnabledVar = "ATELIER_GLOBAL_SETTINGS_ENABLED"

// ErrSettingsDisabled is returned when the settings subsystem is not
// enabled for the deployment.
var ErrSettingsDisabled = errors.New("settings: global settings are not enabled")

// NotFoundError reports a missing setting.
type NotFoundError struct {
	Namespace string
	Key       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("settings: setting %s/%s not found", e.Namespace, e.Key)
}

// Type declares how a stored setting value is coerced on read.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeFloat   Type = "float"
	TypeBoolean Type = "boolean"
)

// Setting is one configuration value, namespaced per concern. Values are
// stored as strings and coerced by Type.
type Setting struct {
	Namespace   string
	Key         string
	Type        Type
	Value       string
	Description string
	LastUpdated time.Time
}

// TypedValue coerces the stored string value to the declared type.
func (s *Setting) TypedValue() (any, error) {
	switch s.Type {
	case TypeBoolean:
		return strings.EqualFold(s.Value, "true"), nil
	case TypeInteger:
		n, err := strconv.ParseInt(s.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("settings: %s/%s: %w", s.Namespace, s.Key, err)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(s.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("settings: %s/%s: %w", s.Namespace, s.Key, err)
		}
		return f, nil
	default:
		return s.Value, nil
	}
}

// TableDefinition declares the global settings table.
func TableDefinition() *orm.Definition {
	return &orm.Definition{
		TableName:   "global_settings",
		Description: "Application Settings",
		PartitionKey: orm.Attribute{
			Name:        "namespace",
			Type:        orm.String,
			Description: "The namespace that the setting belongs to",
		},
		SortKey: &orm.Attribute{
			Name:        "setting_key",
			Type:        orm.String,
			Description: "The setting key",
		},
		Attributes: []orm.Attribute{
			{
				Name:        "description",
				Type:        orm.String,
				Description: "The description of the setting",
				Optional:    true,
			},
			{
				Name:        "last_updated",
				Type:        orm.Datetime,
				Description: "The last time the setting was updated",
				Default:     func() any { return time.Now().UTC() },
			},
			{
				Name:        "setting_type",
				Type:        orm.String,
				Description: "The type of the setting",
			},
			{
				Name:        "setting_value",
				Type:        orm.String,
				Description: "The value of the setting",
			},
		},
		OnUpdate: func(rec orm.Record) {
			orm.TouchTimestamps(rec, "last_updated")
		},
	}
}

// Client reads and writes settings through the table client.
type Client struct {
	table *orm.TableClient
	disc  *discovery.Client
}

// Option configures a settings client.
type Option func(*Client)

// WithDiscovery lets the enabled check fall back to the registered
// settings table when the environment variable is unset.
func WithDiscovery(disc *discovery.Client) Option {
	return func(c *Client) { c.disc = disc }
}

// NewClient builds a settings client over the global settings table.
func NewClient(db orm.DynamoDBClient, opts ...orm.ClientOption) (*Client, error) {
	return NewClientWithOptions(db, opts)
}

// NewClientWithOptions is NewClient with settings client options alongside
// the table client options.
func NewClientWithOptions(db orm.DynamoDBClient, tableOpts []orm.ClientOption, opts ...Option) (*Client, error) {
	table, err := orm.NewTableClient(db, TableDefinition(), tableOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{table: table}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns a setting by namespace and key, or a NotFoundError.
func (c *Client) Get(ctx context.Context, namespace, key string) (*Setting, error) {
	rec, err := c.table.Get(ctx, namespace, key)
	if errors.Is(err, orm.ErrNotFound) {
		return nil, &NotFoundError{Namespace: namespace, Key: key}
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// Put stores a setting.
func (c *Client) Put(ctx context.Context, s *Setting) error {
	return c.table.Put(ctx, toRecord(s))
}

// Delete removes a setting.
func (c *Client) Delete(ctx context.Context, namespace, key string) error {
	return c.table.Delete(ctx, namespace, key)
}

// All returns every setting in the deployment.
func (c *Client) All(ctx context.Context) ([]*Setting, error) {
	records, err := c.table.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Setting, 0, len(records))
	for _, rec := range records {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// Filter creates a filter definition over the settings table.
func (c *Client) Filter() *orm.FilterDefinition {
	return orm.NewFilterDefinition(c.table.Definition())
}

// Scan returns the settings matching the filter.
func (c *Client) Scan(ctx context.Context, filter *orm.FilterDefinition) ([]*Setting, error) {
	records, err := c.table.FullScan(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Setting, 0, len(records))
	for _, rec := range records {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// Value returns a setting value coerced to its declared type. The settings
// subsystem must be enabled for the deployment.
func (c *Client) Value(ctx context.Context, namespace, key string) (any, error) {
	if !Enabled(ctx, c.disc) {
		return nil, ErrSettingsDisabled
	}
	setting, err := c.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	return setting.TypedValue()
}

// Enabled reports whether global settings are available. The environment
// variable wins; when unset and a discovery client is provided, the
// registered settings table decides.
func Enabled(ctx context.Context, disc *discovery.Client) bool {
	if v := os.Getenv(EnabledVar); v != "" {
		return strings.EqualFold(v, "true")
	}
	if disc == nil {
		return false
	}
	exists, err := disc.Exists(ctx, discovery.ResourceTypeTable, TableDefinition().TableName)
	return err == nil && exists
}

func toRecord(s *Setting) orm.Record {
	rec := orm.Record{
		"namespace":     s.Namespace,
		"setting_key":   s.Key,
		"setting_type":  string(s.Type),
		"setting_value": s.Value,
	}
	if s.Description != "" {
		rec["description"] = s.Description
	}
	if !s.LastUpdated.IsZero() {
		rec["last_updated"] = s.LastUpdated
	}
	return rec
}

func fromRecord(rec orm.Record) *Setting {
	return &Setting{
		Namespace:   rec.String("namespace"),
		Key:         rec.String("setting_key"),
		Type:        Type(rec.String("setting_type")),
		Value:       rec.String("setting_value"),
		Description: rec.String("description"),
		LastUpdated: rec.Time("last_updated"),
	}
}
