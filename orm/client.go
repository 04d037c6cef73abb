package orm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DynamoDBClient is the narrow slice of the DynamoDB API the table client
// needs. It exists so tests can swap in a mock.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// EndpointResolver resolves a logical table name to its physical endpoint,
// typically through resource discovery.
type EndpointResolver interface {
	TableEndpoint(ctx context.Context, tableName string) (string, error)
}

// SortOrder controls the scan direction of query results.
type SortOrder string

const (
	Ascending  SortOrder = "ascending"
	Descending SortOrder = "descending"
)

// Page is one page of paginated results.
type Page struct {
	Records          []Record
	LastEvaluatedKey map[string]types.AttributeValue
}

// HasMore reports whether another page follows this one.
func (p Page) HasMore() bool {
	return p.LastEvaluatedKey != nil
}

// TableClient issues CRUD calls against the table described by a Definition.
type TableClient struct {
	def      *Definition
	client   DynamoDBClient
	resolver EndpointResolver
	name     string
	logger   zerolog.Logger
}

// ClientOption configures a TableClient.
type ClientOption func(*TableClient)

// WithTableName pins the physical table name, bypassing resource discovery.
func WithTableName(name string) ClientOption {
	return func(c *TableClient) { c.name = name }
}

// WithEndpointResolver resolves the physical table name at first use.
func WithEndpointResolver(r EndpointResolver) ClientOption {
	return func(c *TableClient) { c.resolver = r }
}

// WithLogger replaces the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *TableClient) { c.logger = logger }
}

// NewTableClient validates the definition and builds a client over it.
// Without an explicit table name or resolver the definition's logical table
// name is used as the physical name.
func NewTableClient(client DynamoDBClient, def *Definition, opts ...ClientOption) (*TableClient, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	c := &TableClient{
		def:    def,
		client: client,
		logger: log.With().Str("component", "orm").Str("table", def.TableName).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Definition returns the table definition the client operates on.
func (c *TableClient) Definition() *Definition {
	return c.def
}

func (c *TableClient) tableName(ctx context.Context) (string, error) {
	if c.name != "" {
		return c.name, nil
	}
	if c.resolver != nil {
		name, err := c.resolver.TableEndpoint(ctx, c.def.TableName)
		if err != nil {
			return "", fmt.Errorf("orm: resolving table %q: %w", c.def.TableName, err)
		}
		c.name = name
		return c.name, nil
	}
	c.name = c.def.TableName
	return c.name, nil
}

// Get retrieves a single record by partition and optional sort key.
// Returns ErrNotFound when the item does not exist.
func (c *TableClient) Get(ctx context.Context, partitionValue, sortValue any) (Record, error) {
	return c.get(ctx, partitionValue, sortValue, false)
}

// GetConsistent is Get with a strongly consistent read.
func (c *TableClient) GetConsistent(ctx context.Context, partitionValue, sortValue any) (Record, error) {
	return c.get(ctx, partitionValue, sortValue, true)
}

func (c *TableClient) get(ctx context.Context, partitionValue, sortValue any, consistent bool) (Record, error) {
	name, err := c.tableName(ctx)
	if err != nil {
		return nil, err
	}

	key, err := c.def.Key(partitionValue, sortValue)
	if err != nil {
		return nil, err
	}

	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(name),
		Key:            key,
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("orm: get from %q: %w", name, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	return c.def.UnmarshalItem(out.Item)
}

// Put saves a record, running the definition's update hook first.
func (c *TableClient) Put(ctx context.Context, rec Record) error {
	name, err := c.tableName(ctx)
	if err != nil {
		return err
	}

	if c.def.OnUpdate != nil {
		c.def.OnUpdate(rec)
	}

	item, err := c.def.MarshalRecord(rec)
	if err != nil {
		return err
	}

	c.logger.Debug().Interface("item", rec).Msg("putting record")

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(name),
		Item:      item,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" &&
			strings.Contains(apiErr.ErrorMessage(), "Supplied AttributeValue is empty") {
			return fmt.Errorf("orm: put to %q: empty attribute value detected, json attributes cannot be empty: %w", name, err)
		}
		return fmt.Errorf("orm: put to %q: %w", name, err)
	}
	return nil
}

// Delete removes a record by partition and optional sort key.
func (c *TableClient) Delete(ctx context.Context, partitionValue, sortValue any) error {
	name, err := c.tableName(ctx)
	if err != nil {
		return err
	}

	key, err := c.def.Key(partitionValue, sortValue)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(name),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("orm: delete from %q: %w", name, err)
	}
	return nil
}

// DeleteRecord removes a record using the key values it carries.
func (c *TableClient) DeleteRecord(ctx context.Context, rec Record) error {
	pk, err := c.def.recordValue(rec, c.def.PartitionKey)
	if err != nil {
		return err
	}

	var sk any
	if c.def.SortKey != nil {
		sk, err = c.def.recordValue(rec, *c.def.SortKey)
		if err != nil {
			return err
		}
	}

	return c.Delete(ctx, pk, sk)
}

// Update applies partial SET and REMOVE operations to an item in a single
// request. Dot notation in attribute names reaches into nested maps, so
// "json_map.sub_key" updates one key of a stored map.
func (c *TableClient) Update(ctx context.Context, partitionValue, sortValue any, updates map[string]any, removeKeys []string) error {
	name, err := c.tableName(ctx)
	if err != nil {
		return err
	}

	key, err := c.def.Key(partitionValue, sortValue)
	if err != nil {
		return err
	}

	var (
		sets    []string
		removes []string
		names   = map[string]string{}
		values  = map[string]types.AttributeValue{}
	)

	for attrName, value := range updates {
		path, placeholder := updatePath(attrName, names)

		av, err := c.updateValue(attrName, value)
		if err != nil {
			return err
		}

		values[placeholder] = av
		sets = append(sets, path+" = "+placeholder)
	}

	for _, attrName := range removeKeys {
		path, _ := updatePath(attrName, names)
		removes = append(removes, path)
	}

	var parts []string
	if len(sets) > 0 {
		parts = append(parts, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(removes, ", "))
	}
	if len(parts) == 0 {
		return nil
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(name),
		Key:                      key,
		UpdateExpression:         aws.String(strings.Join(parts, " ")),
		ExpressionAttributeNames: names,
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}

	_, err = c.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("orm: update in %q: %w", name, err)
	}
	return nil
}

// updatePath builds the expression path and value placeholder for an update
// target, registering name placeholders for every path segment.
func updatePath(attrName string, names map[string]string) (path, placeholder string) {
	segments := strings.Split(attrName, ".")
	escaped := make([]string, 0, len(segments))
	for _, seg := range segments {
		names["#"+seg] = seg
		escaped = append(escaped, "#"+seg)
	}
	return strings.Join(escaped, "."), ":val_" + strings.Join(segments, "_")
}

// updateValue converts an update value. Declared top-level attributes use
// their marshaling rules; nested paths marshal the raw value directly.
func (c *TableClient) updateValue(attrName string, value any) (types.AttributeValue, error) {
	if !strings.Contains(attrName, ".") {
		if attr, ok := c.def.AttributeNamed(attrName); ok {
			return attr.AttributeValue(value)
		}
		return nil, &UnknownAttributeError{Name: attrName}
	}
	av, err := attributevalue.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("orm: marshaling %q: %w", attrName, err)
	}
	return av, nil
}

// QueryParams configures a paginated query.
type QueryParams struct {
	KeyCondition expression.KeyConditionBuilder
	Filter       *FilterDefinition
	IndexName    string
	Limit        int32
	MaxPages     int
	SortOrder    SortOrder
	StartKey     map[string]types.AttributeValue
	StartAfter   Record
	Consistent   bool
}

// PartitionKeyEquals builds the key condition matching a partition key value.
func (c *TableClient) PartitionKeyEquals(partitionValue any) (expression.KeyConditionBuilder, error) {
	av, err := c.def.PartitionKey.AttributeValue(partitionValue)
	if err != nil {
		return expression.KeyConditionBuilder{}, err
	}
	return expression.Key(c.def.PartitionKey.DynamoDBKeyName()).Equal(expression.Value(av)), nil
}

// Query walks pages of query results, invoking fn for each page until fn
// returns false or the results are exhausted.
func (c *TableClient) Query(ctx context.Context, params QueryParams, fn func(Page) bool) error {
	name, err := c.tableName(ctx)
	if err != nil {
		return err
	}

	if params.SortOrder != "" && c.def.SortKey == nil {
		return ErrSortKeyRequired
	}

	builder := expression.NewBuilder().WithKeyCondition(params.KeyCondition)
	if params.Filter != nil && !params.Filter.Empty() {
		cond, err := params.Filter.Build()
		if err != nil {
			return err
		}
		builder = builder.WithFilter(cond)
	}

	expr, err := builder.Build()
	if err != nil {
		return fmt.Errorf("orm: building query expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(name),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(params.Consistent),
	}
	if params.IndexName != "" {
		input.IndexName = aws.String(params.IndexName)
	}
	if params.Limit > 0 {
		input.Limit = aws.Int32(params.Limit)
	}
	if params.SortOrder != "" {
		input.ScanIndexForward = aws.Bool(params.SortOrder == Ascending)
	}

	startKey, err := c.startKey(params)
	if err != nil {
		return err
	}
	input.ExclusiveStartKey = startKey

	pages := 0
	for {
		out, err := c.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("orm: query on %q: %w", name, err)
		}

		page, err := c.page(out.Items, out.LastEvaluatedKey)
		if err != nil {
			return err
		}
		if !fn(page) {
			return nil
		}

		pages++
		if out.LastEvaluatedKey == nil {
			return nil
		}
		if params.MaxPages > 0 && pages >= params.MaxPages {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *TableClient) startKey(params QueryParams) (map[string]types.AttributeValue, error) {
	if params.StartKey != nil {
		return params.StartKey, nil
	}
	if params.StartAfter == nil {
		return nil, nil
	}

	pk, err := c.def.recordValue(params.StartAfter, c.def.PartitionKey)
	if err != nil {
		return nil, err
	}
	var sk any
	if c.def.SortKey != nil {
		sk, err = c.def.recordValue(params.StartAfter, *c.def.SortKey)
		if err != nil {
			return nil, err
		}
	}
	return c.def.Key(pk, sk)
}

// Scan walks pages of scan results matching the filter, invoking fn for each
// page until fn returns false or the results are exhausted. A nil filter
// scans the entire table.
func (c *TableClient) Scan(ctx context.Context, filter *FilterDefinition, fn func(Page) bool) error {
	name, err := c.tableName(ctx)
	if err != nil {
		return err
	}

	input := &dynamodb.ScanInput{
		TableName: aws.String(name),
	}

	if filter != nil && !filter.Empty() {
		cond, err := filter.Build()
		if err != nil {
			return err
		}
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return fmt.Errorf("orm: building scan expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	} else if filter != nil && filter.Err() != nil {
		return filter.Err()
	}

	for {
		out, err := c.client.Scan(ctx, input)
		if err != nil {
			return fmt.Errorf("orm: scan on %q: %w", name, err)
		}

		page, err := c.page(out.Items, out.LastEvaluatedKey)
		if err != nil {
			return err
		}
		if !fn(page) {
			return nil
		}

		if out.LastEvaluatedKey == nil {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// FullScan collects every record matching the filter. Not recommended for
// large tables.
func (c *TableClient) FullScan(ctx context.Context, filter *FilterDefinition) ([]Record, error) {
	var all []Record
	err := c.Scan(ctx, filter, func(p Page) bool {
		all = append(all, p.Records...)
		return true
	})
	return all, err
}

// All loads every record in the table into memory.
func (c *TableClient) All(ctx context.Context) ([]Record, error) {
	return c.FullScan(ctx, nil)
}

func (c *TableClient) page(items []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue) (Page, error) {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		rec, err := c.def.UnmarshalItem(item)
		if err != nil {
			return Page{}, err
		}
		records = append(records, rec)
	}
	return Page{Records: records, LastEvaluatedKey: lastKey}, nil
}
