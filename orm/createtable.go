package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CreateTableInput derives the DynamoDB CreateTable request from the
// definition: key schema, attribute definitions for every key attribute,
// secondary indexes and on-demand billing. Used for local and test
// bootstrap; deployed tables come out of infrastructure synthesis.
func (d *Definition) CreateTableInput() (*dynamodb.CreateTableInput, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(d.TableName),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema:   d.keySchema(),
	}

	attrDefs := map[string]types.ScalarAttributeType{}
	d.collectKeyAttribute(attrDefs, d.PartitionKey.Name)
	if d.SortKey != nil {
		d.collectKeyAttribute(attrDefs, d.SortKey.Name)
	}

	for _, gsi := range d.GlobalIndexes {
		d.collectKeyAttribute(attrDefs, gsi.PartitionKey)
		if gsi.SortKey != "" {
			d.collectKeyAttribute(attrDefs, gsi.SortKey)
		}

		index := types.GlobalSecondaryIndex{
			IndexName:  aws.String(gsi.Name),
			KeySchema:  indexKeySchema(d, gsi.PartitionKey, gsi.SortKey),
			Projection: projection(gsi.ProjectionType),
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, index)
	}

	for _, lsi := range d.LocalIndexes {
		d.collectKeyAttribute(attrDefs, lsi.SortKey)

		index := types.LocalSecondaryIndex{
			IndexName:  aws.String(lsi.Name),
			KeySchema:  indexKeySchema(d, d.PartitionKey.Name, lsi.SortKey),
			Projection: projection(lsi.ProjectionType),
		}
		input.LocalSecondaryIndexes = append(input.LocalSecondaryIndexes, index)
	}

	for name, scalar := range attrDefs {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: scalar,
		})
	}

	return input, nil
}

// EnsureTable creates the table when it does not yet exist. An already
// existing table is not an error.
func (c *TableClient) EnsureTable(ctx context.Context) error {
	input, err := c.def.CreateTableInput()
	if err != nil {
		return err
	}

	name, err := c.tableName(ctx)
	if err != nil {
		return err
	}
	input.TableName = aws.String(name)

	_, err = c.client.CreateTable(ctx, input)
	if err != nil {
		var exists *types.ResourceInUseException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("orm: creating table %q: %w", name, err)
	}
	return nil
}

func (d *Definition) keySchema() []types.KeySchemaElement {
	schema := []types.KeySchemaElement{{
		AttributeName: aws.String(d.PartitionKey.DynamoDBKeyName()),
		KeyType:       types.KeyTypeHash,
	}}
	if d.SortKey != nil {
		schema = append(schema, types.KeySchemaElement{
			AttributeName: aws.String(d.SortKey.DynamoDBKeyName()),
			KeyType:       types.KeyTypeRange,
		})
	}
	return schema
}

func indexKeySchema(d *Definition, partitionName, sortName string) []types.KeySchemaElement {
	pk, _ := d.AttributeNamed(partitionName)
	schema := []types.KeySchemaElement{{
		AttributeName: aws.String(pk.DynamoDBKeyName()),
		KeyType:       types.KeyTypeHash,
	}}
	if sortName != "" {
		sk, _ := d.AttributeNamed(sortName)
		schema = append(schema, types.KeySchemaElement{
			AttributeName: aws.String(sk.DynamoDBKeyName()),
			KeyType:       types.KeyTypeRange,
		})
	}
	return schema
}

func projection(pt types.ProjectionType) *types.Projection {
	if pt == "" {
		pt = types.ProjectionTypeAll
	}
	return &types.Projection{ProjectionType: pt}
}

func (d *Definition) collectKeyAttribute(defs map[string]types.ScalarAttributeType, name string) {
	attr, ok := d.AttributeNamed(name)
	if !ok {
		return
	}
	scalar := types.ScalarAttributeTypeS
	if attr.Type == Number || attr.Type == Datetime {
		scalar = types.ScalarAttributeTypeN
	}
	defs[attr.DynamoDBKeyName()] = scalar
}
