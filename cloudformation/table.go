package cloudformation

import (
	"fmt"

	"github.com/atelierhq/atelier/discovery"
	"github.com/atelierhq/atelier/orm"
)

// PhysicalTableName renders the deployed name of a table.
func PhysicalTableName(appName, deploymentID, tableName string) string {
	return fmt.Sprintf("%s-%s-%s", appName, deploymentID, tableName)
}

// TableOption adjusts the synthesized table resource.
type TableOption func(*tableOptions)

type tableOptions struct {
	pointInTimeRecovery bool
	deletionProtection  bool
	replicaRegions      []string
}

// WithPointInTimeRecovery enables point in time recovery on every replica.
func WithPointInTimeRecovery() TableOption {
	return func(o *tableOptions) { o.pointInTimeRecovery = true }
}

// WithDeletionProtection marks every replica as protected from deletion.
func WithDeletionProtection() TableOption {
	return func(o *tableOptions) { o.deletionProtection = true }
}

// WithReplicaRegions replicates the table into the named regions instead
// of only the deploying one.
func WithReplicaRegions(regions ...string) TableOption {
	return func(o *tableOptions) { o.replicaRegions = regions }
}

// TableResource derives an on demand DynamoDB global table resource from
// a table definition.
func TableResource(def *orm.Definition, appName, deploymentID string, opts ...TableOption) (Resource, error) {
	if err := def.Validate(); err != nil {
		return Resource{}, err
	}

	var options tableOptions
	for _, opt := range opts {
		opt(&options)
	}

	props := map[string]any{
		"TableName":            PhysicalTableName(appName, deploymentID, def.TableName),
		"BillingMode":          "PAY_PER_REQUEST",
		"AttributeDefinitions": attributeDefinitions(def),
		"KeySchema":            keySchema(def.PartitionKey, def.SortKey),
		"Replicas":             replicas(appName, deploymentID, options),
	}

	if def.TTLAttribute != "" {
		attr, ok := def.AttributeNamed(def.TTLAttribute)
		if !ok {
			return Resource{}, fmt.Errorf("cloudformation: table %q names unknown ttl attribute %q", def.TableName, def.TTLAttribute)
		}
		props["TimeToLiveSpecification"] = map[string]any{
			"AttributeName": attr.DynamoDBKeyName(),
			"Enabled":       true,
		}
	}

	if len(def.GlobalIndexes) > 0 {
		var indexes []map[string]any
		for _, gsi := range def.GlobalIndexes {
			pk, ok := def.AttributeNamed(gsi.PartitionKey)
			if !ok {
				return Resource{}, fmt.Errorf("cloudformation: index %q names unknown attribute %q", gsi.Name, gsi.PartitionKey)
			}
			var sk *orm.Attribute
			if gsi.SortKey != "" {
				attr, ok := def.AttributeNamed(gsi.SortKey)
				if !ok {
					return Resource{}, fmt.Errorf("cloudformation: index %q names unknown attribute %q", gsi.Name, gsi.SortKey)
				}
				sk = &attr
			}
			indexes = append(indexes, map[string]any{
				"IndexName":  gsi.Name,
				"KeySchema":  keySchema(pk, sk),
				"Projection": projection(string(gsi.ProjectionType)),
			})
		}
		props["GlobalSecondaryIndexes"] = indexes
	}

	if len(def.LocalIndexes) > 0 {
		var indexes []map[string]any
		for _, lsi := range def.LocalIndexes {
			sk, ok := def.AttributeNamed(lsi.SortKey)
			if !ok {
				return Resource{}, fmt.Errorf("cloudformation: index %q names unknown attribute %q", lsi.Name, lsi.SortKey)
			}
			indexes = append(indexes, map[string]any{
				"IndexName":  lsi.Name,
				"KeySchema":  keySchema(def.PartitionKey, &sk),
				"Projection": projection(string(lsi.ProjectionType)),
			})
		}
		props["LocalSecondaryIndexes"] = indexes
	}

	return Resource{Type: "AWS::DynamoDB::GlobalTable", Properties: props}, nil
}

// TableDiscoveryParameter registers a table's physical name with service
// discovery. tableLogicalID must reference the table resource in the same
// template.
func TableDiscoveryParameter(def *orm.Definition, tableLogicalID, appName, deploymentID string) Resource {
	return Resource{
		Type: "AWS::SSM::Parameter",
		Properties: map[string]any{
			"Name":  discovery.ParameterName(discovery.ResourceTypeTable, def.TableName, appName, deploymentID),
			"Type":  "String",
			"Value": Ref(tableLogicalID),
		},
		DependsOn: []string{tableLogicalID},
	}
}

func replicas(appName, deploymentID string, options tableOptions) []map[string]any {
	regions := []any{Ref("AWS::Region")}
	if len(options.replicaRegions) > 0 {
		regions = regions[:0]
		for _, region := range options.replicaRegions {
			regions = append(regions, region)
		}
	}

	out := make([]map[string]any, 0, len(regions))
	for _, region := range regions {
		replica := map[string]any{
			"Region": region,
			"Tags":   frameworkTags(appName, deploymentID),
		}
		if options.pointInTimeRecovery {
			replica["PointInTimeRecoverySpecification"] = map[string]any{
				"PointInTimeRecoveryEnabled": true,
			}
		}
		if options.deletionProtection {
			replica["DeletionProtectionEnabled"] = true
		}
		out = append(out, replica)
	}
	return out
}

func attributeDefinitions(def *orm.Definition) []map[string]any {
	seen := map[string]bool{}
	var out []map[string]any

	add := func(attr orm.Attribute) {
		name := attr.DynamoDBKeyName()
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, map[string]any{
			"AttributeName": name,
			"AttributeType": attr.Type.DynamoDBType(),
		})
	}

	add(def.PartitionKey)
	if def.SortKey != nil {
		add(*def.SortKey)
	}
	for _, gsi := range def.GlobalIndexes {
		if attr, ok := def.AttributeNamed(gsi.PartitionKey); ok {
			add(attr)
		}
		if gsi.SortKey != "" {
			if attr, ok := def.AttributeNamed(gsi.SortKey); ok {
				add(attr)
			}
		}
	}
	for _, lsi := range def.LocalIndexes {
		if attr, ok := def.AttributeNamed(lsi.SortKey); ok {
			add(attr)
		}
	}
	return out
}

func keySchema(pk orm.Attribute, sk *orm.Attribute) []map[string]any {
	schema := []map[string]any{
		{"AttributeName": pk.DynamoDBKeyName(), "KeyType": "HASH"},
	}
	if sk != nil {
		schema = append(schema, map[string]any{
			"AttributeName": sk.DynamoDBKeyName(), "KeyType": "RANGE",
		})
	}
	return schema
}

func projection(projectionType string) map[string]any {
	if projectionType == "" {
		projectionType = "ALL"
	}
	return map[string]any{"ProjectionType": projectionType}
}

func frameworkTags(appName, deploymentID string) []map[string]any {
	return []map[string]any{
		{"Key": "Atelier::ApplicationName", "Value": appName},
		{"Key": "Atelier::DeploymentId", "Value": deploymentID},
		{"Key": "AtelierManaged", "Value": "True"},
	}
}
