package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atelierhq/atelier/orm"
)

// RegistryResourceName is the table resource name of the DynamoDB backed
// registry, used when ATELIER_RESOURCE_DISCOVERY_STORAGE is "dynamodb".
const RegistryResourceName = "resource_registry"

// RegistryTableDefinition describes the resource registry table.
func RegistryTableDefinition() *orm.Definition {
	return &orm.Definition{
		TableName:   RegistryResourceName,
		Description: "Registered resource endpoints",
		PartitionKey: orm.Attribute{
			Name:        "resource_type",
			Type:        orm.String,
			Description: "The type of the registered resource",
		},
		SortKey: &orm.Attribute{
			Name:        "resource_name",
			Type:        orm.String,
			Description: "The name of the registered resource",
		},
		Attributes: []orm.Attribute{
			{
				Name:        "endpoint",
				Type:        orm.String,
				Description: "The physical endpoint of the resource",
			},
			{
				Name:    "created",
				Type:    orm.Datetime,
				Default: func() any { return time.Now().UTC() },
			},
			{
				Name:    "last_updated",
				Type:    orm.Datetime,
				Default: func() any { return time.Now().UTC() },
			},
		},
		OnUpdate: func(rec orm.Record) {
			rec["last_updated"] = time.Now().UTC()
		},
	}
}

// Registry resolves and registers resource endpoints against the registry
// table. It offers the same operations as the SSM backed Client for
// deployments that keep discovery state in DynamoDB.
type Registry struct {
	table *orm.TableClient
}

// NewRegistry builds a registry over the physical table of one deployment.
// The table name is derived directly, never resolved through discovery.
func NewRegistry(db orm.DynamoDBClient, appName, deploymentID string) (*Registry, error) {
	name := fmt.Sprintf("%s-%s-%s", appName, deploymentID, RegistryResourceName)

	table, err := orm.NewTableClient(db, RegistryTableDefinition(), orm.WithTableName(name))
	if err != nil {
		return nil, err
	}
	return &Registry{table: table}, nil
}

// Endpoint returns the registered endpoint of a resource. A missing entry
// yields a ResourceNotFoundError.
func (r *Registry) Endpoint(ctx context.Context, resourceType ResourceType, resourceName string) (string, error) {
	rec, err := r.table.Get(ctx, string(resourceType), resourceName)
	if err != nil {
		if errors.Is(err, orm.ErrNotFound) {
			return "", &ResourceNotFoundError{ResourceType: resourceType, ResourceName: resourceName}
		}
		return "", err
	}

	endpoint, _ := rec["endpoint"].(string)
	return endpoint, nil
}

// TableEndpoint resolves a table resource, satisfying orm.EndpointResolver.
func (r *Registry) TableEndpoint(ctx context.Context, tableName string) (string, error) {
	return r.Endpoint(ctx, ResourceTypeTable, tableName)
}

// Register writes a resource endpoint, overwriting any previous value.
func (r *Registry) Register(ctx context.Context, resourceType ResourceType, resourceName, endpoint string) error {
	return r.table.Put(ctx, orm.Record{
		"resource_type": string(resourceType),
		"resource_name": resourceName,
		"endpoint":      endpoint,
	})
}

// Exists reports whether a resource has a registered endpoint.
func (r *Registry) Exists(ctx context.Context, resourceType ResourceType, resourceName string) (bool, error) {
	_, err := r.Endpoint(ctx, resourceType, resourceName)
	if err != nil {
		var notFound *ResourceNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
