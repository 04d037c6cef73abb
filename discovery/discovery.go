// Package discovery resolves framework resources (tables, services) to
// their physical endpoints through SSM Parameter Store.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ResourceType classifies a resource registered with service discovery.
type ResourceType string

const (
	ResourceTypeTable        ResourceType = "table"
	ResourceTypeAsyncService ResourceType = "async_service"
	ResourceTypeRestService  ResourceType = "rest_service"
	ResourceTypeDomain       ResourceType = "domain"
)

// Prefix roots every service discovery parameter name.
const Prefix = "/atelier_v1/service_discovery"

// ResourceNotFoundError reports a resource with no registered endpoint.
type ResourceNotFoundError struct {
	ResourceType ResourceType
	ResourceName string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("discovery: no endpoint registered for %s %q", e.ResourceType, e.ResourceName)
}

// SSMClient is the slice of the SSM API the discovery client uses.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// Client looks up and registers resource endpoints for one application
// deployment.
type Client struct {
	ssm          SSMClient
	appName      string
	deploymentID string
}

// Option configures a discovery client.
type Option func(*Client)

// WithApplication pins the application name and deployment id instead of
// reading them from the runtime environment.
func WithApplication(appName, deploymentID string) Option {
	return func(c *Client) {
		c.appName = appName
		c.deploymentID = deploymentID
	}
}

// New builds a discovery client. Without WithApplication the application
// name and deployment id come from the runtime environment variables.
func New(client SSMClient, opts ...Option) (*Client, error) {
	c := &Client{ssm: client}
	for _, opt := range opts {
		opt(c)
	}

	if c.appName == "" || c.deploymentID == "" {
		env, err := LoadEnvironment()
		if err != nil {
			return nil, err
		}
		if c.appName == "" {
			c.appName = env.AppName
		}
		if c.deploymentID == "" {
			c.deploymentID = env.DeploymentID
		}
	}

	return c, nil
}

// ParameterName renders the parameter path for a resource.
func ParameterName(resourceType ResourceType, resourceName, appName, deploymentID string) string {
	return strings.Join([]string{
		Prefix,
		appName,
		deploymentID,
		string(resourceType),
		resourceName,
	}, "/")
}

// Endpoint returns the registered endpoint of a resource. A missing
// parameter yields a ResourceNotFoundError.
func (c *Client) Endpoint(ctx context.Context, resourceType ResourceType, resourceName string) (string, error) {
	name := ParameterName(resourceType, resourceName, c.appName, c.deploymentID)

	out, err := c.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		var missing *ssmtypes.ParameterNotFound
		if errors.As(err, &missing) {
			return "", &ResourceNotFoundError{ResourceType: resourceType, ResourceName: resourceName}
		}
		return "", fmt.Errorf("discovery: looking up %s %q: %w", resourceType, resourceName, err)
	}

	return aws.ToString(out.Parameter.Value), nil
}

// TableEndpoint resolves a table resource, satisfying orm.EndpointResolver.
func (c *Client) TableEndpoint(ctx context.Context, tableName string) (string, error) {
	return c.Endpoint(ctx, ResourceTypeTable, tableName)
}

// Register writes a resource endpoint, overwriting any previous value.
func (c *Client) Register(ctx context.Context, resourceType ResourceType, resourceName, endpoint string) error {
	name := ParameterName(resourceType, resourceName, c.appName, c.deploymentID)

	_, err := c.ssm.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(endpoint),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("discovery: registering %s %q: %w", resourceType, resourceName, err)
	}
	return nil
}

// Exists reports whether a resource has a registered endpoint.
func (c *Client) Exists(ctx context.Context, resourceType ResourceType, resourceName string) (bool, error) {
	_, err := c.Endpoint(ctx, resourceType, resourceName)
	if err != nil {
		var notFound *ResourceNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
