// Package awsconfig loads the shared AWS SDK configuration for framework
// clients.
package awsconfig

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

var (
	cfg  aws.Config
	once sync.Once
	err  error
)

// Load resolves the AWS configuration (env vars, profile, IAM role) as a
// lazy singleton. An empty region defers to the default resolution chain.
func Load(ctx context.Context, region string) (aws.Config, error) {
	once.Do(func() {
		opts := []func(*config.LoadOptions) error{}
		if region != "" {
			opts = append(opts, config.WithRegion(region))
		}
		cfg, err = config.LoadDefaultConfig(ctx, opts...)
	})
	return cfg, err
}
