package discovery

import (
	"github.com/atelierhq/atelier/envconfig"
)

// Environment variable names every deployed framework component carries.
const (
	AppNameVar          = "ATELIER_APP_NAME"
	DeploymentIDVar     = "ATELIER_DEPLOYMENT_ID"
	DiscoveryStorageVar = "ATELIER_RESOURCE_DISCOVERY_STORAGE"
)

// Environment is the runtime environment shared by framework components.
type Environment struct {
	AppName          string `env:"ATELIER_APP_NAME" required:"true"`
	DeploymentID     string `env:"ATELIER_DEPLOYMENT_ID" required:"true"`
	DiscoveryStorage string `env:"ATELIER_RESOURCE_DISCOVERY_STORAGE" envDefault:"ssm"`
}

// LoadEnvironment reads the runtime environment. Missing required
// variables are an error.
func LoadEnvironment() (Environment, error) {
	var env Environment
	if err := envconfig.Load(&env); err != nil {
		return Environment{}, err
	}
	return env, nil
}

// EnvironmentMap renders the runtime environment for injection into a
// deployed function's variables.
func EnvironmentMap(appName, deploymentID string) map[string]string {
	return map[string]string{
		AppNameVar:          appName,
		DeploymentIDVar:     deploymentID,
		DiscoveryStorageVar: "ssm",
	}
}
