package cloudformation

import (
	"fmt"

	"github.com/atelierhq/atelier/discovery"
	"github.com/atelierhq/atelier/eventbus"
	"github.com/atelierhq/atelier/orm"
	"github.com/atelierhq/atelier/settings"
	"github.com/atelierhq/atelier/trap"
)

// QueueResource declares an SQS queue with long polling enabled.
func QueueResource(appName, deploymentID, queueName string, visibilityTimeoutSeconds int) Resource {
	return Resource{
		Type: "AWS::SQS::Queue",
		Properties: map[string]any{
			"QueueName":                     fmt.Sprintf("%s-%s-%s", appName, deploymentID, queueName),
			"ReceiveMessageWaitTimeSeconds": 20,
			"VisibilityTimeout":             visibilityTimeoutSeconds,
			"Tags":                          frameworkTags(appName, deploymentID),
		},
	}
}

// QueueDiscoveryParameter registers a queue URL with service discovery.
func QueueDiscoveryParameter(resourceName, queueLogicalID, appName, deploymentID string) Resource {
	return Resource{
		Type: "AWS::SSM::Parameter",
		Properties: map[string]any{
			"Name":  discovery.ParameterName(discovery.ResourceTypeAsyncService, resourceName, appName, deploymentID),
			"Type":  "String",
			"Value": Ref(queueLogicalID),
		},
		DependsOn: []string{queueLogicalID},
	}
}

// Synthesizer accumulates an application's table definitions and renders
// them, together with the framework's own resources, into one template.
type Synthesizer struct {
	appName         string
	deploymentID    string
	tables          []*orm.Definition
	tableOpts       []TableOption
	includeSettings bool
	includeEventBus bool
	includeTrap     bool
	includeRegistry bool
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithGlobalSettings includes the global settings table.
func WithGlobalSettings() SynthesizerOption {
	return func(s *Synthesizer) { s.includeSettings = true }
}

// WithEventBus includes the bus queue and its subscription and response
// tables.
func WithEventBus() SynthesizerOption {
	return func(s *Synthesizer) { s.includeEventBus = true }
}

// WithExceptionTrap includes the trapped exceptions table.
func WithExceptionTrap() SynthesizerOption {
	return func(s *Synthesizer) { s.includeTrap = true }
}

// WithResourceRegistry includes the resource registry table, for
// deployments keeping discovery state in DynamoDB instead of SSM.
func WithResourceRegistry() SynthesizerOption {
	return func(s *Synthesizer) { s.includeRegistry = true }
}

// WithTableOptions applies the given table options to every synthesized
// table, framework and application alike.
func WithTableOptions(opts ...TableOption) SynthesizerOption {
	return func(s *Synthesizer) { s.tableOpts = append(s.tableOpts, opts...) }
}

// NewSynthesizer builds a synthesizer for one application deployment.
func NewSynthesizer(appName, deploymentID string, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{appName: appName, deploymentID: deploymentID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTable schedules an application table for synthesis.
func (s *Synthesizer) AddTable(def *orm.Definition) {
	s.tables = append(s.tables, def)
}

// Synthesize renders the collected definitions into a template.
func (s *Synthesizer) Synthesize() (*Template, error) {
	tmpl := NewTemplate(fmt.Sprintf("%s %s deployment", s.appName, s.deploymentID))

	defs := make([]*orm.Definition, 0, len(s.tables)+5)
	if s.includeRegistry {
		defs = append(defs, discovery.RegistryTableDefinition())
	}
	if s.includeSettings {
		defs = append(defs, settings.TableDefinition())
	}
	if s.includeEventBus {
		defs = append(defs, eventbus.SubscriptionsTableDefinition(), eventbus.ResponsesTableDefinition())
	}
	if s.includeTrap {
		defs = append(defs, trap.TableDefinition())
	}
	defs = append(defs, s.tables...)

	for _, def := range defs {
		if err := s.addTable(tmpl, def); err != nil {
			return nil, err
		}
	}

	if s.includeEventBus {
		queueID := LogicalID(eventbus.ResourceName) + "Queue"
		if err := tmpl.Add(queueID, QueueResource(s.appName, s.deploymentID, eventbus.ResourceName, 300)); err != nil {
			return nil, err
		}
		if err := tmpl.Add(queueID+"Discovery", QueueDiscoveryParameter(eventbus.ResourceName, queueID, s.appName, s.deploymentID)); err != nil {
			return nil, err
		}
	}

	return tmpl, nil
}

func (s *Synthesizer) addTable(tmpl *Template, def *orm.Definition) error {
	res, err := TableResource(def, s.appName, s.deploymentID, s.tableOpts...)
	if err != nil {
		return err
	}
	logicalID := LogicalID(def.TableName) + "Table"
	if err := tmpl.Add(logicalID, res); err != nil {
		return err
	}
	return tmpl.Add(logicalID+"Discovery", TableDiscoveryParameter(def, logicalID, s.appName, s.deploymentID))
}
