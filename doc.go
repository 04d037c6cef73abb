// Package atelier is a convenience layer for building small AWS-backed
// services. It centers on declarative DynamoDB table definitions that drive
// both runtime data access and infrastructure synthesis, and adds the
// supporting pieces those services usually need: global settings, an SQS
// event bus, an exception trap and SSM-based resource discovery.
//
// Overview:
// Applications describe their tables once, as orm.Definition values, and
// everything else derives from that description:
// 1. Data access (orm): typed CRUD, queries and scans against the definition.
// 2. Infrastructure (cloudformation): synthesize the tables, queues and
// discovery parameters as a CloudFormation template.
// 3. Discovery (discovery): resolve deployed resource names at runtime
// through SSM parameters, so code never hardcodes physical names.
//
// Supporting Packages:
//
// 1. settings:
//   - Deployment-wide key/value settings stored in their own table,
//     typed as string, integer, float or boolean.
//
// 2. eventbus:
//   - Publish/subscribe over SQS with a subscriptions table, response
//     bookkeeping and a long-polling watcher usable standalone or as a
//     Lambda SQS trigger.
//
// 3. trap:
//   - Records exceptions raised by service handlers into a dedicated
//     table, with handler wrappers that capture panics and stack traces.
//
// 4. restservice:
//   - A small HTTP service harness and client with discovery-based
//     endpoint resolution and correlation id propagation.
//
// 5. envconfig, awsconfig, logging:
//   - Environment-tag config loading, AWS SDK configuration and zerolog
//     setup shared by the commands under cmd/.
//
// Quick Start:
//
// Defining a table and reading a record through the same definition.
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/aws/aws-sdk-go-v2/service/dynamodb"
//
//		"github.com/atelierhq/atelier/awsconfig"
//		"github.com/atelierhq/atelier/orm"
//	)
//
//	func main() {
//		def := &orm.Definition{
//			TableName:    "jobs",
//			PartitionKey: orm.Attribute{Name: "job_type", Type: orm.String},
//			SortKey:      &orm.Attribute{Name: "job_id", Type: orm.String},
//		}
//
//		cfg, err := awsconfig.Load(context.Background(), "us-east-1")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		client, err := orm.NewTableClient(dynamodb.NewFromConfig(cfg), def,
//			orm.WithTableName("myapp-dev-jobs"))
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		record, err := client.Get(context.Background(), "import", "job-123")
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("record: %v", def.ToMap(record))
//	}
package atelier
