// The buswatcher drains the event bus queue and routes each event to
// the functions subscribed to its type. It runs either as a long lived
// poller or behind a Lambda SQS trigger, depending on the runtime.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/atelierhq/atelier/awsconfig"
	"github.com/atelierhq/atelier/discovery"
	"github.com/atelierhq/atelier/eventbus"
	"github.com/atelierhq/atelier/logging"
	"github.com/atelierhq/atelier/orm"
)

var lambdaStarter = lambda.Start

func main() {
	logging.ConfigureFromEnv()

	if err := run(context.Background()); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := awsconfig.Load(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		return err
	}

	disc, err := discovery.New(ssm.NewFromConfig(cfg))
	if err != nil {
		return err
	}

	db := dynamodb.NewFromConfig(cfg)
	sqsClient := sqs.NewFromConfig(cfg)

	subs, err := eventbus.NewSubscriptions(db, orm.WithEndpointResolver(disc))
	if err != nil {
		return err
	}

	responder, err := eventbus.NewResponderWithOptions(db, []orm.ClientOption{orm.WithEndpointResolver(disc)})
	if err != nil {
		return err
	}

	dispatcher := eventbus.NewQueueDispatcher(sqsClient, disc)

	queueURL, err := disc.Endpoint(ctx, discovery.ResourceTypeAsyncService, eventbus.ResourceName)
	if err != nil {
		return err
	}

	watcher, err := eventbus.NewWatcher(sqsClient, queueURL, subs, dispatcher, responder)
	if err != nil {
		return err
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambdaStarter(func(ctx context.Context, sqsEvent events.SQSEvent) error {
			for _, record := range sqsEvent.Records {
				if err := watcher.HandleBody(ctx, record.Body); err != nil {
					return err
				}
			}
			return nil
		})
		return nil
	}

	return watcher.Run(ctx)
}
