// The responseservice exposes recorded event bus responses over HTTP so
// publishers can check what happened to an event they submitted.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/atelierhq/atelier/awsconfig"
	"github.com/atelierhq/atelier/discovery"
	"github.com/atelierhq/atelier/eventbus"
	"github.com/atelierhq/atelier/logging"
	"github.com/atelierhq/atelier/orm"
	"github.com/atelierhq/atelier/restservice"
)

func main() {
	logging.ConfigureFromEnv()

	addr := os.Getenv("ATELIER_RESPONSES_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	if err := run(addr); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run(addr string) error {
	ctx := context.Background()

	cfg, err := awsconfig.Load(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		return err
	}

	disc, err := discovery.New(ssm.NewFromConfig(cfg))
	if err != nil {
		return err
	}

	responder, err := eventbus.NewResponderWithOptions(
		dynamodb.NewFromConfig(cfg),
		[]orm.ClientOption{orm.WithEndpointResolver(disc)},
	)
	if err != nil {
		return err
	}

	publisher, err := eventbus.NewPublisher(sqs.NewFromConfig(cfg), eventbus.WithDiscovery(disc))
	if err != nil {
		return err
	}

	svc, err := restservice.NewService("event_bus_responses", []restservice.Route{
		{
			Method:            http.MethodGet,
			Path:              "/",
			Handler:           responseHandler(responder),
			RequiredArguments: []string{"event_type", "response_id"},
		},
		{
			Method:            http.MethodPost,
			Path:              "/rerun",
			Handler:           rerunHandler(responder, publisher),
			RequiredArguments: []string{"event_type", "response_id"},
		},
	})
	if err != nil {
		return err
	}

	return svc.ListenAndServe(addr)
}

func rerunHandler(responder *eventbus.Responder, publisher *eventbus.Publisher) restservice.HandlerFunc {
	return func(r *http.Request, params restservice.Params) (*restservice.Response, error) {
		eventType := params.String("event_type")
		responseID := params.String("response_id")

		resp, err := responder.Get(r.Context(), eventType, responseID)
		if err != nil {
			if errors.Is(err, orm.ErrNotFound) {
				return restservice.NotFoundResponse(responseID), nil
			}
			return nil, err
		}

		ev, err := resp.Event()
		if err != nil {
			return nil, err
		}
		if err := publisher.Submit(r.Context(), ev, 0); err != nil {
			return nil, err
		}

		return &restservice.Response{
			StatusCode: http.StatusCreated,
			Body:       map[string]any{"message": "event submitted for reprocessing"},
		}, nil
	}
}

func responseHandler(responder *eventbus.Responder) restservice.HandlerFunc {
	return func(r *http.Request, params restservice.Params) (*restservice.Response, error) {
		eventType := params.String("event_type")
		responseID := params.String("response_id")

		resp, err := responder.Get(r.Context(), eventType, responseID)
		if err != nil {
			if errors.Is(err, orm.ErrNotFound) {
				return restservice.NotFoundResponse(responseID), nil
			}
			return nil, err
		}

		body := map[string]any{
			"event_type":           resp.EventType,
			"response_id":          resp.ResponseID,
			"response_status":      string(resp.Status),
			"originating_event_id": resp.OriginatingEventID,
			"original_event_body":  resp.OriginalEventBody,
			"created":              resp.Created.Format(time.RFC3339),
		}
		if resp.FailureReason != "" {
			body["failure_reason"] = resp.FailureReason
		}
		if resp.FailureTraceback != "" {
			body["failure_traceback"] = resp.FailureTraceback
		}

		return restservice.OKResponse(body), nil
	}
}
