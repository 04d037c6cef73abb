// The trapservice accepts reported exceptions over HTTP and persists
// them to the trapped exceptions table.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-playground/validator/v10"

	"github.com/atelierhq/atelier/awsconfig"
	"github.com/atelierhq/atelier/discovery"
	"github.com/atelierhq/atelier/logging"
	"github.com/atelierhq/atelier/orm"
	"github.com/atelierhq/atelier/restservice"
	"github.com/atelierhq/atelier/trap"
)

var validate = validator.New()

func main() {
	logging.ConfigureFromEnv()

	addr := os.Getenv("ATELIER_TRAP_LISTEN_ADDR")
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

	reporter, err := trap.NewReporter(dynamodb.NewFromConfig(cfg), orm.WithEndpointResolver(disc))
	if err != nil {
		return err
	}

	svc, err := restservice.NewService("exceptions_trap", []restservice.Route{
		{
			Method:  http.MethodPost,
			Path:    "/",
			Handler: trapHandler(reporter),
		},
	})
	if err != nil {
		return err
	}

	return svc.ListenAndServe(addr)
}

func trapHandler(reporter *trap.Reporter) restservice.HandlerFunc {
	return func(r *http.Request, params restservice.Params) (*restservice.Response, error) {
		raw, err := json.Marshal(map[string]any(params))
		if err != nil {
			return restservice.ErrorResponse("invalid request body", http.StatusBadRequest), nil
		}

		var reported trap.ReportedException
		if err := json.Unmarshal(raw, &reported); err != nil {
			return restservice.ErrorResponse("invalid request body", http.StatusBadRequest), nil
		}
		if err := validate.Struct(&reported); err != nil {
			return restservice.ErrorResponse(err.Error(), http.StatusBadRequest), nil
		}

		if err := reporter.Report(r.Context(), &reported); err != nil {
			return nil, err
		}

		return &restservice.Response{
			StatusCode: http.StatusCreated,
			Body:       map[string]any{"message": "exception noted"},
		}, nil
	}
}
