package eventbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/logging"
)

// Handler processes one delivered event.
type Handler func(ctx context.Context, ev *Event) error

// HandlerOptions control how the wrapper treats handler outcomes.
type HandlerOptions struct {
	// FunctionName identifies the handler in logs and response records.
	FunctionName string

	// Reraise propagates the handler error back to the Lambda runtime so
	// the message is retried. When false, failures are recorded and
	// swallowed.
	Reraise bool

	// Responder records delivery outcomes. Optional; when nil only logs
	// are emitted.
	Responder *Responder

	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// WrapSQSHandler adapts an event handler to the Lambda SQS event shape.
// Each record in the batch is decoded, handled, and its outcome recorded.
// Panics inside the handler are recovered and treated as failures.
func WrapSQSHandler(fn Handler, opts HandlerOptions) func(ctx context.Context, sqsEvent events.SQSEvent) error {
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = logging.New("eventbus.handler")
	}
	if opts.FunctionName != "" {
		logger = logger.With().Str("function_name", opts.FunctionName).Logger()
	}

	return func(ctx context.Context, sqsEvent events.SQSEvent) error {
		var firstErr error
		for _, record := range sqsEvent.Records {
			ev, err := FromJSON([]byte(record.Body))
			if err != nil {
				logger.Error().Err(err).
					Str("message_id", record.MessageId).
					Msg("discarding undecodable event message")
				continue
			}
			if err := handleOne(ctx, fn, ev, opts, logger); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if opts.Reraise {
			return firstErr
		}
		return nil
	}
}

func handleOne(ctx context.Context, fn Handler, ev *Event, opts HandlerOptions, logger zerolog.Logger) (err error) {
	start := time.Now()
	evLogger := logger.With().
		Str("event_type", ev.EventType).
		Str("event_id", ev.EventID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
			recordFailure(ctx, ev, opts, err.Error(), string(debug.Stack()), evLogger)
		}
	}()

	if err = fn(ctx, ev); err != nil {
		recordFailure(ctx, ev, opts, err.Error(), "", evLogger)
		return err
	}

	evLogger.Info().
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("event handled")

	if opts.Responder != nil {
		if recErr := opts.Responder.Record(ctx, ev, StatusSuccess, "", ""); recErr != nil {
			evLogger.Warn().Err(recErr).Msg("unable to record success response")
		}
	}
	return nil
}

func recordFailure(ctx context.Context, ev *Event, opts HandlerOptions, reason, traceback string, logger zerolog.Logger) {
	logger.Error().Str("failure_reason", reason).Msg("event handler failed")
	if opts.Responder == nil {
		return
	}
	if err := opts.Responder.Record(ctx, ev, StatusFailure, reason, traceback); err != nil {
		logger.Warn().Err(err).Msg("unable to record failure response")
	}
}
