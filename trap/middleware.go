package trap

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/logging"
)

// RawHandler is a Lambda handler over an undecoded JSON payload.
type RawHandler func(ctx context.Context, payload json.RawMessage) (any, error)

// WrapOptions control the trap wrapper behavior.
type WrapOptions struct {
	// FunctionName identifies the wrapped handler in trapped records.
	FunctionName string

	// Metadata is attached to every trapped record.
	Metadata map[string]any

	// Reraise propagates the handler error to the Lambda runtime after
	// reporting. When false the error is swallowed once reported.
	Reraise bool

	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// WrapHandler reports any error or panic from fn to the exception trap
// before deciding whether to propagate it.
func WrapHandler(fn RawHandler, reporter *Reporter, opts WrapOptions) RawHandler {
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = logging.New("trap.client")
	}
	if opts.FunctionName != "" {
		logger = logger.With().Str("function_name", opts.FunctionName).Logger()
	}

	return func(ctx context.Context, payload json.RawMessage) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				report(ctx, reporter, opts, payload, err, string(debug.Stack()), logger)
				if !opts.Reraise {
					err = nil
				}
			}
		}()

		result, err = fn(ctx, payload)
		if err != nil {
			report(ctx, reporter, opts, payload, err, "", logger)
			if !opts.Reraise {
				return result, nil
			}
		}
		return result, err
	}
}

func report(ctx context.Context, reporter *Reporter, opts WrapOptions, payload json.RawMessage, handlerErr error, traceback string, logger zerolog.Logger) {
	logger.Error().Err(handlerErr).Msg("handler failed")

	if reporter == nil {
		return
	}

	originating := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &originating); err != nil {
			originating = map[string]any{"raw": string(payload)}
		}
	}

	reported := &ReportedException{
		FunctionName:     opts.FunctionName,
		Exception:        handlerErr.Error(),
		Traceback:        traceback,
		OriginatingEvent: originating,
		Metadata:         opts.Metadata,
	}
	if err := reporter.Report(ctx, reported); err != nil {
		logger.Warn().Err(err).Msg("unable to report trapped exception")
	}
}
