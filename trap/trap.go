// Package trap captures unhandled failures from deployed functions and
// persists them for later inspection.
package trap

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atelierhq/atelier/discovery"
	"github.com/atelierhq/atelier/orm"
)

// EnabledVar toggles exception trapping for a deployment.
const EnabledVar = "ATELIER_EXCEPTION_TRAP_ENABLED"

// ResourceName is the discovery name the trap registers under.
const ResourceName = "exceptions_trap"

// recordRetention keeps trapped exceptions around for a week.
const recordRetention = 7 * 24 * time.Hour

// Enabled reports whether exception trapping is switched on. The
// environment variable wins; otherwise the trap is considered enabled
// when it has registered with service discovery.
func Enabled(ctx context.Context, disc *discovery.Client) bool {
	if raw, ok := os.LookupEnv(EnabledVar); ok {
		return strings.EqualFold(raw, "true")
	}
	if disc == nil {
		return false
	}
	exists, err := disc.Exists(ctx, discovery.ResourceTypeAsyncService, ResourceName)
	if err != nil {
		return false
	}
	return exists
}

// ReportedException carries everything known about a trapped failure.
type ReportedException struct {
	FunctionName     string         `json:"function_name" validate:"required"`
	Exception        string         `json:"exception" validate:"required"`
	Traceback        string         `json:"exception_traceback"`
	OriginatingEvent map[string]any `json:"originating_event"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	LogNamespace     string         `json:"log_namespace,omitempty"`
	LogExecutionID   string         `json:"log_execution_id,omitempty"`
}

// TrappedException is a stored exception record.
type TrappedException struct {
	FunctionName     string
	ExceptionID      string
	Exception        string
	Traceback        string
	OriginatingEvent map[string]any
	Metadata         map[string]any
	Created          time.Time
	TrappedAt        time.Time
}

// TableDefinition declares the trapped exceptions table.
func TableDefinition() *orm.Definition {
	return &orm.Definition{
		TableName:    "trapped_exceptions",
		Description:  "Trapped Exceptions",
		TTLAttribute: "time_to_live",
		PartitionKey: orm.Attribute{
			Name:        "function_name",
			Type:        orm.String,
			Description: "The name of the function that produced the exception",
		},
		SortKey: &orm.Attribute{
			Name:        "exception_id",
			Type:        orm.String,
			Default:     func() any { return uuid.NewString() },
			Description: "The ID of the exception",
		},
		Attributes: []orm.Attribute{
			{
				Name:        "created",
				Type:        orm.Datetime,
				Default:     func() any { return time.Now().UTC() },
				Description: "The datetime the exception was created",
			},
			{
				Name:        "exception",
				Type:        orm.String,
				Description: "The exception that was trapped",
			},
			{
				Name:        "exception_traceback",
				Type:        orm.String,
				Description: "The traceback of the exception",
			},
			{
				Name:        "metadata",
				Type:        orm.JSON,
				Optional:    true,
				Default:     map[string]any{},
				Description: "Any additional information about the exception",
			},
			{
				Name:        "originating_event",
				Type:        orm.JSON,
				Description: "The originating event that caused the exception",
			},
			{
				Name:        "trapped_ts",
				Type:        orm.Datetime,
				Default:     func() any { return time.Now().UTC() },
				Description: "The datetime the exception was trapped",
			},
			{
				Name:        "time_to_live",
				Type:        orm.Datetime,
				Optional:    true,
				Default:     func() any { return time.Now().UTC().Add(recordRetention) },
				Description: "When the record expires",
			},
		},
	}
}

// Reporter writes trapped exceptions to their table.
type Reporter struct {
	table  *orm.TableClient
	logger zerolog.Logger
}

// NewReporter builds a reporter. Table client options pass through, for
// pinned table names or discovery based resolution.
func NewReporter(db orm.DynamoDBClient, tableOpts ...orm.ClientOption) (*Reporter, error) {
	table, err := orm.NewTableClient(db, TableDefinition(), tableOpts...)
	if err != nil {
		return nil, err
	}
	return &Reporter{
		table:  table,
		logger: log.With().Str("component", "trap").Logger(),
	}, nil
}

// Report persists one reported exception.
func (r *Reporter) Report(ctx context.Context, reported *ReportedException) error {
	rec := orm.Record{
		"function_name":       reported.FunctionName,
		"exception":           reported.Exception,
		"exception_traceback": reported.Traceback,
		"originating_event":   reported.OriginatingEvent,
	}
	if reported.Metadata != nil {
		rec["metadata"] = reported.Metadata
	}

	r.logger.Debug().
		Str("function_name", reported.FunctionName).
		Str("exception", reported.Exception).
		Msg("reporting trapped exception")

	return r.table.Put(ctx, rec)
}

// Get fetches one trapped exception.
func (r *Reporter) Get(ctx context.Context, functionName, exceptionID string) (*TrappedException, error) {
	rec, err := r.table.Get(ctx, functionName, exceptionID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// Delete removes one trapped exception.
func (r *Reporter) Delete(ctx context.Context, functionName, exceptionID string) error {
	return r.table.Delete(ctx, functionName, exceptionID)
}

// ForFunction lists every trapped exception recorded for one function.
func (r *Reporter) ForFunction(ctx context.Context, functionName string) ([]*TrappedException, error) {
	keyCond, err := r.table.PartitionKeyEquals(functionName)
	if err != nil {
		return nil, err
	}

	var out []*TrappedException
	err = r.table.Query(ctx, orm.QueryParams{KeyCondition: keyCond}, func(page orm.Page) bool {
		for _, rec := range page.Records {
			out = append(out, fromRecord(rec))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func fromRecord(rec orm.Record) *TrappedException {
	return &TrappedException{
		FunctionName:     rec.String("function_name"),
		ExceptionID:      rec.String("exception_id"),
		Exception:        rec.String("exception"),
		Traceback:        rec.String("exception_traceback"),
		OriginatingEvent: rec.Map("originating_event"),
		Metadata:         rec.Map("metadata"),
		Created:          rec.Time("created"),
		TrappedAt:        rec.Time("trapped_ts"),
	}
}
