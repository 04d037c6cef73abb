package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/orm"
)

// ResponseStatus is the outcome of routing or handling an event.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "SUCCESS"
	StatusFailure ResponseStatus = "FAILURE"
	StatusNoRoute ResponseStatus = "NO_ROUTE"
)

// failureRetention keeps failed responses around long enough to rerun them.
const failureRetention = 48 * time.Hour

// Response records the outcome of one event delivery.
type Response struct {
	EventType          string
	ResponseID         string
	Status             ResponseStatus
	OriginatingEventID string
	OriginalEventBody  map[string]any
	FailureReason      string
	FailureTraceback   string
	Created            time.Time
	TimeToLive         time.Time
}

// ResponsesTableDefinition declares the event bus responses table. Failed
// responses get their time-to-live extended by the update hook so they stay
// available for reruns.
func ResponsesTableDefinition() *orm.Definition {
	return &orm.Definition{
		TableName:    "event_bus_responses",
		Description:  "Event Bus Responses",
		TTLAttribute: "time_to_live",
		PartitionKey: orm.Attribute{
			Name:        "event_type",
			Type:        orm.String,
			Description: "The event type that was subscribed to",
		},
		SortKey: &orm.Attribute{
			Name:        "response_id",
			Type:        orm.String,
			Default:     func() any { return uuid.NewString() },
			Description: "The unique ID of the response",
		},
		Attributes: []orm.Attribute{
			{
				Name:        "created",
				Type:        orm.Datetime,
				Default:     func() any { return time.Now().UTC() },
				Description: "The datetime the response was created",
			},
			{
				Name:        "failure_reason",
				Type:        orm.String,
				Optional:    true,
				Description: "The reason for the failure",
			},
			{
				Name:        "failure_traceback",
				Type:        orm.String,
				Optional:    true,
				Description: "The stack trace of the failure",
			},
			{
				Name:        "original_event_body",
				Type:        orm.JSON,
				Description: "The originating event body",
			},
			{
				Name:        "originating_event_id",
				Type:        orm.String,
				Description: "The ID of the originating event",
			},
			{
				Name:        "response_status",
				Type:        orm.String,
				Description: "The status of the response",
			},
			{
				Name:        "time_to_live",
				Type:        orm.Datetime,
				Optional:    true,
				Description: "When the response record expires",
			},
		},
		OnUpdate: func(rec orm.Record) {
			if rec.String("response_status") == string(StatusFailure) {
				rec["time_to_live"] = time.Now().UTC().Add(failureRetention)
			}
		},
	}
}

// Responder records event delivery outcomes in the responses table.
type Responder struct {
	table     *orm.TableClient
	retention time.Duration
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithRetention sets how long successful responses are retained.
func WithRetention(d time.Duration) ResponderOption {
	return func(r *Responder) { r.retention = d }
}

// NewResponder builds a responder over the responses table.
func NewResponder(db orm.DynamoDBClient, opts ...ResponderOption) (*Responder, error) {
	table, err := orm.NewTableClient(db, ResponsesTableDefinition())
	if err != nil {
		return nil, err
	}
	r := &Responder{table: table, retention: 24 * time.Hour}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewResponderWithOptions builds a responder passing table client options
// through, for pinned table names in tests.
func NewResponderWithOptions(db orm.DynamoDBClient, tableOpts []orm.ClientOption, opts ...ResponderOption) (*Responder, error) {
	table, err := orm.NewTableClient(db, ResponsesTableDefinition(), tableOpts...)
	if err != nil {
		return nil, err
	}
	r := &Responder{table: table, retention: 24 * time.Hour}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record stores the outcome of handling ev. The failure reason and
// traceback only apply to failure statuses.
func (r *Responder) Record(ctx context.Context, ev *Event, status ResponseStatus, failureReason, failureTraceback string) error {
	rec := orm.Record{
		"event_type":           ev.EventType,
		"originating_event_id": ev.EventID,
		"original_event_body":  eventBodyMap(ev),
		"response_status":      string(status),
		"time_to_live":         time.Now().UTC().Add(r.retention),
	}
	if ev.ResponseID != "" {
		rec["response_id"] = ev.ResponseID
	}
	if failureReason != "" {
		rec["failure_reason"] = failureReason
	}
	if failureTraceback != "" {
		rec["failure_traceback"] = failureTraceback
	}
	return r.table.Put(ctx, rec)
}

// Get fetches one recorded response.
func (r *Responder) Get(ctx context.Context, eventType, responseID string) (*Response, error) {
	rec, err := r.table.Get(ctx, eventType, responseID)
	if err != nil {
		return nil, err
	}
	return responseFromRecord(rec), nil
}

// Event rebuilds the originating event from the stored body so it can be
// submitted to the bus again.
func (r *Response) Event() (*Event, error) {
	raw, err := json.Marshal(r.OriginalEventBody)
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshaling stored event body for response %q: %w", r.ResponseID, err)
	}
	return FromJSON(raw)
}

func eventBodyMap(ev *Event) map[string]any {
	return map[string]any{
		"body":              ev.Body,
		"event_type":        ev.EventType,
		"event_id":          ev.EventID,
		"previous_event_id": ev.PreviousEventID,
		"created":           ev.Created.Format(time.RFC3339),
	}
}

func responseFromRecord(rec orm.Record) *Response {
	return &Response{
		EventType:          rec.String("event_type"),
		ResponseID:         rec.String("response_id"),
		Status:             ResponseStatus(rec.String("response_status")),
		OriginatingEventID: rec.String("originating_event_id"),
		OriginalEventBody:  rec.Map("original_event_body"),
		FailureReason:      rec.String("failure_reason"),
		FailureTraceback:   rec.String("failure_traceback"),
		Created:            rec.Time("created"),
		TimeToLive:         rec.Time("time_to_live"),
	}
}
