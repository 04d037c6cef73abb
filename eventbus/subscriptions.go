package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/atelierhq/atelier/orm"
)

// Subscription routes an event type to a subscribed function.
type Subscription struct {
	EventType       string
	FunctionName    string
	Active          bool
	GeneratesEvents []string
	Created         time.Time
	LastUpdated     time.Time
}

// Validate rejects subscriptions that would loop back on themselves: a
// function may not subscribe to an event type it declares it generates.
func (s *Subscription) Validate() error {
	for _, generated := range s.GeneratesEvents {
		if generated == s.EventType {
			return fmt.Errorf("eventbus: function %q generates event type %q and cannot subscribe to it", s.FunctionName, s.EventType)
		}
	}
	return nil
}

// SubscriptionsTableDefinition declares the event bus subscriptions table.
func SubscriptionsTableDefinition() *orm.Definition {
	return &orm.Definition{
		TableName:   "event_bus_subscriptions",
		Description: "Event Bus Subscriptions",
		PartitionKey: orm.Attribute{
			Name:        "event_type",
			Type:        orm.String,
			Description: "The event type that is subscribed to",
		},
		SortKey: &orm.Attribute{
			Name:        "function_name",
			Type:        orm.String,
			Description: "The name of the function that is subscribed to the event type",
		},
		Attributes: []orm.Attribute{
			{
				Name:        "active",
				Type:        orm.Boolean,
				Default:     true,
				Description: "Whether or not the subscription is active",
			},
			{
				Name:        "generates_events",
				Type:        orm.StringList,
				Default:     []string{},
				Description: "The events generated by the subscribed function",
			},
			{
				Name:        "record_created",
				Type:        orm.Datetime,
				Default:     func() any { return time.Now().UTC() },
				Description: "The date the subscription record was created",
			},
			{
				Name:        "record_last_updated",
				Type:        orm.Datetime,
				Default:     func() any { return time.Now().UTC() },
				Description: "The date the subscription record was last updated",
			},
		},
		OnUpdate: func(rec orm.Record) {
			orm.TouchTimestamps(rec, "record_last_updated")
		},
	}
}

// Subscriptions reads and writes bus subscriptions.
type Subscriptions struct {
	table *orm.TableClient
}

// NewSubscriptions builds a client over the subscriptions table.
func NewSubscriptions(db orm.DynamoDBClient, opts ...orm.ClientOption) (*Subscriptions, error) {
	table, err := orm.NewTableClient(db, SubscriptionsTableDefinition(), opts...)
	if err != nil {
		return nil, err
	}
	return &Subscriptions{table: table}, nil
}

// Put stores a subscription after validating it.
func (s *Subscriptions) Put(ctx context.Context, sub *Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	return s.table.Put(ctx, subscriptionRecord(sub))
}

// Delete removes a subscription.
func (s *Subscriptions) Delete(ctx context.Context, eventType, functionName string) error {
	return s.table.Delete(ctx, eventType, functionName)
}

// ActiveForEventType returns all active subscriptions routing eventType.
func (s *Subscriptions) ActiveForEventType(ctx context.Context, eventType string) ([]*Subscription, error) {
	keyCond, err := s.table.PartitionKeyEquals(eventType)
	if err != nil {
		return nil, err
	}

	filter := orm.NewFilterDefinition(s.table.Definition()).Equal("active", true)

	var subs []*Subscription
	err = s.table.Query(ctx, orm.QueryParams{KeyCondition: keyCond, Filter: filter}, func(p orm.Page) bool {
		for _, rec := range p.Records {
			subs = append(subs, subscriptionFromRecord(rec))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// All returns every subscription.
func (s *Subscriptions) All(ctx context.Context) ([]*Subscription, error) {
	records, err := s.table.All(ctx)
	if err != nil {
		return nil, err
	}
	subs := make([]*Subscription, 0, len(records))
	for _, rec := range records {
		subs = append(subs, subscriptionFromRecord(rec))
	}
	return subs, nil
}

func subscriptionRecord(sub *Subscription) orm.Record {
	rec := orm.Record{
		"event_type":       sub.EventType,
		"function_name":    sub.FunctionName,
		"active":           sub.Active,
		"generates_events": sub.GeneratesEvents,
	}
	if !sub.Created.IsZero() {
		rec["record_created"] = sub.Created
	}
	if !sub.LastUpdated.IsZero() {
		rec["record_last_updated"] = sub.LastUpdated
	}
	return rec
}

func subscriptionFromRecord(rec orm.Record) *Subscription {
	return &Subscription{
		EventType:       rec.String("event_type"),
		FunctionName:    rec.String("function_name"),
		Active:          rec.Bool("active"),
		GeneratesEvents: rec.Strings("generates_events"),
		Created:         rec.Time("record_created"),
		LastUpdated:     rec.Time("record_last_updated"),
	}
}
