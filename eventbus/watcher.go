package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atelierhq/atelier/discovery"
)

// Dispatcher hands an event to one subscriber function.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *Event, sub *Subscription) error
}

// QueueDispatcher delivers events by publishing to each subscriber's own
// queue, resolved through service discovery under the subscriber's
// function name.
type QueueDispatcher struct {
	client   SQSPublishClient
	resolver *discovery.Client

	mu     sync.Mutex
	queues map[string]string
}

// NewQueueDispatcher builds a dispatcher that resolves subscriber queues
// through disc and publishes with client.
func NewQueueDispatcher(client SQSPublishClient, disc *discovery.Client) *QueueDispatcher {
	return &QueueDispatcher{
		client:   client,
		resolver: disc,
		queues:   make(map[string]string),
	}
}

func (d *QueueDispatcher) queueFor(ctx context.Context, functionName string) (string, error) {
	d.mu.Lock()
	url, ok := d.queues[functionName]
	d.mu.Unlock()
	if ok {
		return url, nil
	}

	url, err := d.resolver.Endpoint(ctx, discovery.ResourceTypeAsyncService, functionName)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.queues[functionName] = url
	d.mu.Unlock()
	return url, nil
}

// Dispatch publishes ev to the subscriber's queue.
func (d *QueueDispatcher) Dispatch(ctx context.Context, ev *Event, sub *Subscription) error {
	url, err := d.queueFor(ctx, sub.FunctionName)
	if err != nil {
		return err
	}

	raw, err := ev.JSON()
	if err != nil {
		return err
	}

	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(raw)),
	})
	if err != nil {
		return fmt.Errorf("eventbus: dispatching %q to %q: %w", ev.EventType, sub.FunctionName, err)
	}
	return nil
}

// SQSWatchClient is the slice of the SQS API the watcher consumes.
type SQSWatchClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Watcher drains the bus queue, routing each event to the subscribers
// registered for its type.
type Watcher struct {
	client        SQSWatchClient
	queueURL      string
	subscriptions *Subscriptions
	dispatcher    Dispatcher
	responder     *Responder
	logger        zerolog.Logger

	waitTime  int32
	batchSize int32
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger overrides the default component logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithBatchSize sets how many messages each receive call asks for.
func WithBatchSize(n int32) WatcherOption {
	return func(w *Watcher) { w.batchSize = n }
}

// NewWatcher builds a bus watcher draining queueURL. The responder is
// optional.
func NewWatcher(client SQSWatchClient, queueURL string, subs *Subscriptions, dispatcher Dispatcher, responder *Responder, opts ...WatcherOption) (*Watcher, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("eventbus: watcher needs a queue url")
	}
	w := &Watcher{
		client:        client,
		queueURL:      queueURL,
		subscriptions: subs,
		dispatcher:    dispatcher,
		responder:     responder,
		logger:        log.With().Str("component", "eventbus.watcher").Logger(),
		waitTime:      20,
		batchSize:     10,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run drains the queue until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info().Str("queue", w.queueURL).Msg("watching event bus queue")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("stopping event bus watcher")
			return ctx.Err()
		default:
		}

		out, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: w.batchSize,
			WaitTimeSeconds:     w.waitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("receive failed, retrying in 5s")
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			if err := w.handleMessage(ctx, aws.ToString(msg.Body)); err != nil {
				w.logger.Error().Err(err).
					Str("message_id", aws.ToString(msg.MessageId)).
					Msg("message handling failed")
				continue
			}
			_, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(w.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			})
			if err != nil {
				w.logger.Warn().Err(err).
					Str("message_id", aws.ToString(msg.MessageId)).
					Msg("unable to delete handled message")
			}
		}
	}
}

// HandleBody routes one raw event body. Exposed so the watcher can also
// run behind a Lambda SQS trigger.
func (w *Watcher) HandleBody(ctx context.Context, body string) error {
	return w.handleMessage(ctx, body)
}

func (w *Watcher) handleMessage(ctx context.Context, body string) error {
	ev, err := FromJSON([]byte(body))
	if err != nil {
		w.logger.Error().Err(err).Msg("discarding undecodable bus message")
		return nil
	}

	subs, err := w.subscriptions.ActiveForEventType(ctx, ev.EventType)
	if err != nil {
		return fmt.Errorf("eventbus: loading subscriptions for %q: %w", ev.EventType, err)
	}

	if len(subs) == 0 {
		w.logger.Info().
			Str("event_type", ev.EventType).
			Str("event_id", ev.EventID).
			Msg("no active subscriptions for event")
		w.record(ctx, ev, StatusNoRoute, "no active subscriptions found")
		return nil
	}

	var failed int
	for _, sub := range subs {
		routed := *ev
		routed.ResponseID = uuid.NewString()

		if err := w.dispatcher.Dispatch(ctx, &routed, sub); err != nil {
			failed++
			w.logger.Error().Err(err).
				Str("event_type", ev.EventType).
				Str("function_name", sub.FunctionName).
				Msg("dispatch failed")
			w.record(ctx, &routed, StatusFailure, err.Error())
			continue
		}

		w.logger.Debug().
			Str("event_type", ev.EventType).
			Str("function_name", sub.FunctionName).
			Msg("event dispatched")
	}

	if failed == len(subs) {
		return fmt.Errorf("eventbus: all %d dispatches failed for %q", failed, ev.EventType)
	}
	return nil
}

func (w *Watcher) record(ctx context.Context, ev *Event, status ResponseStatus, reason string) {
	if w.responder == nil {
		return
	}
	if err := w.responder.Record(ctx, ev, status, reason, ""); err != nil {
		w.logger.Warn().Err(err).Msg("unable to record response")
	}
}
