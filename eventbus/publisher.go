package eventbus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atelierhq/atelier/discovery"
)

// ResourceName is the discovery name the bus queue registers under.
const ResourceName = "event_bus"

// SQSPublishClient is the slice of the SQS API the publisher uses.
type SQSPublishClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher submits events to the bus queue.
type Publisher struct {
	client   SQSPublishClient
	resolver *discovery.Client
	queueURL string
	logger   zerolog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithQueueURL pins the bus queue URL, bypassing resource discovery.
func WithQueueURL(url string) PublisherOption {
	return func(p *Publisher) { p.queueURL = url }
}

// WithDiscovery resolves the bus queue URL at first publish.
func WithDiscovery(d *discovery.Client) PublisherOption {
	return func(p *Publisher) { p.resolver = d }
}

// NewPublisher builds an event publisher. The queue URL must come from
// either WithQueueURL or WithDiscovery.
func NewPublisher(client SQSPublishClient, opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{
		client: client,
		logger: log.With().Str("component", "eventbus").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queueURL == "" && p.resolver == nil {
		return nil, fmt.Errorf("eventbus: publisher needs a queue url or a discovery client")
	}
	return p, nil
}

func (p *Publisher) queue(ctx context.Context) (string, error) {
	if p.queueURL != "" {
		return p.queueURL, nil
	}
	url, err := p.resolver.Endpoint(ctx, discovery.ResourceTypeAsyncService, ResourceName)
	if err != nil {
		return "", err
	}
	p.queueURL = url
	return url, nil
}

// Submit publishes an event, optionally delayed by delaySeconds.
func (p *Publisher) Submit(ctx context.Context, ev *Event, delaySeconds int32) error {
	url, err := p.queue(ctx)
	if err != nil {
		return err
	}

	raw, err := ev.JSON()
	if err != nil {
		return err
	}

	p.logger.Debug().
		Str("event_type", ev.EventType).
		Str("event_id", ev.EventID).
		Msg("publishing event")

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(string(raw)),
		DelaySeconds: delaySeconds,
	})
	if err != nil {
		return fmt.Errorf("eventbus: publishing %q: %w", ev.EventType, err)
	}
	return nil
}
