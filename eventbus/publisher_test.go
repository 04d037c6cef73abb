package eventbus_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/eventbus"
)

func TestNewPublisher_RequiresQueueSource(t *testing.T) {
	t.Parallel()

	_, err := eventbus.NewPublisher(&mockSQS{})
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	sqsClient := &mockSQS{}
	pub, err := eventbus.NewPublisher(sqsClient, eventbus.WithQueueURL("https://sqs.example/bus"))
	require.NoError(t, err)

	var captured *sqs.SendMessageInput
	sqsClient.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		captured = in
		return true
	})).Return(&sqs.SendMessageOutput{}, nil)

	ev := eventbus.New("user_created", map[string]any{"user_id": "u-1"})
	require.NoError(t, pub.Submit(context.Background(), ev, 30))

	require.NotNil(t, captured)
	assert.Equal(t, "https://sqs.example/bus", aws.ToString(captured.QueueUrl))
	assert.Equal(t, int32(30), captured.DelaySeconds)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.MessageBody)), &decoded))
	assert.Equal(t, "user_created", decoded["event_type"])
	assert.Equal(t, ev.EventID, decoded["event_id"])
	sqsClient.AssertExpectations(t)
}

func TestSubmit_SendFailure(t *testing.T) {
	t.Parallel()

	sqsClient := &mockSQS{}
	pub, err := eventbus.NewPublisher(sqsClient, eventbus.WithQueueURL("https://sqs.example/bus"))
	require.NoError(t, err)

	sqsClient.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	err = pub.Submit(context.Background(), eventbus.New("user_created", nil), 0)
	assert.ErrorIs(t, err, assert.AnError)
}
