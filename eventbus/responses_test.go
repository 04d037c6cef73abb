package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/eventbus"
	"github.com/atelierhq/atelier/orm"
)

func newTestResponder(t *testing.T, db *mockDB) *eventbus.Responder {
	t.Helper()
	responder, err := eventbus.NewResponderWithOptions(db, []orm.ClientOption{orm.WithTableName("responses")})
	require.NoError(t, err)
	return responder
}

func TestRecord_Success(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	responder := newTestResponder(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	ev := eventbus.New("user_created", map[string]any{"user_id": "u-1"})
	require.NoError(t, responder.Record(context.Background(), ev, eventbus.StatusSuccess, "", ""))

	require.NotNil(t, captured)

	status := captured.Item["ResponseStatus"].(*types.AttributeValueMemberS)
	assert.Equal(t, "SUCCESS", status.Value)

	originating := captured.Item["OriginatingEventId"].(*types.AttributeValueMemberS)
	assert.Equal(t, ev.EventID, originating.Value)

	// No failure fields on a success record.
	reason := captured.Item["FailureReason"].(*types.AttributeValueMemberS)
	assert.Empty(t, reason.Value)
}

func TestRecord_FailureExtendsRetention(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	responder := newTestResponder(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	ev := eventbus.New("user_created", nil)
	require.NoError(t, responder.Record(context.Background(), ev, eventbus.StatusFailure, "boom", "stack"))

	require.NotNil(t, captured)

	reason := captured.Item["FailureReason"].(*types.AttributeValueMemberS)
	assert.Equal(t, "boom", reason.Value)

	ttlAttr, ok := captured.Item["TimeToLive"].(*types.AttributeValueMemberN)
	require.True(t, ok)

	def := eventbus.ResponsesTableDefinition()
	attr, found := def.AttributeNamed("time_to_live")
	require.True(t, found)

	val, err := attr.Value(ttlAttr)
	require.NoError(t, err)
	ttl := val.(time.Time)
	assert.WithinDuration(t, time.Now().UTC().Add(48*time.Hour), ttl, time.Minute)
}

func TestWrapSQSHandler_RecordsSuccess(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	responder := newTestResponder(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	var handled []string
	handler := eventbus.WrapSQSHandler(func(ctx context.Context, ev *eventbus.Event) error {
		handled = append(handled, ev.EventType)
		return nil
	}, eventbus.HandlerOptions{FunctionName: "send_welcome_email", Responder: responder})

	ev := eventbus.New("user_created", nil)
	raw, err := ev.JSON()
	require.NoError(t, err)

	err = handler(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "m-1", Body: string(raw)}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"user_created"}, handled)
	require.NotNil(t, captured)
	status := captured.Item["ResponseStatus"].(*types.AttributeValueMemberS)
	assert.Equal(t, "SUCCESS", status.Value)
}

func TestWrapSQSHandler_RecordsFailureAndSwallows(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	responder := newTestResponder(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	handler := eventbus.WrapSQSHandler(func(ctx context.Context, ev *eventbus.Event) error {
		return assert.AnError
	}, eventbus.HandlerOptions{FunctionName: "send_welcome_email", Responder: responder})

	ev := eventbus.New("user_created", nil)
	raw, err := ev.JSON()
	require.NoError(t, err)

	err = handler(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{Body: string(raw)}},
	})
	assert.NoError(t, err)

	require.NotNil(t, captured)
	status := captured.Item["ResponseStatus"].(*types.AttributeValueMemberS)
	assert.Equal(t, "FAILURE", status.Value)
}

func TestWrapSQSHandler_ReraisePropagates(t *testing.T) {
	t.Parallel()

	handler := eventbus.WrapSQSHandler(func(ctx context.Context, ev *eventbus.Event) error {
		return assert.AnError
	}, eventbus.HandlerOptions{Reraise: true})

	ev := eventbus.New("user_created", nil)
	raw, err := ev.JSON()
	require.NoError(t, err)

	err = handler(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{Body: string(raw)}},
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWrapSQSHandler_RecoversPanics(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	responder := newTestResponder(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	handler := eventbus.WrapSQSHandler(func(ctx context.Context, ev *eventbus.Event) error {
		panic("unexpected state")
	}, eventbus.HandlerOptions{Responder: responder})

	ev := eventbus.New("user_created", nil)
	raw, err := ev.JSON()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_ = handler(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{Body: string(raw)}},
		})
	})

	require.NotNil(t, captured)
	traceback := captured.Item["FailureTraceback"].(*types.AttributeValueMemberS)
	assert.Contains(t, traceback.Value, "goroutine")
}

func TestResponseEvent_Rerun(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	responder := newTestResponder(t, db)

	var stored map[string]types.AttributeValue
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		stored = in.Item
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	ev := eventbus.New("user_created", map[string]any{"user_id": "u-1"})
	require.NoError(t, responder.Record(context.Background(), ev, eventbus.StatusFailure, "boom", "stack"))
	require.NotNil(t, stored)

	db.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: stored}, nil)

	resp, err := responder.Get(context.Background(), ev.EventType, resolveResponseID(t, stored))
	require.NoError(t, err)

	rebuilt, err := resp.Event()
	require.NoError(t, err)
	assert.Equal(t, ev.EventType, rebuilt.EventType)
	assert.Equal(t, ev.EventID, rebuilt.EventID)
	assert.Equal(t, "u-1", rebuilt.Body["user_id"])

	sqsClient := &mockSQS{}
	var sent *sqs.SendMessageInput
	sqsClient.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		sent = in
		return true
	})).Return(&sqs.SendMessageOutput{}, nil)

	publisher, err := eventbus.NewPublisher(sqsClient, eventbus.WithQueueURL("https://sqs.example/queue"))
	require.NoError(t, err)
	require.NoError(t, publisher.Submit(context.Background(), rebuilt, 0))

	require.NotNil(t, sent)
	resent, err := eventbus.FromJSON([]byte(*sent.MessageBody))
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, resent.EventID)
	assert.Equal(t, ev.EventType, resent.EventType)
}

func resolveResponseID(t *testing.T, item map[string]types.AttributeValue) string {
	t.Helper()
	id, ok := item["ResponseId"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	return id.Value
}
