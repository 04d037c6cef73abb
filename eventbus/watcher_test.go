package eventbus_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/eventbus"
	"github.com/atelierhq/atelier/orm"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	err        error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ev *eventbus.Event, sub *eventbus.Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, sub.FunctionName)
	return nil
}

func subscriptionItem(eventType, functionName string, active bool) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"EventType":         &types.AttributeValueMemberS{Value: eventType},
		"FunctionName":      &types.AttributeValueMemberS{Value: functionName},
		"Active":            &types.AttributeValueMemberBOOL{Value: active},
		"GeneratesEvents":   &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		"RecordCreated":     &types.AttributeValueMemberN{Value: "1709294400"},
		"RecordLastUpdated": &types.AttributeValueMemberN{Value: "1709294400"},
	}
}

func newTestWatcher(t *testing.T, db *mockDB, dispatcher eventbus.Dispatcher, withResponder bool) *eventbus.Watcher {
	t.Helper()

	subs, err := eventbus.NewSubscriptions(db, orm.WithTableName("subs"))
	require.NoError(t, err)

	var responder *eventbus.Responder
	if withResponder {
		responder, err = eventbus.NewResponderWithOptions(db, []orm.ClientOption{orm.WithTableName("responses")})
		require.NoError(t, err)
	}

	watcher, err := eventbus.NewWatcher(&mockSQS{}, "https://sqs.example/bus", subs, dispatcher, responder)
	require.NoError(t, err)
	return watcher
}

func TestHandleBody_DispatchesToSubscribers(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	dispatcher := &fakeDispatcher{}
	watcher := newTestWatcher(t, db, dispatcher, false)

	db.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			subscriptionItem("user_created", "send_welcome_email", true),
			subscriptionItem("user_created", "provision_account", true),
		},
	}, nil)

	ev := eventbus.New("user_created", map[string]any{"user_id": "u-1"})
	raw, err := ev.JSON()
	require.NoError(t, err)

	require.NoError(t, watcher.HandleBody(context.Background(), string(raw)))
	assert.Equal(t, []string{"send_welcome_email", "provision_account"}, dispatcher.dispatched)
}

func TestHandleBody_NoRouteRecordsResponse(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	dispatcher := &fakeDispatcher{}
	watcher := newTestWatcher(t, db, dispatcher, true)

	db.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	ev := eventbus.New("orphan_event", nil)
	raw, err := ev.JSON()
	require.NoError(t, err)

	require.NoError(t, watcher.HandleBody(context.Background(), string(raw)))

	require.NotNil(t, captured)
	status, ok := captured.Item["ResponseStatus"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, string(eventbus.StatusNoRoute), status.Value)
	assert.Empty(t, dispatcher.dispatched)
}

func TestHandleBody_AllDispatchesFailed(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	dispatcher := &fakeDispatcher{err: assert.AnError}
	watcher := newTestWatcher(t, db, dispatcher, false)

	db.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			subscriptionItem("user_created", "send_welcome_email", true),
		},
	}, nil)

	ev := eventbus.New("user_created", nil)
	raw, err := ev.JSON()
	require.NoError(t, err)

	assert.Error(t, watcher.HandleBody(context.Background(), string(raw)))
}

func TestHandleBody_UndecodableMessageIsDiscarded(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	watcher := newTestWatcher(t, db, &fakeDispatcher{}, false)

	assert.NoError(t, watcher.HandleBody(context.Background(), "not json"))
}
