package trap_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/orm"
	"github.com/atelierhq/atelier/trap"
)

type mockDB struct {
	mock.Mock
}

func (m *mockDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *mockDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

func (m *mockDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DeleteItemOutput), args.Error(1)
}

func (m *mockDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateItemOutput), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *mockDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.ScanOutput), args.Error(1)
}

func (m *mockDB) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.CreateTableOutput), args.Error(1)
}

func newTestReporter(t *testing.T, db *mockDB) *trap.Reporter {
	t.Helper()
	reporter, err := trap.NewReporter(db, orm.WithTableName("trapped"))
	require.NoError(t, err)
	return reporter
}

func TestReport(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	reporter := newTestReporter(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	err := reporter.Report(context.Background(), &trap.ReportedException{
		FunctionName:     "send_welcome_email",
		Exception:        "connection refused",
		Traceback:        "stack here",
		OriginatingEvent: map[string]any{"event_type": "user_created"},
	})
	require.NoError(t, err)

	require.NotNil(t, captured)

	fn := captured.Item["FunctionName"].(*types.AttributeValueMemberS)
	assert.Equal(t, "send_welcome_email", fn.Value)

	exc := captured.Item["Exception"].(*types.AttributeValueMemberS)
	assert.Equal(t, "connection refused", exc.Value)

	// The exception id defaults to a generated uuid.
	id, ok := captured.Item["ExceptionId"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.NotEmpty(t, id.Value)

	// A week of retention lands on the record by default.
	ttl, ok := captured.Item["TimeToLive"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.NotEqual(t, "0", ttl.Value)
}

func TestEnabled_EnvVarWins(t *testing.T) {
	t.Setenv(trap.EnabledVar, "true")
	assert.True(t, trap.Enabled(context.Background(), nil))

	t.Setenv(trap.EnabledVar, "false")
	assert.False(t, trap.Enabled(context.Background(), nil))
}

func TestEnabled_DefaultsOff(t *testing.T) {
	t.Setenv(trap.EnabledVar, "")
	assert.False(t, trap.Enabled(context.Background(), nil))
}

func TestWrapHandler_ReportsError(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	reporter := newTestReporter(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	handler := trap.WrapHandler(func(ctx context.Context, payload json.RawMessage) (any, error) {
		return nil, assert.AnError
	}, reporter, trap.WrapOptions{FunctionName: "worker"})

	_, err := handler(context.Background(), json.RawMessage(`{"event_type": "user_created"}`))
	assert.NoError(t, err)

	require.NotNil(t, captured)
	fn := captured.Item["FunctionName"].(*types.AttributeValueMemberS)
	assert.Equal(t, "worker", fn.Value)
}

func TestWrapHandler_Reraise(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	reporter := newTestReporter(t, db)

	db.On("PutItem", mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil)

	handler := trap.WrapHandler(func(ctx context.Context, payload json.RawMessage) (any, error) {
		return nil, assert.AnError
	}, reporter, trap.WrapOptions{FunctionName: "worker", Reraise: true})

	_, err := handler(context.Background(), nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	reporter := newTestReporter(t, db)

	var captured *dynamodb.PutItemInput
	db.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		captured = in
		return true
	})).Return(&dynamodb.PutItemOutput{}, nil)

	handler := trap.WrapHandler(func(ctx context.Context, payload json.RawMessage) (any, error) {
		panic("bad state")
	}, reporter, trap.WrapOptions{FunctionName: "worker"})

	assert.NotPanics(t, func() {
		_, err := handler(context.Background(), nil)
		assert.NoError(t, err)
	})

	require.NotNil(t, captured)
	traceback := captured.Item["ExceptionTraceback"].(*types.AttributeValueMemberS)
	assert.Contains(t, traceback.Value, "goroutine")
}

func TestWrapHandler_SuccessPassesThrough(t *testing.T) {
	t.Parallel()

	handler := trap.WrapHandler(func(ctx context.Context, payload json.RawMessage) (any, error) {
		return "done", nil
	}, nil, trap.WrapOptions{FunctionName: "worker"})

	result, err := handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}
