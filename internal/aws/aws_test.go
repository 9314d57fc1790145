package aws

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-sync/pkg/errors"
)

type fakeSSM struct {
	values map[string]string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

type fakeSQS struct {
	mu       sync.Mutex
	failures int
	bodies   []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("throttled")
	}
	f.bodies = append(f.bodies, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

type rawEvent string

func (e rawEvent) Serialize() []byte { return []byte(e) }
func (e rawEvent) Topic() string     { return "wallet_state" }

func TestGetParameterValue(t *testing.T) {
	c := &Clients{ssmClient: &fakeSSM{values: map[string]string{"/wallet-sync/project_id": "p1"}}}

	v, err := c.GetParameterValue(context.Background(), "/wallet-sync/project_id")
	require.NoError(t, err)
	assert.Equal(t, "p1", v)

	_, err = c.GetParameterValue(context.Background(), "/missing")
	assert.Error(t, err)
}

func TestQueueSinkRetries(t *testing.T) {
	fake := &fakeSQS{failures: 2}
	c := &Clients{sqsClient: fake}

	require.NoError(t, c.QueueSink("https://sqs/q").Publish(context.Background(), rawEvent(`{"connected":true}`)))
	assert.Equal(t, []string{`{"connected":true}`}, fake.bodies)
}

func TestQueueSinkGivesUp(t *testing.T) {
	fake := &fakeSQS{failures: sendTries}
	c := &Clients{sqsClient: fake}

	assert.Error(t, c.QueueSink("https://sqs/q").Publish(context.Background(), rawEvent("x")))
	assert.Empty(t, fake.bodies)
}

func TestNewRequiresRegion(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}
