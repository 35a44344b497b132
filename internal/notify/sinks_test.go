package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	defer sink.client.CloseIdleConnections()
	err := sink.Send(context.Background(), "[HIGH] Flood alert: Assam", "body", "ops@example.com")
	require.NoError(t, err)

	assert.Equal(t, "[HIGH] Flood alert: Assam", got["subject"])
	assert.Equal(t, "ops@example.com", got["recipient"])
	assert.Equal(t, "body", got["body"])
}

func TestWebhookSink_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	defer sink.client.CloseIdleConnections()
	err := sink.Send(context.Background(), "s", "b", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeSNS struct {
	snsiface.SNSAPI
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) PublishWithContext(ctx aws.Context, in *sns.PublishInput, opts ...request.Option) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSNSSink_Publish(t *testing.T) {
	client := &fakeSNS{}
	sink := NewSNSSinkWithClient(client, "arn:aws:sns:us-east-1:123456789012:alerts")

	err := sink.Send(context.Background(), "[HIGH] Flood alert: Assam", "details", "ops@example.com")
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:alerts", aws.StringValue(client.input.TopicArn))
	assert.Equal(t, "details", aws.StringValue(client.input.Message))
	assert.Equal(t, "ops@example.com", aws.StringValue(client.input.MessageAttributes["recipient"].StringValue))
}

func TestSNSSink_Error(t *testing.T) {
	sink := NewSNSSinkWithClient(&fakeSNS{err: errors.New("throttled")}, "arn")
	err := sink.Send(context.Background(), "s", "b", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestSNSSubject(t *testing.T) {
	assert.Equal(t, "a b", snsSubject("a\nb"))
	long := strings.Repeat("x", 150)
	assert.Len(t, snsSubject(long), maxSNSSubject)
}
