package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/emailerror"
	"github.com/Notifuse/dispatch/pkg/logger"
)

const sendEmailResponse = `<SendEmailResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <SendEmailResult><MessageId>0100-abc</MessageId></SendEmailResult>
  <ResponseMetadata><RequestId>req-1</RequestId></ResponseMetadata>
</SendEmailResponse>`

const throttlingResponse = `<ErrorResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <Error><Type>Sender</Type><Code>Throttling</Code><Message>Maximum sending rate exceeded.</Message></Error>
  <RequestId>req-2</RequestId>
</ErrorResponse>`

type fakeSESClient struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSESClient) SendEmailWithContext(_ aws.Context, input *ses.SendEmailInput, _ ...request.Option) (*ses.SendEmailOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("0100-abc")}, nil
}

func TestNewSESSender_MissingCredentials(t *testing.T) {
	_, err := NewSESSender(config.SESConfig{Region: "us-east-1"}, logger.NewMockLogger())
	assert.ErrorIs(t, err, ErrInvalidAWSCredentials)
}

func TestSESSender_SendInput(t *testing.T) {
	client := &fakeSESClient{}
	sender := NewSESSenderWithClient(client, logger.NewMockLogger())
	assert.Equal(t, emailerror.TransportSES, sender.Transport())

	err := sender.Send(context.Background(), "ada@example.com", &domain.Payload{
		FromAddress: "news@example.org",
		FromName:    "Example News",
		ReplyTo:     "support@example.org",
		Subject:     "Weekly digest",
		HTML:        "<p>Hello Ada</p>",
	}, time.Second)
	require.NoError(t, err)

	input := client.input
	require.NotNil(t, input)
	assert.Equal(t, "Example News <news@example.org>", aws.StringValue(input.Source))
	assert.Equal(t, []string{"ada@example.com"}, aws.StringValueSlice(input.Destination.ToAddresses))
	assert.Equal(t, []string{"support@example.org"}, aws.StringValueSlice(input.ReplyToAddresses))
	assert.Equal(t, "Weekly digest", aws.StringValue(input.Message.Subject.Data))
	assert.Equal(t, "<p>Hello Ada</p>", aws.StringValue(input.Message.Body.Html.Data))
	assert.Equal(t, "Hello Ada", aws.StringValue(input.Message.Body.Text.Data))
}

func TestSESSender_TextOnly(t *testing.T) {
	client := &fakeSESClient{}
	sender := NewSESSenderWithClient(client, logger.NewMockLogger())

	err := sender.Send(context.Background(), "ada@example.com", &domain.Payload{FromAddress: "news@example.org", Text: "plain"}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "news@example.org", aws.StringValue(client.input.Source))
	assert.Nil(t, client.input.Message.Body.Html)
	assert.Nil(t, client.input.ReplyToAddresses)
	assert.Equal(t, "plain", aws.StringValue(client.input.Message.Body.Text.Data))
}

func TestSESSender_ClientError(t *testing.T) {
	client := &fakeSESClient{err: errors.New("boom")}
	sender := NewSESSenderWithClient(client, logger.NewMockLogger())

	err := sender.Send(context.Background(), "ada@example.com", &domain.Payload{FromAddress: "news@example.org", Text: "x"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send email with SES")
}

func TestSESSender_Endpoint(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		status   = http.StatusOK
		body     = sendEmailResponse
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())

		mu.Lock()
		requests++
		assert.Equal(t, "SendEmail", r.PostForm.Get("Action"))
		assert.Equal(t, "ada@example.com", r.PostForm.Get("Destination.ToAddresses.member.1"))
		assert.Equal(t, "Weekly digest", r.PostForm.Get("Message.Subject.Data"))
		assert.Equal(t, "news@example.org", r.PostForm.Get("Source"))
		code, response := status, body
		mu.Unlock()

		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(code)
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	sender, err := NewSESSender(config.SESConfig{
		Region:    "us-east-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Endpoint:  server.URL,
	}, logger.NewMockLogger())
	require.NoError(t, err)

	payload := &domain.Payload{FromAddress: "news@example.org", Subject: "Weekly digest", Text: "Hello"}

	t.Run("accepted", func(t *testing.T) {
		require.NoError(t, sender.Send(context.Background(), "ada@example.com", payload, 5*time.Second))
	})

	t.Run("throttled is not retried by the SDK", func(t *testing.T) {
		mu.Lock()
		status, body, requests = http.StatusBadRequest, throttlingResponse, 0
		mu.Unlock()

		err := sender.Send(context.Background(), "ada@example.com", payload, 5*time.Second)
		require.Error(t, err)

		var awsErr awserr.Error
		require.True(t, errors.As(err, &awsErr))
		assert.Equal(t, "Throttling", awsErr.Code())

		mu.Lock()
		assert.Equal(t, 1, requests)
		mu.Unlock()

		classified := emailerror.NewClassifier().Classify(err, emailerror.TransportSES)
		assert.Equal(t, emailerror.CategoryRateLimit, classified.Category)
	})
}
