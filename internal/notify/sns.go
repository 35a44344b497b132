package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
)

// SNS rejects subjects of 100 characters or more and any line breaks.
const maxSNSSubject = 99

// SNSSink publishes notifications to an SNS topic. The recipient travels as
// a message attribute so subscribers can filter on it.
type SNSSink struct {
	client   snsiface.SNSAPI
	topicARN string
}

func NewSNSSink(region, topicARN string) (*SNSSink, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return NewSNSSinkWithClient(sns.New(sess), topicARN), nil
}

func NewSNSSinkWithClient(client snsiface.SNSAPI, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func (s *SNSSink) Name() string { return "sns" }

func (s *SNSSink) Send(ctx context.Context, subject, body, recipient string) error {
	_, err := s.client.PublishWithContext(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(snsSubject(subject)),
		Message:  aws.String(body),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"recipient": {
				DataType:    aws.String("String"),
				StringValue: aws.String(recipient),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

func snsSubject(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	if len(s) > maxSNSSubject {
		s = s[:maxSNSSubject]
	}
	return s
}
