package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/rs/zerolog"

	"github.com/yairfalse/siivous/internal/telemetry"
)

// Log writes notices to the structured log.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log notifier.
func NewLog() *Log {
	return &Log{logger: telemetry.NewLogger("notify")}
}

// Notify implements Notifier.
func (l *Log) Notify(ctx context.Context, n Notice) error {
	l.logger.Info().Ctx(ctx).
		Str("resource", n.Resource.ID).
		Str("name", n.Resource.DisplayName()).
		Str("kind", string(n.Resource.Kind)).
		Str("scope", n.Resource.Scope().ID()).
		Str("op", string(n.Op)).
		Str("reason", n.Reason).
		Msg(n.Subject())
	return nil
}

// SESAPI is the subset of the SES v2 client used for notices.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES mails notices through Amazon SES.
type SES struct {
	client SESAPI
	from   string
	to     []string
}

// NewSES creates an SES notifier.
func NewSES(client SESAPI, from string, to []string) *SES {
	return &SES{client: client, from: from, to: to}
}

// Notify implements Notifier.
func (s *SES) Notify(ctx context.Context, n Notice) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &sestypes.Destination{ToAddresses: s.to},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(n.Subject())},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(n.Body())},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}

// SNSAPI is the subset of the SNS client used for notices.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes notices to a topic.
type SNS struct {
	client   SNSAPI
	topicARN string
}

// NewSNS creates an SNS notifier.
func NewSNS(client SNSAPI, topicARN string) *SNS {
	return &SNS{client: client, topicARN: topicARN}
}

// Notify implements Notifier.
func (s *SNS) Notify(ctx context.Context, n Notice) error {
	subject := truncateRunes(n.Subject(), snsSubjectMax)

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(n.Body()),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"kind":  {DataType: aws.String("String"), StringValue: aws.String(string(n.Resource.Kind))},
			"scope": {DataType: aws.String("String"), StringValue: aws.String(n.Resource.Scope().ID())},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// snsSubjectMax keeps subjects under the 100 character SNS limit.
const snsSubjectMax = 99

// truncateRunes cuts s to at most n characters without splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
