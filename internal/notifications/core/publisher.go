package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"notifyroute/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadLetterPublisher exports dead-lettered requests to an external sink.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, entry types.DeadLetterEntry) error
}

// SQSDeadLetterPublisher sends each DeadLetterEntry as a JSON message to an
// SQS queue so operators can inspect or replay it outside the process.
type SQSDeadLetterPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

var _ DeadLetterPublisher = (*SQSDeadLetterPublisher)(nil)

// NewSQSDeadLetterPublisher creates a publisher targeting queueURL.
func NewSQSDeadLetterPublisher(client SQSSender, queueURL string, logger types.Logger) *SQSDeadLetterPublisher {
	return &SQSDeadLetterPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// PublishDeadLetter serializes entry and sends it with channel and event
// message attributes for filtering.
func (p *SQSDeadLetterPublisher) PublishDeadLetter(ctx context.Context, entry types.DeadLetterEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dead-letter publisher: failed to marshal entry: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String(string(entry.Request.Channel))},
			"eventId": {DataType: aws.String("String"), StringValue: aws.String(entry.Request.EventID)},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("dead-letter publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("dead-letter entry published",
		"request_id", entry.Request.ID,
		"event_id", entry.Request.EventID,
		"channel", string(entry.Request.Channel),
		"retry_count", entry.Request.RetryCount,
	)
	return nil
}
