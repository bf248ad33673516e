// Package queue publishes events to the SQS ingestion queues consumed by the
// event worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"notifyroute/internal/config"
	"notifyroute/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ErrNoQueue is returned by NewPublisher when no standard queue is configured.
var ErrNoQueue = errors.New("queue: SQS_EVENT_QUEUE is not configured")

// Publisher enqueues events for the event worker.
//
// Queue routing:
//   - HIGH and CRITICAL -> Urgent queue, if configured
//   - everything else   -> Standard queue
type Publisher struct {
	client           SQSSender
	urgentQueueURL   string
	standardQueueURL string
	logger           *slog.Logger
}

// NewPublisher reads the queue URLs from awsCfg.
func NewPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) (*Publisher, error) {
	if awsCfg.EventQueueStandard == "" {
		return nil, ErrNoQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:           client,
		urgentQueueURL:   awsCfg.EventQueueUrgent,
		standardQueueURL: awsCfg.EventQueueStandard,
		logger:           logger,
	}, nil
}

func (p *Publisher) queueURLFor(ev types.Event) string {
	if p.urgentQueueURL != "" && (ev.Priority == types.PriorityHigh || ev.Priority == types.PriorityCritical) {
		return p.urgentQueueURL
	}
	return p.standardQueueURL
}

// Publish sends ev, which must already be normalized, and returns the SQS
// message ID. source is recorded as a message attribute.
func (p *Publisher) Publish(ctx context.Context, ev types.Event, source string) (string, error) {
	queueURL := p.queueURLFor(ev)

	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal event: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		"event_type": {DataType: aws.String("String"), StringValue: aws.String(ev.EventType)},
		"priority":   {DataType: aws.String("String"), StringValue: aws.String(string(ev.Priority))},
	}
	if source != "" {
		attrs["source"] = sqsTypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(source)}
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("queue: failed to send event %s to %s: %w", ev.ID, queueURL, err)
	}

	messageID := aws.ToString(out.MessageId)
	p.logger.InfoContext(ctx, "event enqueued",
		"queue_url", queueURL,
		"event_id", ev.ID,
		"event_type", ev.EventType,
		"priority", string(ev.Priority),
		"message_id", messageID,
		"source", source,
	)
	return messageID, nil
}
