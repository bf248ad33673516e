package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"notifyroute/internal/app"
	"notifyroute/internal/config"
	"notifyroute/internal/queue"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	EventFlags
	AWS config.AWSConfig
}

// newSQSClient is replaced in tests.
var newSQSClient = func(ctx context.Context, cfg config.AWSConfig) (queue.SQSSender, error) {
	awsCfg, err := app.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Enqueue an event for the event worker",
		Long: `Validate an event and send it to the SQS ingestion queue. HIGH and
CRITICAL events go to the urgent queue when one is given.

Queue URLs default to SQS_EVENT_QUEUE and SQS_EVENT_QUEUE_URGENT.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(rootOpts, opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.AWS.EventQueueStandard, "queue-url", os.Getenv("SQS_EVENT_QUEUE"), "standard queue URL")
	cmd.Flags().StringVar(&opts.AWS.EventQueueUrgent, "urgent-queue-url", os.Getenv("SQS_EVENT_QUEUE_URGENT"), "urgent queue URL")
	cmd.Flags().StringVar(&opts.AWS.Region, "region", envOr("AWS_REGION", "us-east-1"), "AWS region")
	cmd.Flags().StringVar(&opts.AWS.EndpointURL, "endpoint-url", os.Getenv("AWS_ENDPOINT_URL"), "AWS endpoint override")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PublishResult is the json output of publish.
type PublishResult struct {
	EventID   string `json:"eventId"`
	MessageID string `json:"messageId"`
}

func runPublish(rootOpts *RootOptions, opts *PublishOptions, cmd *cobra.Command) error {
	ev, err := opts.event(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := newSQSClient(ctx, opts.AWS)
	if err != nil {
		return err
	}

	logger := slog.New(slog.DiscardHandler)
	if rootOpts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	}
	pub, err := queue.NewPublisher(client, opts.AWS, logger)
	if err != nil {
		return err
	}

	msgID, err := pub.Publish(ctx, ev, "notifyctl")
	if err != nil {
		return err
	}

	res := PublishResult{EventID: ev.ID, MessageID: msgID}
	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published event %s as message %s\n", res.EventID, res.MessageID)
	return nil
}
