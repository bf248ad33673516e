// Package main is the entrypoint for the Event Worker Lambda function.
//
// The worker consumes events from an SQS queue and runs each one through the
// same routing and delivery pipeline as POST /v1/events. Message bodies use
// the API's event JSON.
//
// Per message:
//
//  1. Unmarshal the event. Malformed bodies are logged and acknowledged.
//  2. Normalize and validate. Invalid events are logged and acknowledged.
//  3. Skip redeliveries of an event this instance already routed. Bodies
//     without an eventId take the SQS message ID, so redeliveries keep one ID.
//  4. Route and dispatch. Only an internal failure reports the message as a
//     batch item failure so SQS redelivers it.
//
// Deliveries are drained before the handler returns because Lambda may freeze
// the process as soon as it does.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"notifyroute/internal/api/handlers"
	"notifyroute/internal/app"
	"notifyroute/internal/config"
	ncore "notifyroute/internal/notifications/core"
	"notifyroute/internal/types"
)

// Handler holds the dependencies of the SQS handler.
type Handler struct {
	app    *app.App
	clock  types.Clock
	logger *slog.Logger
}

func newHandler(a *app.App, clock types.Clock, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Handler{app: a, clock: clock, logger: logger}
}

// Handle processes a batch and reports partial failures.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	if err := h.app.Drain(ctx); err != nil {
		h.logger.Warn("deliveries still in flight at handler deadline", "error", err.Error())
	}
	return response, nil
}

// processMessage returns an error only when the message should be retried.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	logger := h.logger.With("message_id", record.MessageId)

	var req handlers.CreateEventRequest
	if err := json.Unmarshal([]byte(record.Body), &req); err != nil {
		logger.Error("failed to unmarshal event message", "error", err.Error())
		return nil
	}

	if req.EventID == "" {
		req.EventID = record.MessageId
	}
	ev := req.ToEvent().Normalize(h.clock)
	if err := types.ValidateEvent(ev); err != nil {
		logger.Warn("dropping invalid event", "event_id", ev.ID, "error", err.Error())
		return nil
	}

	// An event stored by a failed attempt has no requests and is routed again.
	if len(h.app.Store.RequestsForEvent(ev.ID)) > 0 {
		logger.Info("event already routed, skipping", "event_id", ev.ID)
		return nil
	}

	out := h.app.Orchestrator.ProcessEventSync(ctx, ev)
	logger.Info("event processed",
		"event_id", out.EventID,
		"outcome", string(out.Kind),
		"requests", out.Requests,
	)
	if out.Kind == ncore.OutcomeError {
		return errors.New(out.Message)
	}
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	h, err := setup(context.Background(), logger)
	if err != nil {
		logger.Error("event worker initialization failed", "error", err.Error())
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}

func setup(ctx context.Context, logger *slog.Logger) (*Handler, error) {
	var secrets config.SecretProvider
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		secrets = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.Load(secrets)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	// A scan loop would not survive between invocations.
	cfg.Retry.Enabled = false

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("assembling service: %w", err)
	}
	logger.Info("event worker initialized",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)
	return newHandler(a, types.RealClock{}, logger), nil
}
