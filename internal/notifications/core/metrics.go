package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"notifyroute/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchNotificationMetrics implements NotificationMetrics.
var _ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)

// CloudWatchNotificationMetrics emits delivery metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Channel, Result}, on every delivery outcome
//   - DeliveryAttemptLatency: Dims {Channel}, time spent in the sender
//   - EventsProcessed: Dims {Outcome}, once per ProcessEvent
//   - DeadLettered: Dims {Channel}, on dead-letter escalation
//
// Errors from CloudWatch are logged and dropped.
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics creates a CloudWatchNotificationMetrics
// publishing to namespace. An empty namespace uses types.DefaultMetricNamespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	if namespace == "" {
		namespace = types.DefaultMetricNamespace
	}
	return &CloudWatchNotificationMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchNotificationMetrics) put(ctx context.Context, datum cwtypes.MetricDatum, logArgs ...any) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		args := append([]any{"error", err.Error(), "metric", aws.ToString(datum.MetricName)}, logArgs...)
		m.logger.Error("failed to record metric", args...)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// RecordDelivery emits DeliveryAttempt with Channel and Result dimensions.
func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, channel types.Channel, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimChannel, string(channel)),
			dim(types.DimResult, string(result)),
		},
	}, "channel", string(channel), "result", string(result))
}

// RecordLatency emits the sender latency in milliseconds.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, channel types.Channel, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimChannel, string(channel))},
	}, "channel", string(channel), "duration_ms", duration.Milliseconds())
}

// RecordEventOutcome counts processed events by outcome.
func (m *CloudWatchNotificationMetrics) RecordEventOutcome(ctx context.Context, kind OutcomeKind) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricEventsProcessed),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimOutcome, string(kind))},
	}, "outcome", string(kind))
}

// RecordDeadLetter counts dead-letter escalations per channel.
func (m *CloudWatchNotificationMetrics) RecordDeadLetter(ctx context.Context, channel types.Channel) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeadLettered),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimChannel, string(channel))},
	}, "channel", string(channel))
}

// RecordRequest emits APIRequestCount and APILatency for one HTTP request.
// endpoint should be the route pattern, not the raw path.
func (m *CloudWatchNotificationMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAPIRequestCount),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(types.MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}
	// The request context is already done by the time the middleware records.
	if _, err := m.client.PutMetricData(context.Background(), input); err != nil {
		m.logger.Error("failed to record request metrics",
			"error", err.Error(),
			"endpoint", endpoint,
		)
	}
}

// NoopMetrics discards every metric. Used when METRICS_ENABLED is false.
type NoopMetrics struct{}

var _ NotificationMetrics = NoopMetrics{}

func (NoopMetrics) RecordDelivery(context.Context, types.Channel, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.Channel, time.Duration) {}
func (NoopMetrics) RecordEventOutcome(context.Context, OutcomeKind)             {}
func (NoopMetrics) RecordDeadLetter(context.Context, types.Channel)             {}
func (NoopMetrics) RecordRequest(string, string, string, time.Duration)         {}
