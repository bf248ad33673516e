package types

// CloudWatch metric names and dimensions.
const (
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryAttemptLatency"
	MetricEventsProcessed = "EventsProcessed"
	MetricDeadLettered    = "DeadLettered"
	MetricAPIRequestCount = "APIRequestCount"
	MetricAPILatency      = "APILatency"

	DimChannel  = "Channel"
	DimResult   = "Result"
	DimOutcome  = "Outcome"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"

	DefaultMetricNamespace = "NotifyRoute"
)
