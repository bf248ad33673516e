package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"notifyroute/internal/store"
	"notifyroute/internal/types"
)

const tracerName = "notifyroute/notifications"

// Router produces the requests for an event.
type Router interface {
	RouteEvent(ev types.Event) []types.NotificationRequest
	RuleCount() int
}

// Store is the entity store surface the orchestrator reads and writes.
type Store interface {
	DeliveryRepository
	SaveEvent(ev types.Event) error
	GetEvent(id string) (types.Event, bool)
	GetRequest(id string) (types.NotificationRequest, bool)
	RequestsForEvent(eventID string) []types.NotificationRequest
	FailedRequests() []types.NotificationRequest
	ListDeadLetter() []types.DeadLetterEntry
	Attempts(requestID string) []types.RetryAttempt
	Stats() store.Stats
}

// ServiceStats summarizes the store and routing configuration.
type ServiceStats struct {
	EventsProcessed   int             `json:"eventsProcessed"`
	TotalRequests     int             `json:"totalRequests"`
	NotificationsSent int             `json:"notificationsSent"`
	FailedDeliveries  int             `json:"failedDeliveries"`
	DeadLetterCount   int             `json:"deadLetterCount"`
	AvailableChannels []types.Channel `json:"availableChannels"`
	RoutingRules      int             `json:"routingRules"`
}

// ServiceHealth is the service block of HealthInfo.
type ServiceHealth struct {
	Status             string `json:"status"`
	ChannelsAvailable  int    `json:"channelsAvailable"`
	RoutingRulesActive int    `json:"routingRulesActive"`
	StorageType        string `json:"storageType"`
}

// HealthInfo is the nested readiness view.
type HealthInfo struct {
	Service    ServiceHealth            `json:"service"`
	Channels   map[types.Channel]string `json:"channels"`
	Statistics ServiceStats             `json:"statistics"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink. The default discards metrics.
func WithMetrics(m NotificationMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDeadLetterPublisher exports dead-lettered requests.
func WithDeadLetterPublisher(p DeadLetterPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock injects a clock.
func WithClock(c types.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithChannelTimeouts bounds each sender call per channel. Channels without
// an entry, or with a non-positive value, have no timeout.
func WithChannelTimeouts(t map[types.Channel]time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeouts = make(map[types.Channel]time.Duration, len(t))
		for ch, d := range t {
			o.timeouts[ch] = d
		}
	}
}

// WithDispatcher replaces the default dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithDeliveryManager replaces the store-backed DeliveryManager.
func WithDeliveryManager(dm DeliveryManager) Option {
	return func(o *Orchestrator) { o.deliveries = dm }
}

// Orchestrator persists events, routes them and fans requests out to the
// channel senders.
type Orchestrator struct {
	router     Router
	store      Store
	senders    *SenderRegistry
	deliveries DeliveryManager
	dispatcher *Dispatcher
	metrics    NotificationMetrics
	publisher  DeadLetterPublisher
	tracer     trace.Tracer
	clock      types.Clock
	timeouts   map[types.Channel]time.Duration
	logger     types.Logger
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(router Router, st Store, senders *SenderRegistry, logger types.Logger, opts ...Option) (*Orchestrator, error) {
	if router == nil || st == nil || senders == nil {
		return nil, errors.New("NewOrchestrator: router, store and senders are required")
	}
	if logger == nil {
		logger = types.NopLogger()
	}
	o := &Orchestrator{
		router:  router,
		store:   st,
		senders: senders,
		metrics: NoopMetrics{},
		tracer:  otel.Tracer(tracerName),
		clock:   types.RealClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deliveries == nil {
		o.deliveries = NewDeliveryManager(st, o.clock, logger)
	}
	if o.dispatcher == nil {
		o.dispatcher = NewDispatcher(context.Background(), DefaultMaxConcurrentDeliveries)
	}
	return o, nil
}

// ProcessEvent handles ev asynchronously. The returned Future always
// completes with an Outcome; it never carries an error. Cancelling ctx does
// not abort processing.
func (o *Orchestrator) ProcessEvent(ctx context.Context, ev types.Event) *Future[Outcome] {
	ctx = context.WithoutCancel(ctx)
	done := o.dispatcher.track()
	return goFuture(func() Outcome {
		defer done()
		return o.ProcessEventSync(ctx, ev)
	})
}

// ProcessEventSync stores ev, routes it and submits each request for
// delivery without waiting for the senders. The event is stored before
// routing, so it remains retrievable whatever the outcome.
func (o *Orchestrator) ProcessEventSync(ctx context.Context, ev types.Event) (out Outcome) {
	ev = ev.Normalize(o.clock)

	ctx, span := o.tracer.Start(ctx, "ProcessEvent", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.EventType),
		attribute.String("event.priority", string(ev.Priority)),
	))
	defer span.End()

	logger := o.logger.With("event_id", ev.ID, "event_type", ev.EventType)

	defer func() {
		if r := recover(); r != nil {
			out = o.errorOutcome(span, logger, ev.ID, fmt.Errorf("%v", r))
		}
		span.SetAttributes(attribute.String("outcome", string(out.Kind)))
		o.metrics.RecordEventOutcome(ctx, out.Kind)
	}()

	if err := o.store.SaveEvent(ev); err != nil {
		return o.errorOutcome(span, logger, ev.ID, err)
	}

	reqs := o.router.RouteEvent(ev)
	if len(reqs) == 0 {
		logger.Warn("no routing rules matched event")
		return Outcome{Kind: OutcomeUnrouted, Message: MessageUnrouted, EventID: ev.ID}
	}

	for _, req := range reqs {
		if err := o.deliveries.Register(ctx, req); err != nil {
			return o.errorOutcome(span, logger, ev.ID, err)
		}
		o.DeliverNotification(ctx, req)
	}

	logger.Info("event routed", "requests", len(reqs))
	return Outcome{Kind: OutcomeRouted, Message: MessageRouted, EventID: ev.ID, Requests: len(reqs)}
}

func (o *Orchestrator) errorOutcome(span trace.Span, logger types.Logger, eventID string, err error) Outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("event processing failed", "error", err.Error())
	return Outcome{Kind: OutcomeError, Message: fmt.Sprintf(messageErrorFmt, err.Error()), EventID: eventID}
}

// DeliverNotification submits req to the dispatcher and returns at once.
// The trace started in ctx is carried over; its cancellation is not.
func (o *Orchestrator) DeliverNotification(ctx context.Context, req types.NotificationRequest) {
	sc := trace.SpanContextFromContext(ctx)
	withSpan := func(base context.Context) context.Context {
		if sc.IsValid() {
			return trace.ContextWithSpanContext(base, sc)
		}
		return base
	}

	o.dispatcher.Submit(
		func(base context.Context) {
			_, _ = o.Deliver(withSpan(base), req)
		},
		func(base context.Context, err error) {
			reason := fmt.Sprintf("%s: %v", types.ReasonInterrupted, err)
			if _, ferr := o.deliveries.MarkFailed(withSpan(base), req.ID, reason); ferr != nil {
				o.logger.Error("failed to record rejected delivery", "request_id", req.ID, "error", ferr.Error())
			}
			o.metrics.RecordDelivery(base, req.Channel, MetricFailed)
		},
	)
}

// Deliver performs one delivery attempt for a stored PENDING request and
// records exactly one outcome for it.
func (o *Orchestrator) Deliver(ctx context.Context, req types.NotificationRequest) (types.NotificationRequest, error) {
	ctx, span := o.tracer.Start(ctx, "DeliverNotification", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("event.id", req.EventID),
		attribute.String("channel", string(req.Channel)),
		attribute.Int("retry_count", req.RetryCount),
	))
	defer span.End()

	current, ok := o.store.GetRequest(req.ID)
	if !ok {
		err := fmt.Errorf("Deliver: request %s: %w", req.ID, types.ErrNotFound)
		span.RecordError(err)
		return types.NotificationRequest{}, err
	}
	if current.Status != types.StatusPending {
		err := fmt.Errorf("Deliver: request %s is %s: %w", req.ID, current.Status, types.ErrInvalidTransition)
		span.RecordError(err)
		return current, err
	}

	sender, ok := o.senders.Get(current.Channel)
	if !ok {
		return o.fail(ctx, span, current, types.ReasonNoHandlerPrefix+string(current.Channel))
	}

	if d := o.timeouts[current.Channel]; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return o.fail(ctx, span, current, fmt.Sprintf("%s: %v", types.ReasonInterrupted, err))
	}

	start := time.Now()
	sent, err := invokeSender(ctx, sender, current)
	rec := context.WithoutCancel(ctx)
	o.metrics.RecordLatency(rec, current.Channel, time.Since(start))

	switch {
	case sent && err == nil:
		updated, merr := o.deliveries.MarkSent(rec, current.ID)
		if merr != nil {
			span.RecordError(merr)
			o.logger.Error("failed to record delivery success", "request_id", current.ID, "error", merr.Error())
			return current, merr
		}
		o.metrics.RecordDelivery(rec, current.Channel, MetricSuccess)
		return updated, nil
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return o.fail(ctx, span, current, fmt.Sprintf("%s: %v", types.ReasonInterrupted, ctx.Err()))
	case err != nil:
		return o.fail(ctx, span, current, err.Error())
	default:
		return o.fail(ctx, span, current, types.ReasonHandlerFalse)
	}
}

func invokeSender(ctx context.Context, s types.ChannelSender, req types.NotificationRequest) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			sent, err = false, fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return s.Send(ctx, req)
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, req types.NotificationRequest, reason string) (types.NotificationRequest, error) {
	span.SetStatus(codes.Error, reason)
	// The outcome write must land even if the attempt was cancelled.
	ctx = context.WithoutCancel(ctx)
	updated, err := o.deliveries.MarkFailed(ctx, req.ID, reason)
	if err != nil {
		span.RecordError(err)
		o.logger.Error("failed to record delivery failure", "request_id", req.ID, "error", err.Error())
		return req, err
	}
	o.metrics.RecordDelivery(ctx, req.Channel, MetricFailed)
	return updated, nil
}

// Requeue moves a FAILED request back to PENDING and submits it again.
func (o *Orchestrator) Requeue(ctx context.Context, requestID string) (types.NotificationRequest, error) {
	req, err := o.deliveries.Requeue(ctx, requestID)
	if err != nil {
		return types.NotificationRequest{}, fmt.Errorf("Requeue: %w", err)
	}
	o.DeliverNotification(ctx, req)
	return req, nil
}

// DeadLetter escalates a FAILED request and exports it when a publisher is
// configured. Publisher errors are logged, not returned.
func (o *Orchestrator) DeadLetter(ctx context.Context, requestID string) (types.DeadLetterEntry, error) {
	entry, err := o.deliveries.MarkDeadLetter(ctx, requestID)
	if err != nil {
		return types.DeadLetterEntry{}, fmt.Errorf("DeadLetter: %w", err)
	}
	o.metrics.RecordDeadLetter(ctx, entry.Request.Channel)

	if o.publisher != nil {
		if perr := o.publisher.PublishDeadLetter(ctx, entry); perr != nil {
			o.logger.Error("failed to publish dead-letter entry",
				"request_id", requestID,
				"error", perr.Error(),
			)
		}
	}
	return entry, nil
}

// Event returns a stored event.
func (o *Orchestrator) Event(eventID string) (types.Event, bool) {
	return o.store.GetEvent(eventID)
}

// DeliveryStatus reports the status of the event's first request. An event
// with no requests is PENDING. The second result is false for unknown events.
func (o *Orchestrator) DeliveryStatus(eventID string) (types.DeliveryStatus, bool) {
	if _, ok := o.store.GetEvent(eventID); !ok {
		return types.DeliveryStatus{}, false
	}
	reqs := o.store.RequestsForEvent(eventID)
	if len(reqs) == 0 {
		return types.PendingDeliveryStatus(eventID, o.clock.Now()), true
	}
	return types.DeliveryStatusFromRequest(reqs[0], o.store.Attempts(reqs[0].ID)), true
}

// AllDeliveryStatuses reports every request of the event. Unknown events
// yield an empty slice.
func (o *Orchestrator) AllDeliveryStatuses(eventID string) []types.DeliveryStatus {
	return o.statuses(o.store.RequestsForEvent(eventID))
}

// FailedDeliveries reports every FAILED or DEAD_LETTER request.
func (o *Orchestrator) FailedDeliveries() []types.DeliveryStatus {
	return o.statuses(o.store.FailedRequests())
}

func (o *Orchestrator) statuses(reqs []types.NotificationRequest) []types.DeliveryStatus {
	out := make([]types.DeliveryStatus, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, types.DeliveryStatusFromRequest(r, o.store.Attempts(r.ID)))
	}
	return out
}

// DeadLetters lists the dead-letter table.
func (o *Orchestrator) DeadLetters() []types.DeadLetterEntry {
	return o.store.ListDeadLetter()
}

// ServiceStats reports live counters and routing metadata.
func (o *Orchestrator) ServiceStats() ServiceStats {
	st := o.store.Stats()
	return ServiceStats{
		EventsProcessed:   st.Events,
		TotalRequests:     st.Requests,
		NotificationsSent: st.Sent,
		FailedDeliveries:  st.Failed,
		DeadLetterCount:   st.DeadLetters,
		AvailableChannels: o.senders.Channels(),
		RoutingRules:      o.router.RuleCount(),
	}
}

// HealthInfo reports readiness per channel together with ServiceStats.
func (o *Orchestrator) HealthInfo() HealthInfo {
	channels := o.senders.Statuses()
	return HealthInfo{
		Service: ServiceHealth{
			Status:             "healthy",
			ChannelsAvailable:  len(channels),
			RoutingRulesActive: o.router.RuleCount(),
			StorageType:        store.StorageType,
		},
		Channels:   channels,
		Statistics: o.ServiceStats(),
	}
}

// Wait blocks until every ProcessEvent call and every submitted delivery has
// finished.
func (o *Orchestrator) Wait() {
	o.dispatcher.Wait()
}
