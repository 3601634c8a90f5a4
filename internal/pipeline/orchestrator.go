package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/capability"
	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/schema"
)

const instrumentationName = "github.com/fyrsmithlabs/assessd/internal/pipeline"

// maxRejectionFeedback caps the feedback carried on a rejected artifact.
const maxRejectionFeedback = 3

// Orchestrator runs generation requests. It holds only immutable
// collaborators, so concurrent Run calls share no mutable state.
type Orchestrator struct {
	ports       capability.Ports
	validator   *schema.Validator
	gate        *gate.Evaluator
	logger      *logging.Logger
	now         func() time.Time
	portTimeout time.Duration
	metrics     *Metrics
	tracer      trace.Tracer
	meter       metric.Meter
	runsCounter metric.Int64Counter
	progress    ProgressCallback
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPortTimeout bounds every port call. Zero disables the bound.
func WithPortTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.portTimeout = d }
}

// WithMetrics enables Prometheus run metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTelemetry sets the tracer and meter. Both default to the global
// OpenTelemetry providers.
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithProgress registers a callback invoked on every state transition.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// New creates an orchestrator over ports. A nil validator or evaluator uses
// the default limits and thresholds.
func New(ports capability.Ports, validator *schema.Validator, evaluator *gate.Evaluator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		validator: validator,
		gate:      evaluator,
		logger:    logging.NewNop(),
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.validator == nil {
		o.validator = schema.NewValidator(schema.DefaultLimits())
	}
	if o.gate == nil {
		o.gate = gate.NewEvaluator(gate.DefaultThresholds())
	}
	o.ports = capability.WithTimeout(ports, o.portTimeout)

	var err error
	o.runsCounter, err = o.meter.Int64Counter(
		"assessd.pipeline.runs",
		metric.WithDescription("Finalized generation runs by status and reason."),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		o.logger.Warn(context.Background(), "failed to create runs counter", zap.Error(err))
	}
	return o
}

// Run executes one governed generation. It returns an error only when in
// fails validation (content.ErrInvalidInput); every other outcome, including
// port failures and cancellation, is a finalized artifact.
func (o *Orchestrator) Run(ctx context.Context, in content.RunInput) (*content.RunArtifact, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.Topic = strings.TrimSpace(in.Topic)

	art := content.NewRunArtifact(in, o.now())
	ctx = logging.WithRunID(ctx, art.RunID)
	ctx = logging.WithRequesterID(ctx, in.RequesterID)

	ctx, span := o.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run.id", art.RunID),
		attribute.Int("run.grade", in.Grade),
	))
	defer span.End()

	if o.metrics != nil {
		o.metrics.RunsInFlight.Inc()
		defer o.metrics.RunsInFlight.Dec()
	}

	o.logger.Info(ctx, "run started", zap.Int("grade", in.Grade), zap.String("topic", in.Topic))

	r := &run{o: o, art: art, rec: NewRecorder(o.now), state: StateStart, entered: o.now()}
	r.execute(ctx)
	o.finished(ctx, span, art)
	return art, nil
}

func (o *Orchestrator) finished(ctx context.Context, span trace.Span, art *content.RunArtifact) {
	status := string(art.Final.Status)
	code := content.ReasonCode(art.Final.RejectionReason)

	span.SetAttributes(
		attribute.String("run.status", status),
		attribute.Int("run.attempts", len(art.Attempts)),
	)
	if art.Final.Status == content.StatusRejected {
		span.SetAttributes(attribute.String("run.rejection_reason", art.Final.RejectionReason))
	}

	if o.metrics != nil {
		o.metrics.RunsTotal.WithLabelValues(status, code).Inc()
		o.metrics.AttemptsPerRun.Observe(float64(len(art.Attempts)))
	}
	if o.runsCounter != nil {
		o.runsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("reason", code),
		))
	}

	if err := art.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "artifact invariant broken")
		o.logger.Error(ctx, "finalized artifact failed validation", zap.Error(err))
	}

	o.logger.Info(ctx, "run finalized",
		zap.String("status", status),
		zap.String("reason", art.Final.RejectionReason),
		zap.Int("attempts", len(art.Attempts)),
		zap.Float64("duration_seconds", art.Timestamps.DurationSeconds),
	)
}

// run is the mutable state of a single execution.
type run struct {
	o           *Orchestrator
	art         *content.RunArtifact
	rec         *Recorder
	state       State
	entered     time.Time
	divergences []string
}

func (r *run) execute(ctx context.Context) {
	in := r.art.Input

	draft, err := r.draftWithRetry(ctx, capability.KindGeneration, StateGenerating, func(ctx context.Context) (content.Draft, error) {
		return r.o.ports.Generate(ctx, in.Grade, in.Topic)
	})
	if err != nil {
		r.reject(ctx, r.reasonFor(ctx, capability.KindGeneration, err), nil, err)
		return
	}

	idx, err := r.rec.Begin(draft, 0)
	if err != nil {
		r.reject(ctx, content.ReasonGenerationFailed, nil, err)
		return
	}

	refinements := 0
	for {
		if err := r.transition(ctx, StateReviewing); err != nil {
			r.reject(ctx, content.ReasonCancelled, nil, err)
			return
		}

		review, decision, err := r.review(ctx, draft, idx)
		if err != nil {
			r.reject(ctx, r.reasonFor(ctx, capability.KindReview, err), nil, err)
			return
		}
		if err := r.rec.RecordReview(idx, review); err != nil {
			r.reject(ctx, content.AgentErrorReason(string(capability.KindReview)), nil, err)
			return
		}
		if decision.Pass {
			break
		}
		if refinements == MaxRefinements {
			r.reject(ctx, content.ReasonMaxRefinementsExceeded, rejectionFeedback(review.Feedback), nil)
			return
		}

		refinements++
		prior, prevIdx := draft, idx
		req := capability.RefineRequest{
			Draft:    prior,
			Review:   review,
			Feedback: refinementFeedback(review, decision),
			Grade:    in.Grade,
			Topic:    in.Topic,
			Attempt:  prevIdx + 1,
		}
		draft, err = r.draftWithRetry(ctx, capability.KindRefinement, StateRefining, func(ctx context.Context) (content.Draft, error) {
			return r.o.ports.Refine(ctx, req)
		})
		if err != nil {
			r.reject(ctx, r.reasonFor(ctx, capability.KindRefinement, err), nil, err)
			return
		}
		if idx, err = r.rec.Begin(draft, prevIdx); err != nil {
			r.reject(ctx, content.ReasonRefinementFailed, nil, err)
			return
		}
	}

	if err := r.transition(ctx, StateTagging); err != nil {
		r.reject(ctx, content.ReasonCancelled, nil, err)
		return
	}
	tags, err := r.tag(ctx, draft)
	if err != nil {
		r.reject(ctx, r.reasonFor(ctx, capability.KindTagging, err), nil, err)
		return
	}
	r.approve(ctx, draft, tags)
}

// draftWithRetry calls produce and validates its draft. A schema failure or
// a failure of the expected kind is retried exactly once; the retry
// re-invokes the port.
func (r *run) draftWithRetry(ctx context.Context, kind capability.Kind, state State, produce func(context.Context) (content.Draft, error)) (content.Draft, error) {
	var lastErr error
	for try := 1; try <= 2; try++ {
		if err := r.transition(ctx, state); err != nil {
			return content.Draft{}, err
		}

		draft, err := r.produce(ctx, kind, produce)
		if err == nil {
			if err = r.transition(ctx, StateValidating); err != nil {
				return content.Draft{}, err
			}
			if err = r.o.validator.Validate(draft, r.art.Input.Grade); err == nil {
				return draft, nil
			}
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(kind, err) {
			return content.Draft{}, err
		}
		if try == 1 {
			r.o.logger.Warn(ctx, "retrying port call",
				zap.String("kind", string(kind)),
				zap.Bool("schema", schema.IsSchemaError(err)),
				zap.Error(err),
			)
			if r.o.metrics != nil {
				r.o.metrics.PortRetriesTotal.WithLabelValues(string(kind)).Inc()
			}
		}
	}
	return content.Draft{}, lastErr
}

func (r *run) produce(ctx context.Context, kind capability.Kind, fn func(context.Context) (content.Draft, error)) (content.Draft, error) {
	ctx, span := r.o.tracer.Start(ctx, "pipeline."+string(kind))
	defer span.End()

	draft, err := fn(ctx)
	endSpan(span, err)
	return draft, err
}

func (r *run) review(ctx context.Context, draft content.Draft, idx int) (content.ReviewResult, gate.Decision, error) {
	ctx, span := r.o.tracer.Start(ctx, "pipeline.review", trace.WithAttributes(attribute.Int("attempt", idx)))
	defer span.End()

	in := r.art.Input
	review, err := r.o.ports.Review(ctx, capability.ReviewRequest{Draft: draft, Grade: in.Grade, Topic: in.Topic})
	if err != nil {
		endSpan(span, err)
		return content.ReviewResult{}, gate.Decision{}, err
	}

	decision := r.o.gate.Evaluate(review)
	span.SetAttributes(
		attribute.Bool("gate.pass", decision.Pass),
		attribute.Float64("gate.mean", decision.Mean),
	)

	if review.Pass != decision.Pass {
		r.o.logger.Warn(ctx, "reviewer pass flag disagrees with gate",
			zap.Int("attempt", idx),
			zap.Bool("reviewer_pass", review.Pass),
			zap.Bool("gate_pass", decision.Pass),
			zap.Float64("mean", decision.Mean),
		)
		r.divergences = append(r.divergences, fmt.Sprintf("attempt %d: reviewer=%t gate=%t", idx, review.Pass, decision.Pass))
		r.art.SetMetadata("gate_divergence", strings.Join(r.divergences, "; "))
		if r.o.metrics != nil {
			r.o.metrics.GateDivergenceTotal.Inc()
		}
		review.Pass = decision.Pass
	}

	for _, reason := range decision.Reasons {
		r.o.logger.Debug(ctx, "gate reason",
			zap.Int("attempt", idx),
			zap.String("code", reason.Code),
			zap.String("criterion", string(reason.Criterion)),
			zap.String("field", reason.Field),
		)
	}
	return review, decision, nil
}

func (r *run) tag(ctx context.Context, draft content.Draft) (content.TagSet, error) {
	ctx, span := r.o.tracer.Start(ctx, "pipeline.tagging")
	defer span.End()

	in := r.art.Input
	tags, err := r.o.ports.Tag(ctx, capability.TagRequest{Draft: draft, Grade: in.Grade, Topic: in.Topic})
	endSpan(span, err)
	if err != nil {
		return content.TagSet{}, err
	}
	if tags.Topic == "" {
		tags.Topic = in.Topic
	}
	if tags.Grade == 0 {
		tags.Grade = in.Grade
	}
	return tags, nil
}

// transition moves to state. Cancellation is observed only here.
func (r *run) transition(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.enter(ctx, state)
	return nil
}

func (r *run) enter(ctx context.Context, state State) {
	now := r.o.now()
	if r.o.metrics != nil && r.state != StateStart {
		r.o.metrics.StageDuration.WithLabelValues(string(r.state)).Observe(now.Sub(r.entered).Seconds())
	}
	r.state, r.entered = state, now

	r.o.logger.Trace(ctx, "state transition", zap.String("state", string(state)), zap.Int("attempt", r.rec.Len()))
	if r.o.progress != nil {
		r.o.progress(Progress{RunID: r.art.RunID, State: state, Attempt: r.rec.Len()})
	}
}

func (r *run) approve(ctx context.Context, draft content.Draft, tags content.TagSet) {
	if err := r.art.Approve(draft, tags, r.o.now()); err != nil {
		r.o.logger.Error(ctx, "approve after finalization", zap.Error(err))
		return
	}
	r.art.Attempts = r.rec.Attempts()
	r.enter(ctx, StateFinalized)
}

func (r *run) reject(ctx context.Context, reason string, feedback []content.Feedback, cause error) {
	if cause != nil {
		r.o.logger.Warn(ctx, "run rejected", zap.String("reason", reason), zap.String("state", string(r.state)), zap.Error(cause))
		trace.SpanFromContext(ctx).RecordError(cause)
	}
	if err := r.art.Reject(reason, feedback, r.o.now()); err != nil {
		r.o.logger.Error(ctx, "reject after finalization", zap.Error(err))
		return
	}
	r.art.Attempts = r.rec.Attempts()
	r.enter(ctx, StateFinalized)
}

// reasonFor maps a failure at stage to a rejection reason. A failure with no
// port kind is attributed to stage.
func (r *run) reasonFor(ctx context.Context, stage capability.Kind, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return content.ReasonCancelled
	}
	kind, ok := capability.KindOf(err)
	if !ok || schema.IsSchemaError(err) {
		kind = stage
	}
	if kind == stage {
		switch stage {
		case capability.KindGeneration:
			return content.ReasonGenerationFailed
		case capability.KindRefinement:
			return content.ReasonRefinementFailed
		case capability.KindTagging:
			return content.ReasonTaggingFailed
		}
	}
	return content.AgentErrorReason(string(kind))
}

func retryable(kind capability.Kind, err error) bool {
	if schema.IsSchemaError(err) {
		return true
	}
	k, ok := capability.KindOf(err)
	return !ok || k == kind
}

// refinementFeedback is the reviewer's feedback plus one item per gate
// failure the reviewer did not already raise.
func refinementFeedback(review content.ReviewResult, d gate.Decision) []content.Feedback {
	out := append([]content.Feedback(nil), review.Feedback...)
	for _, reason := range d.Reasons {
		if reason.Code == gate.CodeCriticalIssue {
			continue
		}
		field := reason.Field
		if field == "" {
			field = "scores." + string(reason.Criterion)
		}
		out = append(out, content.Feedback{
			Field:     field,
			Issue:     reason.Detail,
			Severity:  content.SeverityMajor,
			Criterion: reason.Criterion,
		})
	}
	return out
}

// rejectionFeedback orders feedback critical first and keeps the top items.
func rejectionFeedback(fb []content.Feedback) []content.Feedback {
	out := append([]content.Feedback(nil), fb...)
	sort.SliceStable(out, func(i, j int) bool {
		return severityRank(out[i].Severity) < severityRank(out[j].Severity)
	})
	if len(out) > maxRejectionFeedback {
		out = out[:maxRejectionFeedback]
	}
	return out
}

func severityRank(s content.Severity) int {
	switch s {
	case content.SeverityCritical:
		return 0
	case content.SeverityMajor:
		return 1
	case content.SeverityMinor:
		return 2
	}
	return 3
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
