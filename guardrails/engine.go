package guardrails

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// outputDefaultClasses are evaluated for output text when a request names no
// classes and Config.DirectionDefaults is set.
var outputDefaultClasses = []ThreatClass{ClassDataLeak, ClassToxicity, ClassBias}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	registry *Registry
	scorer   Scorer
	recorder *Recorder
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	now      func() time.Time
}

// WithRegistry replaces the built-in detector registry.
func WithRegistry(r *Registry) Option {
	return func(o *engineOptions) { o.registry = r }
}

// WithScorer replaces the toxicity scorer.
func WithScorer(s Scorer) Option {
	return func(o *engineOptions) { o.scorer = s }
}

// WithRecorder shares a recorder between engines.
func WithRecorder(r *Recorder) Option {
	return func(o *engineOptions) { o.recorder = r }
}

// WithObserver receives per-request events.
func WithObserver(obs Observer) Option {
	return func(o *engineOptions) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithTracer sets the OTel tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(o *engineOptions) { o.tracer = t }
}

// WithMeter sets the OTel meter. The global provider is used otherwise.
func WithMeter(m metric.Meter) Option {
	return func(o *engineOptions) { o.meter = m }
}

// WithClock overrides the time source used for processing time.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// Engine runs the detection pipeline. An Engine is immutable after
// construction and safe for concurrent use; independent engines with
// different configurations may coexist in one process.
type Engine struct {
	cfg       Config
	registry  *Registry
	scorer    Scorer
	escalator *Escalator
	recorder  *Recorder
	observer  Observer
	otel      *instruments
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine builds an engine from cfg. Out-of-range configuration values are
// replaced by defaults and logged as warnings.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("component", "guardrails_engine"))

	normalized, warnings := cfg.Normalize()
	for _, w := range warnings {
		logger.Warn("guardrails config adjusted", zap.String("warning", w))
	}

	if o.registry == nil {
		reg, err := NewDefaultRegistry()
		if err != nil {
			return nil, fmt.Errorf("build default registry: %w", err)
		}
		o.registry = reg
	}

	var injection []*PatternDetector
	for _, d := range o.registry.Detectors(ClassInjection) {
		if pd, ok := d.(*PatternDetector); ok {
			injection = append(injection, pd)
		}
	}
	escalator, err := NewEscalator(injection...)
	if err != nil {
		return nil, fmt.Errorf("build escalator: %w", err)
	}

	if o.scorer == nil {
		o.scorer = NewKeywordScorer(DefaultToxicityPerMatch, o.registry.Detectors(ClassToxicity)...)
	}
	if o.recorder == nil {
		o.recorder = NewRecorder(WithRecorderLogger(o.logger))
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	in, err := newInstruments(o.tracer, o.meter)
	if err != nil {
		return nil, fmt.Errorf("create otel instruments: %w", err)
	}

	return &Engine{
		cfg:       normalized,
		registry:  o.registry,
		scorer:    o.scorer,
		escalator: escalator,
		recorder:  o.recorder,
		observer:  o.observer,
		otel:      in,
		logger:    logger,
		now:       o.now,
	}, nil
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Recorder returns the incident recorder.
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Metrics returns the current metrics snapshot.
func (e *Engine) Metrics() Metrics {
	return e.recorder.Metrics()
}

// Evaluate runs every requested and enabled class against req.Text and
// returns a freshly built Outcome. Detector failures never fail the call;
// they are reported as Diagnostics. An error is returned only for an invalid
// request or when ctx is cancelled, in which case nothing is recorded.
func (e *Engine) Evaluate(ctx context.Context, req *DetectionRequest) (*Outcome, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil detection request")
	}
	start := e.now()

	direction := req.Direction
	if direction == "" {
		direction = DirectionInput
	}
	if direction != DirectionInput && direction != DirectionOutput {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown direction %q", direction))
	}
	classes, err := e.resolveClasses(req.Classes, direction)
	if err != nil {
		return nil, err
	}
	requestID := req.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, span := e.otel.tracer.Start(ctx, "guardrails.evaluate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("guardrails.request_id", requestID),
			attribute.String("guardrails.direction", string(direction)),
			attribute.Int("guardrails.text_length", len(req.Text)),
		))
	defer span.End()

	out := &Outcome{
		RequestID:      requestID,
		Direction:      direction,
		Classes:        make(map[ThreatClass]*ClassOutcome, len(classes)),
		Order:          classes,
		Recommendation: RecommendAllow,
	}

	if exempt, reason := e.cfg.Exemptions.Match(req.Context); exempt {
		out.Exempted = true
		out.ExemptionReason = reason
		for _, c := range classes {
			out.Classes[c] = &ClassOutcome{Class: c, Recommendation: RecommendAllow}
		}
		e.finish(ctx, span, out, start)
		return out, nil
	}

	history := slices.Clone(req.History)
	runs := e.dispatch(ctx, req.Text, history, classes)
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	ordered := make([]*ClassOutcome, 0, len(classes))
	for _, c := range classes {
		co, diag := e.decide(c, runs[c])
		out.Classes[c] = co
		ordered = append(ordered, co)
		if diag != nil {
			out.Diagnostics = append(out.Diagnostics, *diag)
		}
	}
	out.Recommendation, out.TriggeredBy = MostRestrictive(ordered...)
	out.Evidence = e.mergeEvidence(ordered)

	e.rewrite(req.Text, out)

	switch out.Recommendation.Rank() {
	case RecommendBlock.Rank():
		out.Message = e.cfg.Actions.BlockMessage
	case RecommendWarn.Rank():
		out.Message = e.cfg.Actions.WarnMessage
	}

	if out.Recommendation != RecommendAllow {
		e.recordIncident(ctx, req, out)
	}

	e.finish(ctx, span, out, start)
	return out, nil
}

func (e *Engine) resolveClasses(requested []ThreatClass, direction Direction) ([]ThreatClass, error) {
	for _, c := range requested {
		if !c.Valid() {
			return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown threat class %q", c))
		}
	}
	candidates := requested
	if len(candidates) == 0 {
		candidates = AllClasses
		if e.cfg.DirectionDefaults && direction == DirectionOutput {
			candidates = outputDefaultClasses
		}
	}
	var out []ThreatClass
	for _, c := range canonicalOrder(candidates) {
		if slices.Contains(e.cfg.EnabledClasses, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ============================================================
// Detector dispatch
// ============================================================

type classRun struct {
	findings  []Finding
	leaks     []LeakItem
	score     float64
	technique string
	adjusted  float64
	risk      float64
	prior     int
	err       error
	timedOut  bool
}

type classResult struct {
	class ThreatClass
	run   *classRun
}

// dispatch runs one goroutine per class under the detector time budget.
// Results are keyed by class, so completion order never affects the outcome.
// Classes that have not reported when the budget expires are marked timed out.
func (e *Engine) dispatch(ctx context.Context, text string, history []Turn, classes []ThreatClass) map[ThreatClass]*classRun {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DetectorTimeout)
	defer cancel()

	results := make(chan classResult, len(classes))
	var g errgroup.Group
	for _, c := range classes {
		g.Go(func() error {
			results <- classResult{class: c, run: e.runClass(dctx, c, text, history)}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-dctx.Done():
	}

	runs := make(map[ThreatClass]*classRun, len(classes))
drain:
	for len(runs) < len(classes) {
		select {
		case r := <-results:
			runs[r.class] = r.run
		default:
			break drain
		}
	}
	for _, c := range classes {
		if runs[c] == nil {
			runs[c] = &classRun{timedOut: true}
		}
	}
	return runs
}

func (e *Engine) runClass(ctx context.Context, class ThreatClass, text string, history []Turn) (run *classRun) {
	defer func() {
		if r := recover(); r != nil {
			run = &classRun{err: types.NewError(types.ErrDetectorFailed, fmt.Sprintf("detector panic: %v", r))}
		}
	}()

	run = &classRun{}
	var err error
	switch class {
	case ClassInjection:
		run.findings, err = e.registry.Detect(ctx, class, text)
		if err == nil {
			var overrides []Finding
			overrides, err = e.escalator.ContextOverrides(ctx, text)
			run.findings = append(run.findings, overrides...)
		}
		if err == nil {
			run.score, run.technique = ScoreInjection(run.findings)
			run.adjusted, run.risk, run.prior, err = e.escalator.Escalate(ctx, history, run.score)
		}
	case ClassJailbreak:
		run.findings, err = e.registry.Detect(ctx, class, text)
		if err == nil {
			run.score, run.technique = ScoreJailbreak(run.findings)
			run.adjusted, run.risk, run.prior, err = e.escalator.Escalate(ctx, history, run.score)
		}
	case ClassDataLeak:
		run.leaks, err = e.scanLeaks(ctx, text)
	case ClassToxicity:
		run.score, run.findings, err = e.scorer.Score(ctx, text)
		if err == nil && !inUnitRange(run.score) {
			err = types.NewError(types.ErrDetectorFailed, fmt.Sprintf("toxicity score %v outside [0,1]", run.score))
		}
	case ClassBias:
		run.findings, err = e.registry.Detect(ctx, class, text)
		if err == nil {
			run.score = ScoreBias(run.findings)
		}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &classRun{timedOut: true}
		}
		return &classRun{err: err}
	}
	return run
}

func (e *Engine) scanLeaks(ctx context.Context, text string) ([]LeakItem, error) {
	var items []LeakItem
	for _, d := range e.registry.Detectors(ClassDataLeak) {
		if ls, ok := d.(LeakScanner); ok {
			found, err := ls.ScanLeaks(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("detector %s: %w", d.Name(), err)
			}
			items = append(items, found...)
			continue
		}
		findings, err := d.Detect(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", d.Name(), err)
		}
		items = append(items, LeakItemsFromFindings(text, findings)...)
	}
	return items, nil
}

// ============================================================
// Policy
// ============================================================

func (e *Engine) decide(class ThreatClass, run *classRun) (*ClassOutcome, *Diagnostic) {
	co := &ClassOutcome{Class: class, Recommendation: RecommendAllow}
	if run.timedOut {
		co.Technique = TechniqueDetectorTimeout
		co.Recommendation = ConservativeAction(class)
		return co, &Diagnostic{
			Class:   class,
			Code:    string(types.ErrDetectorTimeout),
			Message: fmt.Sprintf("%s detectors exceeded %s", class, e.cfg.DetectorTimeout),
		}
	}
	if run.err != nil {
		co.Technique = TechniqueDetectorError
		e.logger.Warn("detector failed",
			zap.String("class", string(class)),
			zap.Error(run.err),
		)
		return co, &Diagnostic{
			Class:   class,
			Code:    string(types.ErrDetectorFailed),
			Message: run.err.Error(),
		}
	}

	t := e.cfg.Thresholds
	switch class {
	case ClassInjection:
		co.Findings = e.finalize(run.findings)
		co.Confidence = run.score
		co.Score = run.adjusted
		co.Technique = run.technique
		co.ConversationRisk = run.risk
		co.PriorMatches = run.prior
		co.Recommendation = DecideInjection(co.Score, t)
	case ClassJailbreak:
		co.Findings = e.finalize(run.findings)
		co.Confidence = run.score
		co.Score = run.adjusted
		co.Technique = run.technique
		co.ConversationRisk = run.risk
		co.PriorMatches = run.prior
		co.Recommendation = DecideJailbreak(co.Score, co.ConversationRisk, t)
	case ClassDataLeak:
		co.Leaks = e.finalizeLeaks(run.leaks)
		co.Findings = make([]Finding, len(co.Leaks))
		for i, l := range co.Leaks {
			co.Findings[i] = l.Finding
		}
		co.Score = ScoreLeaks(co.Leaks)
		co.Confidence, co.Technique = maxConfidence(co.Findings)
		co.Recommendation = DecideDataLeak(co.Score, t)
	case ClassToxicity:
		co.Findings = e.finalize(run.findings)
		co.Score = run.score
		co.Confidence = run.score
		co.Technique = firstTechnique(co.Findings)
		co.Recommendation = DecideContentSafety(IsSafe(co.Score, t), co.Score, t)
	case ClassBias:
		co.Findings = e.finalize(run.findings)
		co.Score = run.score
		co.Confidence, co.Technique = maxConfidence(co.Findings)
		co.Recommendation = DecideBias(len(co.Findings) > 0)
	}
	co.Detected = len(co.Findings) > 0 || co.Recommendation != RecommendAllow
	return co, nil
}

// mergeEvidence flattens class findings in evaluation order up to MaxEvidence.
func (e *Engine) mergeEvidence(ordered []*ClassOutcome) []Finding {
	var out []Finding
	for _, co := range ordered {
		for _, f := range co.Findings {
			if len(out) >= e.cfg.MaxEvidence {
				return out
			}
			f.Spans = slices.Clone(f.Spans)
			out = append(out, f)
		}
	}
	return out
}

// finalize applies the configured severity breakpoints and evidence cap.
func (e *Engine) finalize(findings []Finding) []Finding {
	if len(findings) == 0 {
		return nil
	}
	out := make([]Finding, len(findings))
	for i, f := range findings {
		f.Severity = e.cfg.SeverityBreakpoints.Classify(f.Confidence)
		f.Evidence = truncateRunes(f.Evidence, e.cfg.EvidenceSampleLength)
		f.Spans = slices.Clone(f.Spans)
		out[i] = f
	}
	return out
}

func (e *Engine) finalizeLeaks(items []LeakItem) []LeakItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]LeakItem, len(items))
	for i, it := range items {
		it.Severity = e.cfg.SeverityBreakpoints.Classify(it.Confidence)
		it.Evidence = truncateRunes(it.Evidence, e.cfg.EvidenceSampleLength)
		it.Spans = slices.Clone(it.Spans)
		out[i] = it
	}
	return out
}

// rewrite redacts leaks when data-leak asks for redact or block, and masks
// injection spans when injection asks for sanitize.
func (e *Engine) rewrite(text string, out *Outcome) {
	var items []LeakItem
	if dl := out.Classes[ClassDataLeak]; dl != nil &&
		(dl.Recommendation == RecommendRedact || dl.Recommendation == RecommendBlock) {
		items = append(items, dl.Leaks...)
	}
	if inj := out.Classes[ClassInjection]; inj != nil && inj.Recommendation == RecommendSanitize {
		items = append(items, filteredItems(text, inj.Findings, e.cfg.Actions.SanitizeReplacement)...)
	}
	if len(items) == 0 {
		return
	}
	rewritten, skipped := Redact(text, items)
	out.RewrittenText = &rewritten
	if skipped > 0 {
		out.Diagnostics = append(out.Diagnostics, Diagnostic{
			Code:    string(types.ErrInternalError),
			Message: fmt.Sprintf("%d redaction spans skipped", skipped),
		})
	}
}

func (e *Engine) recordIncident(ctx context.Context, req *DetectionRequest, out *Outcome) {
	trig := out.Classes[out.TriggeredBy]
	if trig == nil {
		return
	}
	technique := trig.Technique
	if technique == "" {
		technique = "unspecified"
	}
	draft := Incident{
		Class:          trig.Class,
		Score:          trig.Score,
		Severity:       IncidentSeverity(trig.Score),
		RequestID:      out.RequestID,
		Recommendation: out.Recommendation,
		Technique:      trig.Technique,
		Description: fmt.Sprintf("%s %s: technique=%s score=%.2f",
			trig.Class, out.Recommendation, technique, trig.Score),
		TenantID:    req.Context.TenantID,
		UserID:      req.Context.UserID,
		ModelID:     req.Context.ModelID,
		ContentHash: HashContent(req.Text),
	}
	inc, err := e.recorder.Append(ctx, draft)
	out.Incident = &inc
	if err != nil {
		out.Diagnostics = append(out.Diagnostics, Diagnostic{
			Class:   trig.Class,
			Code:    string(types.GetErrorCode(err)),
			Message: err.Error(),
		})
	}
	e.observer.ObserveIncident(inc.Class, inc.Severity)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, out *Outcome, start time.Time) {
	out.ProcessingTime = e.now().Sub(start)
	e.recorder.Observe(out)

	e.observer.ObserveRequest(out.Direction, out.Recommendation, out.ProcessingTime)
	for _, class := range out.Order {
		co := out.Classes[class]
		if co == nil {
			continue
		}
		e.observer.ObserveClass(class, co.Recommendation, co.Score, co.Detected)
		if co.Technique == TechniqueDetectorError || co.Technique == TechniqueDetectorTimeout {
			e.observer.ObserveDetectorFailure(class, co.Technique)
		}
	}
	e.otel.recordOutcome(ctx, out, out.ProcessingTime)

	span.SetAttributes(
		attribute.String("guardrails.recommendation", string(out.Recommendation)),
		attribute.String("guardrails.triggered_by", string(out.TriggeredBy)),
		attribute.Bool("guardrails.exempted", out.Exempted),
		attribute.Int("guardrails.diagnostics", len(out.Diagnostics)),
	)

	fields := []zap.Field{
		zap.String("request_id", out.RequestID),
		zap.String("direction", string(out.Direction)),
		zap.String("recommendation", string(out.Recommendation)),
		zap.String("triggered_by", string(out.TriggeredBy)),
		zap.Bool("exempted", out.Exempted),
		zap.Duration("processing_time", out.ProcessingTime),
	}
	switch {
	case out.Recommendation != RecommendAllow, e.cfg.Actions.LogAllowed:
		e.logger.Info("guardrails decision", fields...)
	default:
		e.logger.Debug("guardrails decision", fields...)
	}
}

func firstTechnique(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	return findings[0].Technique
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
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
