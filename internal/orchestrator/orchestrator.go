// File: internal/orchestrator/orchestrator.go
// Description: Drives one run of the observe/infer/act loop. Every collaborator
// is injected through the schemas capability interfaces.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/coords"
	"github.com/xkilldash9x/deskpilot/internal/guard"
	"github.com/xkilldash9x/deskpilot/internal/history"
	"github.com/xkilldash9x/deskpilot/internal/parser"
	"github.com/xkilldash9x/deskpilot/internal/recovery"
)

// Seam for deterministic run IDs in tests.
var uuidNewString = uuid.NewString

// Dependencies are the external capabilities a run consumes. Planner and
// Exporter are optional.
type Dependencies struct {
	Inference schemas.InferenceClient
	Capturer  schemas.Capturer
	Executor  schemas.Executor
	Planner   schemas.RecoveryPlanner
	Exporter  schemas.StepExporter
}

// Orchestrator runs objectives against one sandbox session, one at a time.
type Orchestrator struct {
	settings Settings
	deps     Dependencies
	parser   parser.Parser
	logger   *zap.Logger

	// backoffFactory builds the policy for the single execution retry.
	backoffFactory func() backoff.BackOff
	now            func() time.Time
}

// New validates the settings and wires an orchestrator.
func New(settings Settings, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil || deps.Inference == nil || deps.Capturer == nil || deps.Executor == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	p, err := parser.New(settings.Dialect, settings.Parser)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		settings: settings,
		deps:     deps,
		parser:   p,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}
	o.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = max(time.Millisecond, settings.RetryInterval)
		return backoff.WithMaxRetries(b, 1)
	}
	return o, nil
}

// run holds the state owned by a single Run call.
type run struct {
	id         string
	objective  string
	started    time.Time
	history    *history.History
	guard      *guard.Engine
	recovery   *recovery.Controller
	classifier *guard.ChangeClassifier
	logger     *zap.Logger
	recorded   int

	// escalatedLast is set when the previous step's action came from the
	// planner. The next step always goes back to the model.
	escalatedLast bool
}

// step accumulates what happened during one iteration.
type step struct {
	frame       *schemas.Frame
	reply       string
	thought     string
	raw         *schemas.Point
	logical     schemas.Action
	observation string
	diagnostic  string
	escalated   bool
	rejected    bool
	primitives  int
	class       schemas.Classification
}

// Run drives the loop for one objective until the guard stops it or a fatal
// error occurs. The summary is always populated; the error is non-nil only
// for inference failures, a repeated execution failure, capture failure or
// cancellation.
func (o *Orchestrator) Run(ctx context.Context, objective string) (schemas.RunSummary, error) {
	r := o.newRun(objective)
	r.logger.Info("Starting run.",
		zap.String("objective", objective),
		zap.String("dialect", string(o.parser.Dialect())),
		zap.Int("max_steps", o.settings.Guard.MaxSteps))

	for {
		// Cancellation is only honored here, between iterations.
		if err := ctx.Err(); err != nil {
			return o.finish(ctx, r, schemas.StopCancelled, err)
		}
		if err := sleepCtx(ctx, o.settings.CaptureDelay); err != nil {
			return o.finish(ctx, r, schemas.StopCancelled, err)
		}

		frame, err := o.deps.Capturer.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return o.finish(ctx, r, schemas.StopCancelled, ctx.Err())
			}
			return o.finish(ctx, r, schemas.StopCaptureFailure, fmt.Errorf("capture: %w", err))
		}
		frame.Meta.Model = o.parser.ModelSpace(frame.Meta.Image)

		s := &step{frame: frame, class: schemas.ClassUnknown}

		if r.guard.State() == schemas.GuardNudge {
			if r.escalatedLast {
				s.observation = r.guard.NudgeMessage()
			} else {
				o.escalateOrNudge(ctx, r, s)
			}
		}
		r.escalatedLast = s.escalated
		if !s.escalated {
			if reason, err := o.inferAndParse(ctx, r, s); err != nil {
				return o.finish(ctx, r, reason, err)
			}
		}

		o.resolve(r, s)

		if err := o.execute(ctx, r, s); err != nil {
			o.record(ctx, r, s, guard.Decision{State: schemas.GuardStop, Signature: r.guard.Signature(s.logical, s.rejected)}, err)
			return o.finish(ctx, r, schemas.StopExecutionFailure, err)
		}

		decision := r.guard.Observe(guard.Observation{
			Action:         s.logical,
			Rejected:       s.rejected,
			Classification: s.class,
		})
		r.history.Append(history.Turn{
			Frame:       frame,
			Observation: s.observation,
			Reply:       s.reply,
			Thought:     s.thought,
			Action:      s.logical,
			Outcome:     history.Outcome{Classification: s.class, Diagnostic: s.diagnostic},
		})
		o.record(ctx, r, s, decision, nil)

		if decision.State == schemas.GuardStop {
			return o.finish(ctx, r, decision.StopReason, nil)
		}
	}
}

func (o *Orchestrator) newRun(objective string) *run {
	id := uuidNewString()
	logger := o.logger.With(zap.String("run_id", id))
	return &run{
		id:        id,
		objective: objective,
		started:   o.now(),
		history:   history.New(logger, o.settings.RetainImages),
		guard:     guard.New(o.settings.Guard, logger),
		recovery: recovery.NewController(o.deps.Planner, recovery.Options{
			Budget:   o.settings.EscalationBudget,
			Timeout:  o.settings.PlannerTimeout,
			Validate: o.validateRecovered,
		}, logger),
		classifier: guard.NewChangeClassifier(o.deps.Capturer, o.settings.ChangeThreshold, o.settings.SettleDelay, logger),
		logger:     logger,
	}
}

// escalateOrNudge runs at the start of an iteration while the guard is in
// NUDGE. A successful escalation supplies this step's action and skips
// inference; otherwise the textual nudge is queued for the model.
func (o *Orchestrator) escalateOrNudge(ctx context.Context, r *run, s *step) {
	if r.recovery.Eligible(schemas.GuardNudge) {
		act, ok, _ := r.recovery.Escalate(ctx, schemas.GuardNudge, schemas.RecoveryRequest{
			Objective:  r.objective,
			Frame:      s.frame,
			History:    r.history.Condensed(),
			Diagnostic: r.guard.Diagnostic(),
		})
		if ok {
			s.logical = act
			s.escalated = true
			s.diagnostic = schemas.DiagRecovered
			return
		}
		s.diagnostic = schemas.DiagRecoveryFailed
	}
	s.observation = r.guard.NudgeMessage()
}

// inferAndParse asks the model for the next action. A parse failure is
// absorbed by substituting a Wait; only inference failures are returned.
func (o *Orchestrator) inferAndParse(ctx context.Context, r *run, s *step) (schemas.StopReason, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: o.parser.SystemPrompt(s.frame.Meta.Model),
		Messages: r.history.Materialize(o.parser.Mode(), history.Current{
			Objective: r.objective,
			Frame:     s.frame,
			Nudge:     s.observation,
		}),
		Options: o.settings.Generation,
	}

	inferCtx, cancel := context.WithTimeout(ctx, o.settings.InferenceTimeout)
	reply, err := o.deps.Inference.Generate(inferCtx, req)
	timedOut := errors.Is(inferCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return schemas.StopCancelled, ctx.Err()
		}
		var ie *schemas.InferenceError
		if !errors.As(err, &ie) {
			ie = &schemas.InferenceError{Err: err}
			err = ie
		}
		if ie.Timeout || timedOut || errors.Is(err, context.DeadlineExceeded) {
			ie.Timeout = true
			return schemas.StopInferenceTimeout, err
		}
		return schemas.StopInferenceError, err
	}
	s.reply = reply

	parsed, err := o.parser.Parse(reply)
	if err != nil {
		r.logger.Warn("Unparseable model output, substituting a wait.", zap.Error(err))
		s.logical = schemas.Wait(o.settings.ParseFailureWait)
		s.logical.Diagnostic = schemas.DiagParseFailure
		s.diagnostic = schemas.DiagParseFailure
		return "", nil
	}
	s.logical = parsed.Action
	s.thought = parsed.Thought
	s.raw = parsed.Raw
	return "", nil
}

// resolve maps the raw model-space point onto the screen and validates the
// result. A rejected action is not executed but still counts for the guard.
func (o *Orchestrator) resolve(r *run, s *step) {
	if s.raw != nil {
		c, err := coords.Resolve(*s.raw, s.frame.Meta)
		if err != nil {
			o.reject(r, s, err)
			return
		}
		s.logical.Coordinate = &c
	}
	if err := o.checkCoordinate(s.logical); err != nil {
		o.reject(r, s, err)
	}
}

func (o *Orchestrator) checkCoordinate(a schemas.Action) error {
	if a.Coordinate == nil {
		if a.Kind == schemas.ActionClick || a.Kind == schemas.ActionMove {
			return &schemas.CoordinateError{Reason: string(a.Kind) + " has no coordinate"}
		}
		return nil
	}
	return coords.Validate(*a.Coordinate, o.settings.Guard.MinMargin)
}

func (o *Orchestrator) validateRecovered(a schemas.Action) error {
	if a.Kind == "" {
		return errors.New("empty action")
	}
	return o.checkCoordinate(a)
}

func (o *Orchestrator) reject(r *run, s *step, err error) {
	r.logger.Warn("Rejected action before execution.", zap.String("action", s.logical.Describe()), zap.Error(err))
	s.rejected = true
	s.diagnostic = schemas.DiagInvalidCoord
}

// execute expands the logical action and runs its primitives strictly in
// order, then classifies the effect. The primitive sequence is never
// interrupted by cancellation.
func (o *Orchestrator) execute(ctx context.Context, r *run, s *step) error {
	if s.rejected {
		return nil
	}
	switch s.logical.Kind {
	case schemas.ActionTerminate:
		return nil
	case schemas.ActionMemorizeFact:
		if s.diagnostic == "" {
			s.diagnostic = schemas.DiagFactMemorized
		}
		return nil
	}

	o.savePreview(r, s)

	uncancelled := context.WithoutCancel(ctx)
	prims := action.Expand(s.logical)
	s.primitives = len(prims)
	for _, p := range prims {
		retried, err := o.executePrimitive(uncancelled, r, p, s.frame.Meta.Screen)
		if err != nil {
			return err
		}
		if retried && s.diagnostic == "" {
			s.diagnostic = schemas.DiagExecutionRetry
		}
	}

	classCtx, cancel := context.WithTimeout(uncancelled, o.settings.ExecutionTimeout+o.settings.SettleDelay)
	defer cancel()
	class, err := r.classifier.Classify(classCtx, s.logical, s.frame)
	if err != nil {
		r.logger.Warn("Could not classify action effect.", zap.Error(err))
	}
	s.class = class
	return nil
}

// executePrimitive runs one primitive, retrying once with backoff.
func (o *Orchestrator) executePrimitive(ctx context.Context, r *run, p schemas.Action, screen schemas.Resolution) (retried bool, err error) {
	attempts := 0
	op := func() error {
		attempts++
		prim := p
		if attempts > 1 {
			prim = forRetry(p)
		}
		pctx, cancel := context.WithTimeout(ctx, o.settings.ExecutionTimeout+p.Duration)
		defer cancel()
		return o.deps.Executor.Execute(pctx, prim, screen)
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("Primitive failed, retrying once.",
			zap.String("primitive", p.Describe()),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, o.backoffFactory(), notify); err != nil {
		var ee *schemas.ExecutionError
		if !errors.As(err, &ee) {
			err = &schemas.ExecutionError{Action: p.Kind, Err: err}
		}
		return attempts > 1, err
	}
	return attempts > 1, nil
}

// forRetry adjusts a primitive for its second attempt. The first Type may
// have delivered its text before failing, so the retry replaces the field
// contents rather than appending to them.
func forRetry(p schemas.Action) schemas.Action {
	if p.Kind == schemas.ActionType {
		p.ClearExisting = true
	}
	return p
}

func (o *Orchestrator) record(ctx context.Context, r *run, s *step, d guard.Decision, execErr error) {
	r.recorded++
	rec := schemas.StepRecord{
		RunID:          r.id,
		StepIndex:      r.recorded,
		Action:         s.logical,
		Primitives:     s.primitives,
		Signature:      d.Signature,
		GuardState:     d.State,
		Classification: s.class,
		Diagnostic:     s.diagnostic,
		Thought:        s.thought,
		Escalated:      s.escalated,
		Timestamp:      o.now(),
	}
	fields := []zap.Field{
		zap.Int("step", rec.StepIndex),
		zap.String("action", s.logical.Describe()),
		zap.String("guard_state", string(d.State)),
		zap.String("classification", string(s.class)),
	}
	if s.diagnostic != "" {
		fields = append(fields, zap.String("diagnostic", s.diagnostic))
	}
	if execErr != nil {
		r.logger.Error("Step failed.", append(fields, zap.Error(execErr))...)
	} else {
		r.logger.Info("Step complete.", fields...)
	}

	if o.deps.Exporter != nil {
		if err := o.deps.Exporter.ExportStep(context.WithoutCancel(ctx), rec); err != nil {
			r.logger.Warn("Failed to export step record.", zap.Error(err))
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, reason schemas.StopReason, err error) (schemas.RunSummary, error) {
	sum := schemas.RunSummary{
		RunID:           r.id,
		Objective:       r.objective,
		StopReason:      reason,
		StepCount:       r.recorded,
		EscalationCount: r.recovery.Escalations(),
		Duration:        o.now().Sub(r.started),
	}
	if err != nil {
		sum.Err = err.Error()
	}

	fields := []zap.Field{
		zap.String("stop_reason", string(reason)),
		zap.Int("steps", sum.StepCount),
		zap.Int("escalations", sum.EscalationCount),
		zap.Duration("duration", sum.Duration),
	}
	if err != nil {
		r.logger.Error("Run ended with an error.", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("Run finished.", fields...)
	}

	if o.deps.Exporter != nil {
		if xerr := o.deps.Exporter.ExportSummary(context.WithoutCancel(ctx), sum); xerr != nil {
			r.logger.Warn("Failed to export run summary.", zap.Error(xerr))
		}
	}
	return sum, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
