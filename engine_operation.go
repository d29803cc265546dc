package nextstep

import (
	"context"
	"errors"
	"time"

	"github.com/wultra/powerauth-webflow-sub003/internal/ident"
	"github.com/wultra/powerauth-webflow-sub003/steps"
)

// CreateOperation starts a new operation in CONTINUE state and records the
// synthetic INIT step. The returned detail carries the first permissible
// authentication steps from the routing table.
func (e *Engine) CreateOperation(ctx context.Context, req CreateOperationRequest) (*OperationDetail, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.OperationName == "" {
		return nil, ErrInvalidRequest
	}

	now := time.Now()
	expiration := req.Expiration
	if expiration <= 0 {
		expiration = e.config.Operation.DefaultExpiration
	}
	operationID := req.OperationID
	if operationID == "" {
		operationID = ident.New()
	}

	op := &Operation{
		OperationID:        operationID,
		OperationName:      req.OperationName,
		OperationData:      req.OperationData,
		FormData:           req.FormData,
		UserID:             req.UserID,
		OrganizationID:     req.OrganizationID,
		ApplicationContext: req.ApplicationContext,
		Result:             AuthResultContinue,
		TimestampCreated:   now,
		TimestampExpires:   now.Add(expiration),
	}
	if req.UserID != "" {
		user, err := e.users.Get(ctx, req.UserID)
		if err == nil {
			op.UserAccountStatus = user.Status
		} else if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}

	initial := e.resolver.InitialSteps(op.OperationName)
	if len(initial.Steps) > 0 {
		op.ChosenAuthMethod = AuthMethod(initial.Steps[0].AuthMethod)
	}

	if err := e.operations.Create(ctx, op); err != nil {
		return nil, err
	}

	updated, err := e.operations.Update(ctx, operationID, func(op *Operation, nextResultID int64) (*OperationHistory, error) {
		return &OperationHistory{
			RequestAuthMethod:     AuthMethodInit,
			RequestAuthStepResult: AuthStepResultConfirmed,
			ResponseResult:        op.Result,
			ChosenAuthMethod:      op.ChosenAuthMethod,
			TimestampCreated:      now,
			TimestampExpires:      op.TimestampExpires,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOperationCreated)
	e.emitAudit(ctx, auditEventOperationCreated, true, operationID, op.UserID, "", "", AuthMethodInit, nil, func() map[string]string {
		return map[string]string{
			"operation_name": op.OperationName,
		}
	})

	return e.detailFor(ctx, updated)
}

// GetOperationDetail returns the operation, its full history, and the currently
// permissible next steps. An expired CONTINUE operation is reported as FAILED
// without mutating stored state.
func (e *Engine) GetOperationDetail(ctx context.Context, operationID string) (*OperationDetail, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	op, err := e.operations.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	return e.detailFor(ctx, op)
}

// ListOperationsForUser returns all operations ever linked to the user.
func (e *Engine) ListOperationsForUser(ctx context.Context, userID string) ([]*Operation, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	return e.operations.ListByUser(ctx, userID)
}

// ListPendingOperationsForUser returns the user's operations that are still in
// CONTINUE state and not expired.
func (e *Engine) ListPendingOperationsForUser(ctx context.Context, userID string) ([]*Operation, error) {
	all, err := e.ListOperationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	pending := all[:0]
	for _, op := range all {
		if op.EffectiveResult(now) == AuthResultContinue {
			pending = append(pending, op)
		}
	}
	return pending, nil
}

// UpdateOperation records the outcome of one authentication step that was
// verified outside the engine and advances the operation through the step
// resolver. Recording against a DONE or FAILED operation fails with
// ErrOperationAlreadyFinished; recording against an expired operation persists
// the FAILED transition and fails with ErrOperationExpired.
func (e *Engine) UpdateOperation(ctx context.Context, req UpdateOperationRequest) (*OperationDetail, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.OperationID == "" || req.AuthMethod == "" || req.AuthStepResult == "" {
		return nil, ErrInvalidRequest
	}

	op, err := e.recordStep(ctx, stepRecord{
		OperationID:     req.OperationID,
		UserID:          req.UserID,
		OrganizationID:  req.OrganizationID,
		AuthMethod:      req.AuthMethod,
		AuthStepResult:  req.AuthStepResult,
		AuthInstruments: req.AuthInstruments,
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventOperationUpdated, true, op.OperationID, op.UserID, "", "", req.AuthMethod, nil, func() map[string]string {
		return map[string]string{
			"step_result": string(req.AuthStepResult),
			"result":      string(op.Result),
		}
	})

	return e.detailFor(ctx, op)
}

// CancelOperation fails a CONTINUE operation on the caller's behalf, recording
// a CANCELED step.
func (e *Engine) CancelOperation(ctx context.Context, operationID string, method AuthMethod) (*OperationDetail, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if operationID == "" {
		return nil, ErrInvalidRequest
	}
	if method == "" {
		method = AuthMethodInit
	}

	op, err := e.recordStep(ctx, stepRecord{
		OperationID:    operationID,
		AuthMethod:     method,
		AuthStepResult: AuthStepResultCanceled,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOperationCanceled)
	e.emitAudit(ctx, auditEventOperationCanceled, true, operationID, op.UserID, "", "", method, nil, nil)

	return e.detailFor(ctx, op)
}

// SetChosenAuthMethod records the user's choice among the offered next steps.
func (e *Engine) SetChosenAuthMethod(ctx context.Context, operationID string, method AuthMethod) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if operationID == "" || method == "" {
		return ErrInvalidRequest
	}
	_, err := e.operations.Update(ctx, operationID, func(op *Operation, nextResultID int64) (*OperationHistory, error) {
		if op.Result != AuthResultContinue {
			return nil, ErrOperationAlreadyFinished
		}
		op.ChosenAuthMethod = method
		return nil, nil
	})
	return err
}

// RecordAfsAction appends an anti-fraud decision fact to the operation. The
// engine stores what the caller supplies; it never calls a fraud endpoint.
func (e *Engine) RecordAfsAction(ctx context.Context, operationID string, action AfsAction) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if operationID == "" || action.Action == "" {
		return ErrInvalidRequest
	}
	if action.TimestampCreated.IsZero() {
		action.TimestampCreated = time.Now()
	}
	_, err := e.operations.Update(ctx, operationID, func(op *Operation, nextResultID int64) (*OperationHistory, error) {
		op.AfsActions = append(op.AfsActions, action)
		return nil, nil
	})
	return err
}

// stepRecord is the input to recordStep, the single path through which every
// operation state transition happens.
type stepRecord struct {
	OperationID     string
	UserID          string
	OrganizationID  string
	AuthMethod      AuthMethod
	AuthStepResult  AuthStepResult
	AuthInstruments []string
	Authentication  *Authentication
}

// recordStep appends one history row and advances the operation state machine
// under optimistic concurrency control. An AUTH_FAILED step first charges the
// operation-scoped failure counter for the method; reaching the method's
// configured cap escalates the step to AUTH_METHOD_FAILED before the routing
// table is consulted.
func (e *Engine) recordStep(ctx context.Context, rec stepRecord) (*Operation, error) {
	now := time.Now()
	expired := false

	updated, err := e.operations.Update(ctx, rec.OperationID, func(op *Operation, nextResultID int64) (*OperationHistory, error) {
		expired = false
		if op.Result != AuthResultContinue {
			return nil, ErrOperationAlreadyFinished
		}
		if op.IsExpired(now) {
			expired = true
			op.Result = AuthResultFailed
			return &OperationHistory{
				RequestAuthMethod:     rec.AuthMethod,
				RequestAuthStepResult: rec.AuthStepResult,
				ResponseResult:        AuthResultFailed,
				TimestampCreated:      now,
			}, nil
		}

		effective := rec.AuthStepResult
		if effective == AuthStepResultAuthFailed {
			if op.MethodFailures == nil {
				op.MethodFailures = make(map[AuthMethod]uint32)
			}
			op.MethodFailures[rec.AuthMethod]++
			if limit, ok := e.resolver.MaxFailures(op.OperationName, string(rec.AuthMethod)); ok &&
				op.MethodFailures[rec.AuthMethod] >= limit {
				effective = AuthStepResultAuthMethodFailed
			}
		}

		decision := e.resolver.Resolve(op.OperationName, string(rec.AuthMethod), string(effective))
		op.Result = AuthResult(decision.Result)
		if rec.UserID != "" && op.UserID == "" {
			op.UserID = rec.UserID
		}
		if rec.OrganizationID != "" && op.OrganizationID == "" {
			op.OrganizationID = rec.OrganizationID
		}
		if op.Result == AuthResultContinue && len(decision.Steps) > 0 {
			op.ChosenAuthMethod = AuthMethod(decision.Steps[0].AuthMethod)
		}

		return &OperationHistory{
			RequestAuthMethod:      rec.AuthMethod,
			RequestAuthStepResult:  rec.AuthStepResult,
			RequestAuthInstruments: rec.AuthInstruments,
			ResponseResult:         op.Result,
			ChosenAuthMethod:       op.ChosenAuthMethod,
			Authentication:         rec.Authentication,
			TimestampCreated:       now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		e.metricInc(MetricOperationFailed)
		e.emitAudit(ctx, auditEventOperationFailed, false, rec.OperationID, updated.UserID, "", "", rec.AuthMethod, ErrOperationExpired, nil)
		return nil, ErrOperationExpired
	}

	switch updated.Result {
	case AuthResultDone:
		e.metricInc(MetricOperationDone)
		e.emitAudit(ctx, auditEventOperationDone, true, updated.OperationID, updated.UserID, "", "", rec.AuthMethod, nil, nil)
	case AuthResultFailed:
		e.metricInc(MetricOperationFailed)
		e.emitAudit(ctx, auditEventOperationFailed, false, updated.OperationID, updated.UserID, "", "", rec.AuthMethod, nil, nil)
	}

	return updated, nil
}

// operationRemaining reports remaining attempts on the operation-scoped counter
// for the given method.
func (e *Engine) operationRemaining(op *Operation, method AuthMethod) remaining {
	limit, ok := e.resolver.MaxFailures(op.OperationName, string(method))
	if !ok {
		return remaining{}
	}
	used := op.MethodFailures[method]
	if used >= limit {
		return remaining{ok: true}
	}
	return remaining{n: limit - used, ok: true}
}

// effectiveStepResult replays the operation-counter escalation for a recorded
// step so the routing lookup at read time matches what was decided at write
// time.
func (e *Engine) effectiveStepResult(op *Operation, method AuthMethod, result AuthStepResult) AuthStepResult {
	if result != AuthStepResultAuthFailed {
		return result
	}
	if limit, ok := e.resolver.MaxFailures(op.OperationName, string(method)); ok &&
		op.MethodFailures[method] >= limit {
		return AuthStepResultAuthMethodFailed
	}
	return result
}

// detailFor assembles the caller-facing operation view: history, the currently
// permissible steps, and the signed assertion once the operation is DONE.
func (e *Engine) detailFor(ctx context.Context, op *Operation) (*OperationDetail, error) {
	history, err := e.operations.History(ctx, op.OperationID)
	if err != nil {
		return nil, err
	}

	detail := &OperationDetail{
		Operation: op,
		History:   history,
	}

	now := time.Now()
	if op.EffectiveResult(now) == AuthResultContinue && len(history) > 0 {
		last := history[len(history)-1]
		stepResult := e.effectiveStepResult(op, last.RequestAuthMethod, last.RequestAuthStepResult)
		decision := e.resolver.Resolve(op.OperationName, string(last.RequestAuthMethod), string(stepResult))
		detail.Steps = stepsFromDecision(decision)
	}

	if op.Result == AuthResultDone && e.assertions != nil {
		assertion, err := e.assertions.Sign(op.OperationID, op.OperationName, op.OperationData, op.UserID, op.OrganizationID)
		if err != nil {
			return nil, err
		}
		detail.Assertion = assertion
		e.metricInc(MetricAssertionIssued)
	}

	return detail, nil
}

func stepsFromDecision(d steps.Decision) []AuthStep {
	if len(d.Steps) == 0 {
		return nil
	}
	out := make([]AuthStep, 0, len(d.Steps))
	for _, s := range d.Steps {
		out = append(out, AuthStep{
			AuthMethod: AuthMethod(s.AuthMethod),
			Priority:   s.Priority,
			Params:     s.Params,
		})
	}
	return out
}
