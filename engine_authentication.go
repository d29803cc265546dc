package nextstep

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/wultra/powerauth-webflow-sub003/internal/ident"
)

// factorOutcome is the internal result of verifying one factor, before the
// operation state machine is consulted.
type factorOutcome struct {
	result       AuthenticationResult
	remaining    remaining
	userID       string
	credentialID string
	otpID        string
	credStatus   CredentialStatus
	otpStatus    OtpStatus
}

// AuthenticateWithCredential verifies a presented credential value and, when
// the request is operation-bound, records the step on the operation. Verifying
// against a BLOCKED_PERMANENT credential reports a FAILED outcome with zero
// remaining attempts without touching counters; BLOCKED_TEMPORARY and REMOVED
// credentials fail fast with ErrCredentialNotActive.
func (e *Engine) AuthenticateWithCredential(ctx context.Context, req CredentialAuthenticationRequest) (*AuthenticationOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}
	if req.DefinitionName == "" || (req.UserID == "" && req.Username == "") {
		return nil, ErrInvalidRequest
	}

	op, err := e.operationForAuth(ctx, req.OperationID)
	if err != nil {
		return nil, err
	}

	factor, err := e.verifyCredential(ctx, req)
	if err != nil {
		e.metricInc(MetricCredentialAuthFailure)
		e.emitAudit(ctx, auditEventCredentialAuth, false, req.OperationID, req.UserID, "", "", req.AuthMethod, err, nil)
		return nil, err
	}

	outcome := &AuthenticationOutcome{
		Result:           factor.result,
		UserID:           factor.userID,
		CredentialStatus: factor.credStatus,
	}

	if op != nil {
		authRecord := &Authentication{
			AuthenticationID: ident.New(),
			CredentialID:     factor.credentialID,
			CredentialResult: factor.result,
		}
		updated, err := e.recordFactorStep(ctx, op, req.AuthMethod, factor.result, factor.userID, authRecord)
		if err != nil {
			return nil, err
		}
		outcome.OperationResult = updated.op.Result
		outcome.Steps = updated.steps
		outcome.RemainingAttempts, _ = minRemaining(factor.remaining, e.operationRemaining(updated.op, req.AuthMethod))
	} else {
		outcome.RemainingAttempts, _ = minRemaining(factor.remaining)
	}

	success := factor.result == AuthenticationSucceeded
	if success {
		e.metricInc(MetricCredentialAuthSuccess)
	} else {
		e.metricInc(MetricCredentialAuthFailure)
	}
	e.emitAudit(ctx, auditEventCredentialAuth, success, req.OperationID, factor.userID, factor.credentialID, "", req.AuthMethod, nil, func() map[string]string {
		return map[string]string{
			"result": string(factor.result),
			"status": string(factor.credStatus),
		}
	})

	return outcome, nil
}

// AuthenticateWithOtp verifies a presented OTP value. CheckOnly peeks: a
// successful check leaves the OTP ACTIVE and records nothing on the operation,
// while a failed check still charges the OTP's own counter so check traffic
// cannot be used for unlimited guessing.
func (e *Engine) AuthenticateWithOtp(ctx context.Context, req OtpAuthenticationRequest) (*AuthenticationOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}
	if req.OtpID == "" && req.OperationID == "" {
		return nil, ErrInvalidRequest
	}

	var op *Operation
	if !req.CheckOnly {
		var err error
		op, err = e.operationForAuth(ctx, req.OperationID)
		if err != nil {
			return nil, err
		}
	}

	factor, err := e.verifyOtp(ctx, req)
	if err != nil {
		e.metricInc(MetricOtpAuthFailure)
		e.emitAudit(ctx, auditEventOtpAuth, false, req.OperationID, "", "", req.OtpID, req.AuthMethod, err, nil)
		return nil, err
	}

	outcome := &AuthenticationOutcome{
		Result:    factor.result,
		UserID:    factor.userID,
		OtpStatus: factor.otpStatus,
	}

	if op != nil {
		authRecord := &Authentication{
			AuthenticationID: ident.New(),
			OtpID:            factor.otpID,
			OtpResult:        factor.result,
		}
		updated, err := e.recordFactorStep(ctx, op, req.AuthMethod, factor.result, factor.userID, authRecord)
		if err != nil {
			return nil, err
		}
		outcome.OperationResult = updated.op.Result
		outcome.Steps = updated.steps
		outcome.RemainingAttempts, _ = minRemaining(factor.remaining, e.operationRemaining(updated.op, req.AuthMethod))
	} else {
		outcome.RemainingAttempts, _ = minRemaining(factor.remaining)
	}

	success := factor.result == AuthenticationSucceeded
	if success {
		e.metricInc(MetricOtpAuthSuccess)
	} else {
		e.metricInc(MetricOtpAuthFailure)
	}
	e.emitAudit(ctx, auditEventOtpAuth, success, req.OperationID, factor.userID, "", factor.otpID, req.AuthMethod, nil, func() map[string]string {
		return map[string]string{
			"result":     string(factor.result),
			"status":     string(factor.otpStatus),
			"check_only": boolLabel(req.CheckOnly),
		}
	})

	return outcome, nil
}

// AuthenticateCombined verifies a credential and an OTP as one authentication
// act. Both factors are always charged independently; the overall result is
// SUCCEEDED only when both verify, and the per-factor sub-results are reported
// so the caller can render which factor failed.
func (e *Engine) AuthenticateCombined(ctx context.Context, req CombinedAuthenticationRequest) (*AuthenticationOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}
	if req.Credential.DefinitionName == "" || (req.Otp.OtpID == "" && req.Otp.OperationID == "") {
		return nil, ErrInvalidRequest
	}

	if req.Credential.OperationID != "" && req.Otp.OperationID != "" &&
		req.Credential.OperationID != req.Otp.OperationID {
		return nil, fmt.Errorf("%w: credential and otp reference different operations", ErrInvalidRequest)
	}

	operationID := req.Credential.OperationID
	if operationID == "" {
		operationID = req.Otp.OperationID
	}
	method := req.Credential.AuthMethod
	if method == "" {
		method = req.Otp.AuthMethod
	}

	op, err := e.operationForAuth(ctx, operationID)
	if err != nil {
		return nil, err
	}

	credFactor, err := e.verifyCredential(ctx, req.Credential)
	if err != nil {
		e.metricInc(MetricCombinedAuthFailure)
		e.emitAudit(ctx, auditEventCombinedAuth, false, operationID, req.Credential.UserID, "", "", method, err, nil)
		return nil, err
	}
	otpReq := req.Otp
	otpReq.OperationID = operationID
	otpFactor, err := e.verifyOtp(ctx, otpReq)
	if err != nil {
		e.metricInc(MetricCombinedAuthFailure)
		e.emitAudit(ctx, auditEventCombinedAuth, false, operationID, credFactor.userID, credFactor.credentialID, "", method, err, nil)
		return nil, err
	}

	overall := AuthenticationFailed
	if credFactor.result == AuthenticationSucceeded && otpFactor.result == AuthenticationSucceeded {
		overall = AuthenticationSucceeded
	}

	outcome := &AuthenticationOutcome{
		Result:           overall,
		UserID:           credFactor.userID,
		CredentialStatus: credFactor.credStatus,
		OtpStatus:        otpFactor.otpStatus,
		CredentialResult: credFactor.result,
		OtpResult:        otpFactor.result,
	}

	if op != nil {
		authRecord := &Authentication{
			AuthenticationID: ident.New(),
			CredentialID:     credFactor.credentialID,
			OtpID:            otpFactor.otpID,
			CredentialResult: credFactor.result,
			OtpResult:        otpFactor.result,
		}
		updated, err := e.recordFactorStep(ctx, op, method, overall, credFactor.userID, authRecord)
		if err != nil {
			return nil, err
		}
		outcome.OperationResult = updated.op.Result
		outcome.Steps = updated.steps
		outcome.RemainingAttempts, _ = minRemaining(
			credFactor.remaining,
			otpFactor.remaining,
			e.operationRemaining(updated.op, method),
		)
	} else {
		outcome.RemainingAttempts, _ = minRemaining(credFactor.remaining, otpFactor.remaining)
	}

	success := overall == AuthenticationSucceeded
	if success {
		e.metricInc(MetricCombinedAuthSuccess)
	} else {
		e.metricInc(MetricCombinedAuthFailure)
	}
	e.emitAudit(ctx, auditEventCombinedAuth, success, operationID, credFactor.userID, credFactor.credentialID, otpFactor.otpID, method, nil, func() map[string]string {
		return map[string]string{
			"credential_result": string(credFactor.result),
			"otp_result":        string(otpFactor.result),
		}
	})

	return outcome, nil
}

// operationForAuth loads and fail-fast checks the operation an authentication
// request is bound to. A nil return with nil error means the request is not
// operation-bound.
func (e *Engine) operationForAuth(ctx context.Context, operationID string) (*Operation, error) {
	if operationID == "" {
		return nil, nil
	}
	op, err := e.operations.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.Result != AuthResultContinue {
		return nil, ErrOperationAlreadyFinished
	}
	if op.IsExpired(time.Now()) {
		return nil, ErrOperationExpired
	}
	return op, nil
}

// recordedStep couples the operation state after a recorded step with the
// steps offered next.
type recordedStep struct {
	op    *Operation
	steps []AuthStep
}

func (e *Engine) recordFactorStep(
	ctx context.Context,
	op *Operation,
	method AuthMethod,
	result AuthenticationResult,
	userID string,
	auth *Authentication,
) (*recordedStep, error) {
	stepResult := AuthStepResultConfirmed
	if result == AuthenticationFailed {
		stepResult = AuthStepResultAuthFailed
	}
	if method == "" {
		method = op.ChosenAuthMethod
	}

	updated, err := e.recordStep(ctx, stepRecord{
		OperationID:    op.OperationID,
		UserID:         userID,
		AuthMethod:     method,
		AuthStepResult: stepResult,
		Authentication: auth,
	})
	if err != nil {
		return nil, err
	}

	rec := &recordedStep{op: updated}
	if updated.Result == AuthResultContinue {
		stepRes := e.effectiveStepResult(updated, method, stepResult)
		decision := e.resolver.Resolve(updated.OperationName, string(method), string(stepRes))
		rec.steps = stepsFromDecision(decision)
	}
	return rec, nil
}

// verifyCredential resolves, decrypts, and compares one credential value, then
// applies the counter transition. The user identity is checked first: a blocked
// or removed user fails every authentication regardless of credential status.
func (e *Engine) verifyCredential(ctx context.Context, req CredentialAuthenticationRequest) (*factorOutcome, error) {
	cred, err := e.resolveCredential(ctx, req)
	if err != nil {
		return nil, err
	}

	user, err := e.users.Get(ctx, cred.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != UserIdentityActive {
		return nil, ErrUserNotActive
	}

	definition, err := e.policies.GetCredentialDefinition(ctx, cred.DefinitionName)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetCredentialPolicy(ctx, definition.PolicyName)
	if err != nil {
		return nil, err
	}

	switch cred.Status {
	case CredentialBlockedPermanent:
		return &factorOutcome{
			result:       AuthenticationFailed,
			remaining:    remaining{ok: true},
			userID:       cred.UserID,
			credentialID: cred.CredentialID,
			credStatus:   cred.Status,
		}, nil
	case CredentialBlockedTemporary, CredentialRemoved:
		return nil, ErrCredentialNotActive
	}

	presented := req.Value
	if definition.E2EEncryptionKey != "" {
		envelope, err := e.envelopeFor(definition)
		if err != nil {
			return nil, err
		}
		presented, err = envelope.Open(presented)
		if err != nil {
			return nil, err
		}
	}

	matched, err := e.compareCredentialValue(definition, presented, cred.Value)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	previousStatus := cred.Status
	updated, err := e.credentials.Update(ctx, cred.CredentialID, func(c *Credential) error {
		if c.Status != CredentialActive {
			return ErrCredentialNotActive
		}
		if matched {
			applyCredentialSuccess(c, now)
		} else {
			applyCredentialFailure(c, policy, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previousStatus == CredentialActive {
		switch updated.Status {
		case CredentialBlockedTemporary:
			e.metricInc(MetricCredentialBlockedTemporary)
			e.emitAudit(ctx, auditEventCredentialBlocked, false, req.OperationID, updated.UserID, updated.CredentialID, "", req.AuthMethod, nil, func() map[string]string {
				return map[string]string{"status": string(CredentialBlockedTemporary)}
			})
		case CredentialBlockedPermanent:
			e.metricInc(MetricCredentialBlockedPermanent)
			e.emitAudit(ctx, auditEventCredentialBlocked, false, req.OperationID, updated.UserID, updated.CredentialID, "", req.AuthMethod, nil, func() map[string]string {
				return map[string]string{"status": string(CredentialBlockedPermanent)}
			})
		}
	}

	result := AuthenticationFailed
	if matched {
		result = AuthenticationSucceeded
	}
	return &factorOutcome{
		result:       result,
		remaining:    credentialRemainingAttempts(updated, policy),
		userID:       updated.UserID,
		credentialID: updated.CredentialID,
		credStatus:   updated.Status,
	}, nil
}

// resolveCredential finds the credential addressed by the request, by username
// within the definition or by owner and definition.
func (e *Engine) resolveCredential(ctx context.Context, req CredentialAuthenticationRequest) (*Credential, error) {
	if req.Username != "" {
		return e.credentials.GetByUsername(ctx, req.DefinitionName, req.Username)
	}
	all, err := e.credentials.ListByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	var found *Credential
	for _, c := range all {
		if c.DefinitionName != req.DefinitionName || c.Status == CredentialRemoved {
			continue
		}
		if found != nil {
			return nil, ErrUsernameAmbiguous
		}
		found = c
	}
	if found == nil {
		return nil, ErrCredentialNotFound
	}
	return found, nil
}

func (e *Engine) compareCredentialValue(definition *CredentialDefinition, presented, stored string) (bool, error) {
	if definition.HashingEnabled {
		return e.hasher.Verify(presented, stored)
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1, nil
}

// verifyOtp resolves and compares one OTP value, then applies the counter
// transition. Expired, USED, REMOVED, and BLOCKED OTPs fail fast with
// ErrOtpNotActive.
func (e *Engine) verifyOtp(ctx context.Context, req OtpAuthenticationRequest) (*factorOutcome, error) {
	var otp *Otp
	var err error
	if req.OtpID != "" {
		otp, err = e.otps.Get(ctx, req.OtpID)
	} else {
		otp, err = e.otps.ActiveForOperation(ctx, req.OperationID)
	}
	if err != nil {
		return nil, err
	}

	// An operation-bound OTP only ever authenticates its own operation.
	if req.OperationID != "" && otp.OperationID != "" && otp.OperationID != req.OperationID {
		return nil, fmt.Errorf("%w: otp %s is bound to another operation", ErrInvalidRequest, otp.OtpID)
	}

	if otp.UserID != "" {
		user, err := e.users.Get(ctx, otp.UserID)
		if err == nil && user.Status != UserIdentityActive {
			return nil, ErrUserNotActive
		}
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}

	now := time.Now()
	if otp.Status != OtpActive || otp.IsExpired(now) {
		return nil, ErrOtpNotActive
	}

	definition, err := e.policies.GetOtpDefinition(ctx, otp.DefinitionName)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetOtpPolicy(ctx, definition.PolicyName)
	if err != nil {
		return nil, err
	}
	attemptLimit := policy.AttemptLimit
	if attemptLimit == 0 {
		attemptLimit = e.config.Otp.DefaultAttemptLimit
	}

	matched := otpValueMatches(otp, req.Value)

	if req.CheckOnly && matched {
		// A successful peek consumes nothing.
		return &factorOutcome{
			result:    AuthenticationSucceeded,
			remaining: otpRemainingAttempts(otp, attemptLimit),
			userID:    otp.UserID,
			otpID:     otp.OtpID,
			otpStatus: otp.Status,
		}, nil
	}

	updated, err := e.otps.Update(ctx, otp.OtpID, func(o *Otp) error {
		if o.Status != OtpActive {
			return ErrOtpNotActive
		}
		if matched {
			applyOtpSuccess(o, now)
		} else {
			applyOtpFailure(o, attemptLimit, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == OtpBlocked {
		e.metricInc(MetricOtpBlocked)
	}

	result := AuthenticationFailed
	if matched {
		result = AuthenticationSucceeded
	}
	return &factorOutcome{
		result:    result,
		remaining: otpRemainingAttempts(updated, attemptLimit),
		userID:    updated.UserID,
		otpID:     updated.OtpID,
		otpStatus: updated.Status,
	}, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
