package nextstep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wultra/powerauth-webflow-sub003/opclaims"
)

func TestCreateOperationOffersInitialStep(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)

	detail := seedLoginOperation(t, engine)
	if detail.Operation.Result != AuthResultContinue {
		t.Fatalf("expected CONTINUE, got %s", detail.Operation.Result)
	}
	if detail.Operation.ChosenAuthMethod != AuthMethodUsernamePassword {
		t.Fatalf("expected USERNAME_PASSWORD_AUTH chosen, got %s", detail.Operation.ChosenAuthMethod)
	}
	if len(detail.Steps) != 1 || detail.Steps[0].AuthMethod != AuthMethodUsernamePassword {
		t.Fatalf("expected one USERNAME_PASSWORD_AUTH step, got %v", detail.Steps)
	}
	if len(detail.History) != 1 {
		t.Fatalf("expected one history row, got %d", len(detail.History))
	}
	first := detail.History[0]
	if first.RequestAuthMethod != AuthMethodInit || first.RequestAuthStepResult != AuthStepResultConfirmed {
		t.Fatalf("expected INIT/CONFIRMED history row, got %s/%s", first.RequestAuthMethod, first.RequestAuthStepResult)
	}
	if detail.Assertion != "" {
		t.Fatal("expected no assertion while assertions are disabled")
	}
}

func TestCreateOperationUnknownNameFails(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()

	_, err := engine.CreateOperation(context.Background(), CreateOperationRequest{
		OperationName: "unknown",
	})
	if err == nil {
		t.Fatal("expected an error for an unregistered operation name")
	}
}

func TestOperationConfirmedChainToDone(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)
	op := seedLoginOperation(t, engine)
	ctx := context.Background()

	detail, err := engine.UpdateOperation(ctx, UpdateOperationRequest{
		OperationID:    op.OperationID(),
		UserID:         testUserID,
		AuthMethod:     AuthMethodUsernamePassword,
		AuthStepResult: AuthStepResultConfirmed,
	})
	if err != nil {
		t.Fatalf("first step failed: %v", err)
	}
	if detail.Operation.Result != AuthResultContinue {
		t.Fatalf("expected CONTINUE after first factor, got %s", detail.Operation.Result)
	}
	if len(detail.Steps) != 1 || detail.Steps[0].AuthMethod != AuthMethodSMSKey {
		t.Fatalf("expected SMS_KEY offered next, got %v", detail.Steps)
	}
	if detail.Operation.UserID != testUserID {
		t.Fatal("expected the user bound to the operation")
	}

	detail, err = engine.UpdateOperation(ctx, UpdateOperationRequest{
		OperationID:    op.OperationID(),
		AuthMethod:     AuthMethodSMSKey,
		AuthStepResult: AuthStepResultConfirmed,
	})
	if err != nil {
		t.Fatalf("second step failed: %v", err)
	}
	if detail.Operation.Result != AuthResultDone {
		t.Fatalf("expected DONE after the chain completes, got %s", detail.Operation.Result)
	}
	if len(detail.Steps) != 0 {
		t.Fatalf("expected no further steps, got %v", detail.Steps)
	}
}

func TestOperationDoneIssuesAssertion(t *testing.T) {
	secretKey := []byte("assertion-signing-secret")
	engine, done := newTestEngineWith(t, func(cfg *Config) {
		cfg.Assertion.Enabled = true
		cfg.Assertion.SigningMethod = "hs256"
		cfg.Assertion.PrivateKey = secretKey
		cfg.Assertion.Issuer = "nextstep-test"
	})
	defer done()
	seedAuthData(t, engine)
	op := seedLoginOperation(t, engine)
	ctx := context.Background()

	for _, method := range []AuthMethod{AuthMethodUsernamePassword, AuthMethodSMSKey} {
		var err error
		if _, err = engine.UpdateOperation(ctx, UpdateOperationRequest{
			OperationID:    op.OperationID(),
			UserID:         testUserID,
			AuthMethod:     method,
			AuthStepResult: AuthStepResultConfirmed,
		}); err != nil {
			t.Fatalf("step %s failed: %v", method, err)
		}
	}

	detail, err := engine.GetOperationDetail(ctx, op.OperationID())
	if err != nil {
		t.Fatalf("get detail failed: %v", err)
	}
	if detail.Assertion == "" {
		t.Fatal("expected a signed assertion on DONE")
	}

	verifier, err := opclaims.NewManager(opclaims.Config{
		TTL:           10 * time.Minute,
		SigningMethod: opclaims.MethodHS256,
		PrivateKey:    secretKey,
		Issuer:        "nextstep-test",
	})
	if err != nil {
		t.Fatalf("verifier setup failed: %v", err)
	}
	claims, err := verifier.Parse(detail.Assertion)
	if err != nil {
		t.Fatalf("assertion parse failed: %v", err)
	}
	if claims.OperationName != "login" || claims.UserID != testUserID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.OperationData != "A1*R1" {
		t.Fatalf("expected operation data in the assertion, got %q", claims.OperationData)
	}
}

func TestCancelOperation(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)
	op := seedLoginOperation(t, engine)
	ctx := context.Background()

	detail, err := engine.CancelOperation(ctx, op.OperationID(), AuthMethodUsernamePassword)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if detail.Operation.Result != AuthResultFailed {
		t.Fatalf("expected FAILED after cancel, got %s", detail.Operation.Result)
	}

	if _, err := engine.UpdateOperation(ctx, UpdateOperationRequest{
		OperationID:    op.OperationID(),
		AuthMethod:     AuthMethodUsernamePassword,
		AuthStepResult: AuthStepResultConfirmed,
	}); !errors.Is(err, ErrOperationAlreadyFinished) {
		t.Fatalf("expected ErrOperationAlreadyFinished, got %v", err)
	}
}

func TestOperationMethodFailureEscalation(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)
	op := seedLoginOperation(t, engine)
	ctx := context.Background()

	// MaxAuthFails for USERNAME_PASSWORD_AUTH on login is 5: the first four
	// failures keep the operation alive with a same-method retry, the fifth
	// escalates to AUTH_METHOD_FAILED and fails the operation.
	for i := 0; i < 4; i++ {
		detail, err := engine.UpdateOperation(ctx, UpdateOperationRequest{
			OperationID:    op.OperationID(),
			AuthMethod:     AuthMethodUsernamePassword,
			AuthStepResult: AuthStepResultAuthFailed,
		})
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if detail.Operation.Result != AuthResultContinue {
			t.Fatalf("failure %d: expected CONTINUE, got %s", i, detail.Operation.Result)
		}
		if len(detail.Steps) != 1 || detail.Steps[0].AuthMethod != AuthMethodUsernamePassword {
			t.Fatalf("failure %d: expected same-method retry, got %v", i, detail.Steps)
		}
	}

	detail, err := engine.UpdateOperation(ctx, UpdateOperationRequest{
		OperationID:    op.OperationID(),
		AuthMethod:     AuthMethodUsernamePassword,
		AuthStepResult: AuthStepResultAuthFailed,
	})
	if err != nil {
		t.Fatalf("final failure: %v", err)
	}
	if detail.Operation.Result != AuthResultFailed {
		t.Fatalf("expected FAILED at the method cap, got %s", detail.Operation.Result)
	}
}

func TestExpiredOperationDerivedAndPersisted(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)
	ctx := context.Background()

	detail, err := engine.CreateOperation(ctx, CreateOperationRequest{
		OperationName: "login",
		OperationData: "A1*R1",
		Expiration:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	operationID := detail.OperationID()
	time.Sleep(5 * time.Millisecond)

	// Reads derive FAILED without mutating stored state.
	got, err := engine.GetOperationDetail(ctx, operationID)
	if err != nil {
		t.Fatalf("get detail failed: %v", err)
	}
	if got.Operation.Result != AuthResultContinue {
		t.Fatalf("expected stored CONTINUE, got %s", got.Operation.Result)
	}
	if got.Operation.EffectiveResult(time.Now()) != AuthResultFailed {
		t.Fatal("expected derived FAILED for an expired operation")
	}
	if len(got.Steps) != 0 {
		t.Fatalf("expected no steps offered on an expired operation, got %v", got.Steps)
	}

	// A write persists the FAILED transition.
	if _, err := engine.UpdateOperation(ctx, UpdateOperationRequest{
		OperationID:    operationID,
		AuthMethod:     AuthMethodUsernamePassword,
		AuthStepResult: AuthStepResultConfirmed,
	}); !errors.Is(err, ErrOperationExpired) {
		t.Fatalf("expected ErrOperationExpired, got %v", err)
	}

	op, err := engine.operations.Get(ctx, operationID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if op.Result != AuthResultFailed {
		t.Fatalf("expected FAILED persisted after the write, got %s", op.Result)
	}
}

func TestSetChosenAuthMethod(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)
	op := seedLoginOperation(t, engine)
	ctx := context.Background()

	if err := engine.SetChosenAuthMethod(ctx, op.OperationID(), AuthMethodSMSKey); err != nil {
		t.Fatalf("set chosen method failed: %v", err)
	}
	got, err := engine.GetOperationDetail(ctx, op.OperationID())
	if err != nil {
		t.Fatalf("get detail failed: %v", err)
	}
	if got.Operation.ChosenAuthMethod != AuthMethodSMSKey {
		t.Fatalf("expected SMS_KEY chosen, got %s", got.Operation.ChosenAuthMethod)
	}

	if _, err := engine.CancelOperation(ctx, op.OperationID(), ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := engine.SetChosenAuthMethod(ctx, op.OperationID(), AuthMethodUsernamePassword); !errors.Is(err, ErrOperationAlreadyFinished) {
		t.Fatalf("expected ErrOperationAlreadyFinished, got %v", err)
	}
}

func TestRecordAfsAction(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)
	op := seedLoginOperation(t, engine)
	ctx := context.Background()

	if err := engine.RecordAfsAction(ctx, op.OperationID(), AfsAction{
		Action:    "APPROVE",
		StepIndex: 1,
	}); err != nil {
		t.Fatalf("record afs action failed: %v", err)
	}

	got, err := engine.GetOperationDetail(ctx, op.OperationID())
	if err != nil {
		t.Fatalf("get detail failed: %v", err)
	}
	if len(got.Operation.AfsActions) != 1 || got.Operation.AfsActions[0].Action != "APPROVE" {
		t.Fatalf("expected the recorded afs action, got %v", got.Operation.AfsActions)
	}
	if got.Operation.AfsActions[0].TimestampCreated.IsZero() {
		t.Fatal("expected a timestamp stamped on the afs action")
	}
}

func TestListPendingOperationsForUser(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)
	ctx := context.Background()

	first, err := engine.CreateOperation(ctx, CreateOperationRequest{
		OperationName: "login",
		OperationData: "A1*R1",
		UserID:        testUserID,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := engine.CreateOperation(ctx, CreateOperationRequest{
		OperationName: "approval",
		OperationData: "A2*R2",
		UserID:        testUserID,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := engine.CancelOperation(ctx, first.OperationID(), ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	pending, err := engine.ListPendingOperationsForUser(ctx, testUserID)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].OperationID != second.OperationID() {
		t.Fatalf("expected only the approval operation pending, got %d entries", len(pending))
	}

	all, err := engine.ListOperationsForUser(ctx, testUserID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both operations listed, got %d", len(all))
	}
}
