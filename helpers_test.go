package nextstep

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wultra/powerauth-webflow-sub003/steps"
)

const (
	testCredentialDefinition = "TEST_CREDENTIAL"
	testOtpDefinition        = "TEST_OTP"
	testUserID               = "u1"
	testUsername             = "testuser"
	testCredentialValue      = "secret123value"
)

func testStepDefinitions() []steps.Definition {
	return []steps.Definition{
		{
			OperationName:         "login",
			RequestAuthMethod:     "INIT",
			RequestAuthStepResult: steps.StepConfirmed,
			ResponseAuthMethod:    string(AuthMethodUsernamePassword),
			ResponsePriority:      1,
			ResponseResult:        steps.ResultContinue,
		},
		{
			OperationName:         "login",
			RequestAuthMethod:     string(AuthMethodUsernamePassword),
			RequestAuthStepResult: steps.StepConfirmed,
			ResponseAuthMethod:    string(AuthMethodSMSKey),
			ResponsePriority:      1,
			ResponseResult:        steps.ResultContinue,
		},
		// SMS_KEY confirmed has no routing row: the chain is complete and the
		// operation goes DONE.
		{
			OperationName:         "approval",
			RequestAuthMethod:     "INIT",
			RequestAuthStepResult: steps.StepConfirmed,
			ResponseAuthMethod:    string(AuthMethodLoginSCA),
			ResponsePriority:      1,
			ResponseResult:        steps.ResultContinue,
		},
	}
}

func testMethodConfigs() []steps.MethodConfig {
	return []steps.MethodConfig{
		{OperationName: "login", AuthMethod: string(AuthMethodUsernamePassword), MaxAuthFails: 5},
		{OperationName: "login", AuthMethod: string(AuthMethodSMSKey), MaxAuthFails: 3},
		{OperationName: "approval", AuthMethod: string(AuthMethodLoginSCA), MaxAuthFails: 2},
	}
}

func newTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()
	return newTestEngineWith(t, nil)
}

func newTestEngineWith(t *testing.T, mutate func(*Config)) (*Engine, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := defaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithRedis(rdb).
		WithConfig(cfg).
		WithStepDefinitions(testStepDefinitions()).
		WithMethodConfigs(testMethodConfigs()).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func testCredentialPolicy() *CredentialPolicy {
	return &CredentialPolicy{
		Name:                "default",
		UsernameLengthMin:   4,
		UsernameLengthMax:   30,
		CredentialLengthMin: 8,
		CredentialLengthMax: 40,
		LimitSoft:           3,
		LimitHard:           5,
		CheckHistoryCount:   3,

		UsernameGenAlgorithm:   AlgorithmRandomLetters,
		UsernameGenParam:       UsernameGenerationParam{Length: 8},
		CredentialGenAlgorithm: AlgorithmRandomPassword,
		CredentialGenParam: CredentialGenerationParam{
			Length:         12,
			SmallLetters:   5,
			CapitalLetters: 3,
			Digits:         2,
			SpecialChars:   2,
		},
		CredentialValParam: ValidationParam{
			MinLowercase:     1,
			MinDigits:        1,
			RejectWhitespace: true,
		},
	}
}

func testOtpPolicy() *OtpPolicy {
	return &OtpPolicy{
		Name:           "otp-default",
		Length:         8,
		AttemptLimit:   3,
		ExpirationTime: 5 * time.Minute,
		GenAlgorithm:   AlgorithmOtpRandomDigits,
	}
}

// seedAuthData registers the test policies and definitions and creates one
// ACTIVE user.
func seedAuthData(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()

	if err := e.CreateCredentialPolicy(ctx, testCredentialPolicy()); err != nil {
		t.Fatalf("create credential policy failed: %v", err)
	}
	if err := e.CreateCredentialDefinition(ctx, &CredentialDefinition{
		Name:          testCredentialDefinition,
		ApplicationID: "app",
		PolicyName:    "default",
		Category:      CategoryPassword,
	}); err != nil {
		t.Fatalf("create credential definition failed: %v", err)
	}
	if err := e.CreateOtpPolicy(ctx, testOtpPolicy()); err != nil {
		t.Fatalf("create otp policy failed: %v", err)
	}
	if err := e.CreateOtpDefinition(ctx, &OtpDefinition{
		Name:          testOtpDefinition,
		ApplicationID: "app",
		PolicyName:    "otp-default",
	}); err != nil {
		t.Fatalf("create otp definition failed: %v", err)
	}
	if _, err := e.CreateUserIdentity(ctx, CreateUserRequest{UserID: testUserID}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
}

// seedCredential creates the default user's credential with a known plaintext
// value and returns its id.
func seedCredential(t *testing.T, e *Engine) string {
	t.Helper()
	result, err := e.CreateCredential(context.Background(), CreateCredentialRequest{
		DefinitionName: testCredentialDefinition,
		UserID:         testUserID,
		Username:       testUsername,
		Value:          testCredentialValue,
	})
	if err != nil {
		t.Fatalf("create credential failed: %v", err)
	}
	return result.CredentialID
}

func seedLoginOperation(t *testing.T, e *Engine) *OperationDetail {
	t.Helper()
	detail, err := e.CreateOperation(context.Background(), CreateOperationRequest{
		OperationName: "login",
		OperationData: "A1*R1",
	})
	if err != nil {
		t.Fatalf("create operation failed: %v", err)
	}
	return detail
}

// seedOtp issues an OTP for the given operation and returns its id and
// plaintext value.
func seedOtp(t *testing.T, e *Engine, operationID string) (string, string) {
	t.Helper()
	result, err := e.CreateOtp(context.Background(), CreateOtpRequest{
		DefinitionName: testOtpDefinition,
		UserID:         testUserID,
		OperationID:    operationID,
	})
	if err != nil {
		t.Fatalf("create otp failed: %v", err)
	}
	return result.OtpID, result.Value
}
