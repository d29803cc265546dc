//go:build integration
// +build integration

package test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	nextstep "github.com/wultra/powerauth-webflow-sub003"
	"github.com/wultra/powerauth-webflow-sub003/steps"
)

const (
	credentialDefinition = "INTEG_CREDENTIAL"
	otpDefinition        = "INTEG_OTP"
	userID               = "integ-user"
	username             = "integuser"
	credentialValue      = "integsecret99"
)

func loginSteps() []steps.Definition {
	return []steps.Definition{
		{
			OperationName:         "login",
			RequestAuthMethod:     "INIT",
			RequestAuthStepResult: steps.StepConfirmed,
			ResponseAuthMethod:    string(nextstep.AuthMethodUsernamePassword),
			ResponsePriority:      1,
			ResponseResult:        steps.ResultContinue,
		},
		{
			OperationName:         "login",
			RequestAuthMethod:     string(nextstep.AuthMethodUsernamePassword),
			RequestAuthStepResult: steps.StepConfirmed,
			ResponseAuthMethod:    string(nextstep.AuthMethodSMSKey),
			ResponsePriority:      1,
			ResponseResult:        steps.ResultContinue,
		},
	}
}

func loginMethodConfigs() []steps.MethodConfig {
	return []steps.MethodConfig{
		{OperationName: "login", AuthMethod: string(nextstep.AuthMethodUsernamePassword), MaxAuthFails: 5},
		{OperationName: "login", AuthMethod: string(nextstep.AuthMethodSMSKey), MaxAuthFails: 3},
	}
}

// newIntegrationRedis starts one miniredis instance shared by as many engine
// instances as the test builds on top of it.
func newIntegrationRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func newIntegrationEngine(t *testing.T, rdb *redis.Client, mutate func(*nextstep.Builder)) *nextstep.Engine {
	t.Helper()

	b := nextstep.New().
		WithRedis(rdb).
		WithStepDefinitions(loginSteps()).
		WithMethodConfigs(loginMethodConfigs())
	if mutate != nil {
		mutate(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// seedIntegrationData registers policies and definitions and creates one user
// with a credential of a known plaintext value.
func seedIntegrationData(t *testing.T, e *nextstep.Engine) {
	t.Helper()
	ctx := context.Background()

	if err := e.CreateCredentialPolicy(ctx, &nextstep.CredentialPolicy{
		Name:                "integ-default",
		UsernameLengthMin:   4,
		UsernameLengthMax:   30,
		CredentialLengthMin: 8,
		CredentialLengthMax: 40,
		LimitSoft:           3,
		LimitHard:           5,
		CheckHistoryCount:   3,

		UsernameGenAlgorithm:   nextstep.AlgorithmRandomLetters,
		UsernameGenParam:       nextstep.UsernameGenerationParam{Length: 8},
		CredentialGenAlgorithm: nextstep.AlgorithmRandomPassword,
		CredentialGenParam: nextstep.CredentialGenerationParam{
			Length:         12,
			SmallLetters:   5,
			CapitalLetters: 3,
			Digits:         2,
			SpecialChars:   2,
		},
	}); err != nil {
		t.Fatalf("create credential policy failed: %v", err)
	}
	if err := e.CreateCredentialDefinition(ctx, &nextstep.CredentialDefinition{
		Name:          credentialDefinition,
		ApplicationID: "integ-app",
		PolicyName:    "integ-default",
		Category:      nextstep.CategoryPassword,
	}); err != nil {
		t.Fatalf("create credential definition failed: %v", err)
	}
	if err := e.CreateOtpPolicy(ctx, &nextstep.OtpPolicy{
		Name:           "integ-otp",
		Length:         8,
		AttemptLimit:   3,
		ExpirationTime: 5 * time.Minute,
		GenAlgorithm:   nextstep.AlgorithmOtpRandomDigits,
	}); err != nil {
		t.Fatalf("create otp policy failed: %v", err)
	}
	if err := e.CreateOtpDefinition(ctx, &nextstep.OtpDefinition{
		Name:          otpDefinition,
		ApplicationID: "integ-app",
		PolicyName:    "integ-otp",
	}); err != nil {
		t.Fatalf("create otp definition failed: %v", err)
	}
	if _, err := e.CreateUserIdentity(ctx, nextstep.CreateUserRequest{UserID: userID}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if _, err := e.CreateCredential(ctx, nextstep.CreateCredentialRequest{
		DefinitionName: credentialDefinition,
		UserID:         userID,
		Username:       username,
		Value:          credentialValue,
	}); err != nil {
		t.Fatalf("create credential failed: %v", err)
	}
}
