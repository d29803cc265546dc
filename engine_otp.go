package nextstep

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/wultra/powerauth-webflow-sub003/internal/generator"
	"github.com/wultra/powerauth-webflow-sub003/internal/ident"
)

// CreateOtp issues a one-time password under an OTP definition. The value is
// generated per the policy's algorithm unless the caller supplies one. Creating
// an OTP for an operation that already holds an ACTIVE one supersedes the prior
// OTP, which transitions to REMOVED.
func (e *Engine) CreateOtp(ctx context.Context, req CreateOtpRequest) (*CreateOtpResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.DefinitionName == "" {
		return nil, fmt.Errorf("%w: definition name is required", ErrInvalidRequest)
	}

	definition, err := e.policies.GetOtpDefinition(ctx, req.DefinitionName)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetOtpPolicy(ctx, definition.PolicyName)
	if err != nil {
		return nil, err
	}

	if req.UserID != "" {
		user, err := e.users.Get(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if user.Status == UserIdentityRemoved {
			return nil, ErrUserNotActive
		}
	}
	if req.OperationID != "" {
		op, err := e.operations.Get(ctx, req.OperationID)
		if err != nil {
			return nil, err
		}
		if op.Result != AuthResultContinue {
			return nil, ErrOperationAlreadyFinished
		}
		if op.IsExpired(time.Now()) {
			return nil, ErrOperationExpired
		}
	}

	saltBytes, err := generator.Salt(e.config.Otp.SaltLength)
	if err != nil {
		return nil, err
	}
	salt := base64.StdEncoding.EncodeToString(saltBytes)

	value := req.Value
	if value == "" {
		value, err = generateOtpValue(policy, req.OtpData, saltBytes)
		if err != nil {
			return nil, err
		}
	}

	expiration := policy.ExpirationTime
	if expiration <= 0 {
		expiration = e.config.Otp.DefaultExpiration
	}

	otpID := req.OtpID
	if otpID == "" {
		otpID = ident.New()
	}
	now := time.Now()
	otp := &Otp{
		OtpID:            otpID,
		DefinitionName:   definition.Name,
		UserID:           req.UserID,
		CredentialID:     req.CredentialID,
		OperationID:      req.OperationID,
		ValueHash:        otpValueHash(salt, value),
		Salt:             salt,
		OtpData:          req.OtpData,
		Status:           OtpActive,
		TimestampCreated: now,
		TimestampExpires: now.Add(expiration),
	}

	superseded, err := e.otps.Create(ctx, otp)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOtpCreated)
	if superseded != "" {
		e.metricInc(MetricOtpSuperseded)
	}
	e.emitAudit(ctx, auditEventOtpCreated, true, req.OperationID, req.UserID, req.CredentialID, otpID, "", nil, func() map[string]string {
		md := map[string]string{"definition": definition.Name}
		if superseded != "" {
			md["superseded_otp_id"] = superseded
		}
		return md
	})

	return &CreateOtpResult{
		OtpID: otpID,
		Value: value,
	}, nil
}

// GetOtpDetail returns one OTP record by id.
func (e *Engine) GetOtpDetail(ctx context.Context, otpID string) (*Otp, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.otps.Get(ctx, otpID)
}

// ListOtps returns the OTPs issued for an operation, newest last, optionally
// including superseded and deleted ones.
func (e *Engine) ListOtps(ctx context.Context, operationID string, includeRemoved bool) ([]*Otp, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	all, err := e.otps.ListByOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if includeRemoved {
		return all, nil
	}
	kept := all[:0]
	for _, o := range all {
		if o.Status != OtpRemoved {
			kept = append(kept, o)
		}
	}
	return kept, nil
}

// DeleteOtp soft-removes an OTP. A deleted OTP no longer verifies; the record
// is kept for audit.
func (e *Engine) DeleteOtp(ctx context.Context, otpID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	updated, err := e.otps.Update(ctx, otpID, func(o *Otp) error {
		if o.Status == OtpRemoved {
			return ErrOtpNotActive
		}
		o.Status = OtpRemoved
		return nil
	})
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventOtpRemoved, true, updated.OperationID, updated.UserID, updated.CredentialID, otpID, "", nil, nil)
	return nil
}

func generateOtpValue(policy *OtpPolicy, otpData string, salt []byte) (string, error) {
	switch policy.GenAlgorithm {
	case AlgorithmOtpRandomDigits:
		return wrapGenerated(generator.RandomDigits(policy.Length))
	case AlgorithmOtpDataDigest:
		if otpData == "" {
			return "", fmt.Errorf("%w: otp data is required for the data-digest algorithm", ErrInvalidRequest)
		}
		return wrapGenerated(generator.OtpDataDigest(otpData, salt, policy.Length))
	case AlgorithmOtpRandomDigitGroups:
		return wrapGenerated(generator.OtpRandomDigitGroups(policy.Length, policy.GroupSize))
	default:
		return "", fmt.Errorf("%w: otp generation algorithm %q", ErrInvalidConfiguration, policy.GenAlgorithm)
	}
}

// otpValueHash digests an OTP value under its per-OTP salt. OTP values are
// short digit strings, so plain comparison would invite offline guessing from
// a leaked store dump.
func otpValueHash(salt, value string) string {
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		raw = []byte(salt)
	}
	h := sha256.New()
	h.Write(raw)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

func otpValueMatches(o *Otp, value string) bool {
	computed := otpValueHash(o.Salt, value)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(o.ValueHash)) == 1
}
