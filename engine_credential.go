package nextstep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wultra/powerauth-webflow-sub003/internal/generator"
	"github.com/wultra/powerauth-webflow-sub003/internal/ident"
	"github.com/wultra/powerauth-webflow-sub003/internal/validation"
	"github.com/wultra/powerauth-webflow-sub003/secret"
)

// CreateCredential creates a credential under a definition for an existing user.
// Username and value are generated per the definition's policy when the request
// leaves them empty; generated pieces are returned in plaintext exactly once.
func (e *Engine) CreateCredential(ctx context.Context, req CreateCredentialRequest) (*CreateCredentialResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.DefinitionName == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: definition name and user id are required", ErrInvalidRequest)
	}

	user, err := e.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status == UserIdentityRemoved {
		return nil, ErrUserNotActive
	}

	definition, err := e.policies.GetCredentialDefinition(ctx, req.DefinitionName)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetCredentialPolicy(ctx, definition.PolicyName)
	if err != nil {
		return nil, err
	}

	username := req.Username
	usernameGenerated := false
	if username == "" && policy.UsernameGenAlgorithm != AlgorithmNoUsername {
		username, err = e.generateValidated(func() (string, error) {
			return generateUsername(policy)
		}, func(candidate string) error {
			return e.checkUsername(ctx, definition, policy, candidate)
		})
		if err != nil {
			return nil, err
		}
		usernameGenerated = true
	} else if username != "" {
		if err := e.checkUsername(ctx, definition, policy, username); err != nil {
			return nil, err
		}
	}

	value := req.Value
	valueGenerated := false
	if value == "" {
		value, err = e.generateValidated(func() (string, error) {
			return generateCredentialValue(policy)
		}, func(candidate string) error {
			return e.checkCredentialValue(ctx, definition, policy, req.UserID, username, candidate)
		})
		if err != nil {
			return nil, err
		}
		valueGenerated = true
	} else {
		if err := e.checkCredentialValue(ctx, definition, policy, req.UserID, username, value); err != nil {
			return nil, err
		}
	}

	stored, err := e.storedValue(definition, value)
	if err != nil {
		return nil, err
	}

	credentialID := req.CredentialID
	if credentialID == "" {
		credentialID = ident.New()
	}
	now := time.Now()
	cred := &Credential{
		CredentialID:         credentialID,
		DefinitionName:       definition.Name,
		UserID:               req.UserID,
		Username:             username,
		Value:                stored,
		Status:               CredentialActive,
		TimestampCreated:     now,
		TimestampLastUpdated: now,
	}
	if err := e.credentials.Create(ctx, cred); err != nil {
		return nil, err
	}

	e.metricInc(MetricCredentialCreated)
	e.emitAudit(ctx, auditEventCredentialCreated, true, "", req.UserID, credentialID, "", "", nil, func() map[string]string {
		return map[string]string{
			"definition":         definition.Name,
			"username_generated": boolLabel(usernameGenerated),
			"value_generated":    boolLabel(valueGenerated),
		}
	})

	result := &CreateCredentialResult{CredentialID: credentialID}
	if usernameGenerated {
		result.Username = username
	}
	if valueGenerated {
		result.Value = value
	}
	return result, nil
}

// UpdateCredential renames and/or rotates a credential. Rotation validates the
// new value against the policy and appends the prior value to the credential
// history before the change takes effect.
func (e *Engine) UpdateCredential(ctx context.Context, req UpdateCredentialRequest) (*Credential, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.CredentialID == "" {
		return nil, fmt.Errorf("%w: credential id is required", ErrInvalidRequest)
	}
	if req.Username == "" && req.Value == "" {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}

	cred, err := e.credentials.Get(ctx, req.CredentialID)
	if err != nil {
		return nil, err
	}
	if cred.Status == CredentialRemoved {
		return nil, ErrCredentialNotActive
	}
	definition, err := e.policies.GetCredentialDefinition(ctx, cred.DefinitionName)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetCredentialPolicy(ctx, definition.PolicyName)
	if err != nil {
		return nil, err
	}

	rename := req.Username != "" && req.Username != cred.Username
	if rename {
		if err := e.checkUsername(ctx, definition, policy, req.Username); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	var stored string
	if req.Value != "" {
		username := cred.Username
		if rename {
			username = req.Username
		}
		if err := e.checkCredentialValue(ctx, definition, policy, cred.UserID, username, req.Value); err != nil {
			return nil, err
		}
		entry := &CredentialHistoryEntry{
			DefinitionName:   cred.DefinitionName,
			UserID:           cred.UserID,
			Value:            cred.Value,
			TimestampCreated: now,
		}
		if err := e.credentials.AppendHistory(ctx, entry, e.historyLimit(policy)); err != nil {
			return nil, err
		}
		stored, err = e.storedValue(definition, req.Value)
		if err != nil {
			return nil, err
		}
	}

	apply := func(c *Credential) error {
		if c.Status == CredentialRemoved {
			return ErrCredentialNotActive
		}
		if stored != "" {
			c.Value = stored
			c.TimestampLastCredentialChange = now
		}
		if rename {
			c.Username = req.Username
			c.TimestampLastUsernameChange = now
		}
		c.TimestampLastUpdated = now
		return nil
	}

	var updated *Credential
	if rename {
		updated, err = e.credentials.Rename(ctx, req.CredentialID, definition.Name, req.Username, apply)
	} else {
		updated, err = e.credentials.Update(ctx, req.CredentialID, apply)
	}
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventCredentialUpdated, true, "", updated.UserID, updated.CredentialID, "", "", nil, func() map[string]string {
		return map[string]string{
			"renamed": boolLabel(rename),
			"rotated": boolLabel(stored != ""),
		}
	})
	return updated, nil
}

// ResetCredential discards the current value, generates a fresh one per the
// policy, revives the credential to ACTIVE, and zeroes both failure counters.
// The prior value is appended to the history first.
func (e *Engine) ResetCredential(ctx context.Context, credentialID string) (*CreateCredentialResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	cred, err := e.credentials.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred.Status == CredentialRemoved {
		return nil, ErrCredentialNotActive
	}
	definition, err := e.policies.GetCredentialDefinition(ctx, cred.DefinitionName)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetCredentialPolicy(ctx, definition.PolicyName)
	if err != nil {
		return nil, err
	}

	value, err := e.generateValidated(func() (string, error) {
		return generateCredentialValue(policy)
	}, func(candidate string) error {
		return e.checkCredentialValue(ctx, definition, policy, cred.UserID, cred.Username, candidate)
	})
	if err != nil {
		return nil, err
	}
	stored, err := e.storedValue(definition, value)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &CredentialHistoryEntry{
		DefinitionName:   cred.DefinitionName,
		UserID:           cred.UserID,
		Value:            cred.Value,
		TimestampCreated: now,
	}
	if err := e.credentials.AppendHistory(ctx, entry, e.historyLimit(policy)); err != nil {
		return nil, err
	}

	updated, err := e.credentials.Update(ctx, credentialID, func(c *Credential) error {
		if c.Status == CredentialRemoved {
			return ErrCredentialNotActive
		}
		c.Value = stored
		c.Status = CredentialActive
		c.FailedAttemptCounterSoft = 0
		c.FailedAttemptCounterHard = 0
		c.TimestampBlocked = time.Time{}
		c.TimestampLastCredentialChange = now
		c.TimestampLastUpdated = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventCredentialUpdated, true, "", updated.UserID, credentialID, "", "", nil, func() map[string]string {
		return map[string]string{"reset": "true"}
	})
	return &CreateCredentialResult{
		CredentialID: credentialID,
		Value:        value,
	}, nil
}

// DeleteCredential soft-removes a credential. The username is released for
// reuse; attempt counters are kept for audit.
func (e *Engine) DeleteCredential(ctx context.Context, credentialID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	var released struct {
		definition string
		username   string
	}
	updated, err := e.credentials.Update(ctx, credentialID, func(c *Credential) error {
		if c.Status == CredentialRemoved {
			return ErrCredentialNotActive
		}
		released.definition = c.DefinitionName
		released.username = c.Username
		c.Status = CredentialRemoved
		c.Username = ""
		c.TimestampLastUpdated = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	if released.username != "" {
		if err := e.credentials.ReleaseUsername(ctx, released.definition, released.username); err != nil {
			return err
		}
	}

	e.metricInc(MetricCredentialRemoved)
	e.emitAudit(ctx, auditEventCredentialRemoved, true, "", updated.UserID, credentialID, "", "", nil, nil)
	return nil
}

// BlockCredential manually blocks an ACTIVE credential. A manual block is
// permanent and holds until an explicit unblock.
func (e *Engine) BlockCredential(ctx context.Context, credentialID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	now := time.Now()
	updated, err := e.credentials.Update(ctx, credentialID, func(c *Credential) error {
		if c.Status != CredentialActive {
			return ErrCredentialNotActive
		}
		c.Status = CredentialBlockedPermanent
		c.TimestampBlocked = now
		c.TimestampLastUpdated = now
		return nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricCredentialBlockedPermanent)
	e.emitAudit(ctx, auditEventCredentialBlocked, true, "", updated.UserID, credentialID, "", "", nil, func() map[string]string {
		return map[string]string{"manual": "true"}
	})
	return nil
}

// UnblockCredential revives a blocked credential to ACTIVE and zeroes both
// failure counters. Fails with ErrCredentialNotBlocked on an ACTIVE credential.
func (e *Engine) UnblockCredential(ctx context.Context, credentialID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	now := time.Now()
	updated, err := e.credentials.Update(ctx, credentialID, func(c *Credential) error {
		return unblockCredential(c, now)
	})
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventCredentialUnblocked, true, "", updated.UserID, credentialID, "", "", nil, nil)
	return nil
}

// UpdateCredentialCounter records an externally verified authentication result
// against a credential's counters, applying the same blocking transitions as
// in-engine verification.
func (e *Engine) UpdateCredentialCounter(ctx context.Context, credentialID string, result AuthenticationResult) (*Credential, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if result != AuthenticationSucceeded && result != AuthenticationFailed {
		return nil, fmt.Errorf("%w: unknown authentication result %q", ErrInvalidRequest, result)
	}
	cred, err := e.credentials.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	definition, err := e.policies.GetCredentialDefinition(ctx, cred.DefinitionName)
	if err != nil {
		return nil, err
	}
	policy, err := e.policies.GetCredentialPolicy(ctx, definition.PolicyName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updated, err := e.credentials.Update(ctx, credentialID, func(c *Credential) error {
		if c.Status != CredentialActive {
			return ErrCredentialNotActive
		}
		if result == AuthenticationSucceeded {
			applyCredentialSuccess(c, now)
		} else {
			applyCredentialFailure(c, policy, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch updated.Status {
	case CredentialBlockedTemporary:
		e.metricInc(MetricCredentialBlockedTemporary)
	case CredentialBlockedPermanent:
		e.metricInc(MetricCredentialBlockedPermanent)
	}
	return updated, nil
}

// ListCredentialsForUser returns the user's credentials, optionally including
// soft-removed ones.
func (e *Engine) ListCredentialsForUser(ctx context.Context, userID string, includeRemoved bool) ([]*Credential, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	all, err := e.credentials.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if includeRemoved {
		return all, nil
	}
	kept := all[:0]
	for _, c := range all {
		if c.Status != CredentialRemoved {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// LookupUser resolves a user identity from a username within one credential
// definition's namespace.
func (e *Engine) LookupUser(ctx context.Context, username, definitionName string) (*UserIdentity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	cred, err := e.credentials.GetByUsername(ctx, definitionName, username)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if cred.Status == CredentialRemoved {
		return nil, ErrUserNotFound
	}
	return e.users.Get(ctx, cred.UserID)
}

// ValidateUsername checks a candidate username against a definition's policy
// rules, including uniqueness. A failed check returns a *ValidationError with
// the full ordered failure list.
func (e *Engine) ValidateUsername(ctx context.Context, definitionName, username string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	definition, err := e.policies.GetCredentialDefinition(ctx, definitionName)
	if err != nil {
		return err
	}
	policy, err := e.policies.GetCredentialPolicy(ctx, definition.PolicyName)
	if err != nil {
		return err
	}
	return e.checkUsername(ctx, definition, policy, username)
}

// ValidateCredentialValue checks a candidate credential value against a
// definition's policy rules, including history reuse for the given user. A
// failed check returns a *ValidationError with the full ordered failure list.
func (e *Engine) ValidateCredentialValue(ctx context.Context, definitionName, userID, username, value string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	definition, err := e.policies.GetCredentialDefinition(ctx, definitionName)
	if err != nil {
		return err
	}
	policy, err := e.policies.GetCredentialPolicy(ctx, definition.PolicyName)
	if err != nil {
		return err
	}
	return e.checkCredentialValue(ctx, definition, policy, userID, username, value)
}

func (e *Engine) checkUsername(ctx context.Context, definition *CredentialDefinition, policy *CredentialPolicy, candidate string) error {
	var lookupErr error
	exists := func(candidate string) bool {
		if lookupErr != nil {
			return false
		}
		_, err := e.credentials.GetByUsername(ctx, definition.Name, candidate)
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrCredentialNotFound) {
			lookupErr = err
		}
		return false
	}
	failures, err := validation.ValidateUsername(candidate, usernameRules(policy), validation.Context{
		UsernameExists: exists,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if lookupErr != nil {
		return lookupErr
	}
	return validationErr(failures)
}

func (e *Engine) checkCredentialValue(ctx context.Context, definition *CredentialDefinition, policy *CredentialPolicy, userID, username, candidate string) error {
	var historyMatch func(string) bool
	if policy.CheckHistoryCount > 0 {
		entries, err := e.credentials.History(ctx, definition.Name, userID)
		if err != nil {
			return err
		}
		if len(entries) > policy.CheckHistoryCount {
			entries = entries[len(entries)-policy.CheckHistoryCount:]
		}
		historyMatch = func(candidate string) bool {
			for i := range entries {
				ok, err := e.compareCredentialValue(definition, candidate, entries[i].Value)
				if err == nil && ok {
					return true
				}
			}
			return false
		}
	}
	failures, err := validation.ValidateCredential(candidate, credentialRules(policy), validation.Context{
		Username:     username,
		HistoryMatch: historyMatch,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return validationErr(failures)
}

// generateValidated runs a generate-then-validate loop. Generation and
// validation parameters are configured independently; a policy whose generated
// values can never validate is a configuration error, not a silent retry-forever.
func (e *Engine) generateValidated(gen func() (string, error), check func(string) error) (string, error) {
	limit := e.config.Credential.GenerationRetryLimit
	var lastErr error
	for i := 0; i < limit; i++ {
		candidate, err := gen()
		if err != nil {
			return "", err
		}
		if err := check(candidate); err != nil {
			if _, ok := AsValidationError(err); ok {
				lastErr = err
				continue
			}
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%w: generated values keep failing validation after %d attempts: %v", ErrInvalidConfiguration, limit, lastErr)
}

func (e *Engine) storedValue(definition *CredentialDefinition, value string) (string, error) {
	if !definition.HashingEnabled {
		return value, nil
	}
	return e.hasher.Hash(value)
}

func (e *Engine) historyLimit(policy *CredentialPolicy) int {
	if policy.CheckHistoryCount > 0 {
		return policy.CheckHistoryCount
	}
	return e.config.Credential.DefaultHistoryLimit
}

func (e *Engine) envelopeFor(definition *CredentialDefinition) (*secret.Envelope, error) {
	env, err := secret.NewEnvelope(definition.E2EEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: credential definition %s: %v", ErrInvalidConfiguration, definition.Name, err)
	}
	return env, nil
}

func generateUsername(policy *CredentialPolicy) (string, error) {
	length := policy.UsernameGenParam.Length
	if length == 0 {
		length = policy.UsernameLengthMax
	}
	switch policy.UsernameGenAlgorithm {
	case AlgorithmNoUsername:
		return "", nil
	case AlgorithmRandomDigits:
		return wrapGenerated(generator.RandomDigits(length))
	case AlgorithmRandomLetters:
		return wrapGenerated(generator.RandomLetters(length))
	default:
		return "", fmt.Errorf("%w: username generation algorithm %q", ErrInvalidConfiguration, policy.UsernameGenAlgorithm)
	}
}

func generateCredentialValue(policy *CredentialPolicy) (string, error) {
	param := policy.CredentialGenParam
	switch policy.CredentialGenAlgorithm {
	case AlgorithmRandomDigits:
		return wrapGenerated(generator.RandomDigits(param.Length))
	case AlgorithmRandomLetters:
		return wrapGenerated(generator.RandomLetters(param.Length))
	case AlgorithmRandomPIN:
		return wrapGenerated(generator.RandomPIN(param.Length))
	case AlgorithmRandomPassword:
		return wrapGenerated(generator.RandomPassword(generator.PasswordParam{
			Length:         param.Length,
			SmallLetters:   param.SmallLetters,
			CapitalLetters: param.CapitalLetters,
			Digits:         param.Digits,
			SpecialChars:   param.SpecialChars,
		}))
	default:
		return "", fmt.Errorf("%w: credential generation algorithm %q", ErrInvalidConfiguration, policy.CredentialGenAlgorithm)
	}
}

// wrapGenerated maps inconsistent generation parameters onto the caller-facing
// configuration error.
func wrapGenerated(value string, err error) (string, error) {
	if err != nil {
		if errors.Is(err, generator.ErrInvalidConfig) {
			return "", fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		return "", err
	}
	return value, nil
}

func usernameRules(policy *CredentialPolicy) validation.Rules {
	return validation.Rules{
		LengthMin:        policy.UsernameLengthMin,
		LengthMax:        policy.UsernameLengthMax,
		AllowedRegex:     policy.UsernamePattern,
		RejectWhitespace: true,
	}
}

func credentialRules(policy *CredentialPolicy) validation.Rules {
	p := policy.CredentialValParam
	return validation.Rules{
		LengthMin:        policy.CredentialLengthMin,
		LengthMax:        policy.CredentialLengthMax,
		MinLowercase:     p.MinLowercase,
		MinUppercase:     p.MinUppercase,
		MinDigits:        p.MinDigits,
		MinSpecial:       p.MinSpecial,
		MinAlphabetical:  p.MinAlphabetical,
		AllowedChars:     p.AllowedChars,
		IllegalChars:     p.IllegalChars,
		AllowedRegex:     p.AllowedRegex,
		IllegalRegex:     p.IllegalRegex,
		RejectWhitespace: p.RejectWhitespace,
		RejectUsername:   p.RejectUsername,
	}
}

func validationErr(failures []validation.Failure) error {
	if len(failures) == 0 {
		return nil
	}
	out := make([]ValidationFailure, len(failures))
	for i, f := range failures {
		out[i] = ValidationFailure(f)
	}
	return &ValidationError{Failures: out}
}
