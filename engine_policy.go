package nextstep

import (
	"context"
	"fmt"
	"time"
)

// Policy and definition management. Generation and validation parameters are
// opaque until used: a policy whose parameters are internally inconsistent is
// accepted here and rejected with ErrInvalidConfiguration at generation time.

// CreateCredentialPolicy stores a new credential policy under its unique name.
func (e *Engine) CreateCredentialPolicy(ctx context.Context, p *CredentialPolicy) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: policy name is required", ErrInvalidRequest)
	}
	now := time.Now()
	p.TimestampCreated = now
	p.TimestampLastUpdated = now
	return e.policies.CreateCredentialPolicy(ctx, p)
}

// GetCredentialPolicy returns one credential policy by name.
func (e *Engine) GetCredentialPolicy(ctx context.Context, name string) (*CredentialPolicy, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.policies.GetCredentialPolicy(ctx, name)
}

// UpdateCredentialPolicy replaces an existing credential policy.
func (e *Engine) UpdateCredentialPolicy(ctx context.Context, p *CredentialPolicy) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: policy name is required", ErrInvalidRequest)
	}
	current, err := e.policies.GetCredentialPolicy(ctx, p.Name)
	if err != nil {
		return err
	}
	p.TimestampCreated = current.TimestampCreated
	p.TimestampLastUpdated = time.Now()
	return e.policies.UpdateCredentialPolicy(ctx, p)
}

// DeleteCredentialPolicy removes a credential policy by name.
func (e *Engine) DeleteCredentialPolicy(ctx context.Context, name string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.policies.DeleteCredentialPolicy(ctx, name)
}

// CreateOtpPolicy stores a new OTP policy under its unique name.
func (e *Engine) CreateOtpPolicy(ctx context.Context, p *OtpPolicy) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: policy name is required", ErrInvalidRequest)
	}
	now := time.Now()
	p.TimestampCreated = now
	p.TimestampLastUpdated = now
	return e.policies.CreateOtpPolicy(ctx, p)
}

// GetOtpPolicy returns one OTP policy by name.
func (e *Engine) GetOtpPolicy(ctx context.Context, name string) (*OtpPolicy, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.policies.GetOtpPolicy(ctx, name)
}

// UpdateOtpPolicy replaces an existing OTP policy.
func (e *Engine) UpdateOtpPolicy(ctx context.Context, p *OtpPolicy) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: policy name is required", ErrInvalidRequest)
	}
	current, err := e.policies.GetOtpPolicy(ctx, p.Name)
	if err != nil {
		return err
	}
	p.TimestampCreated = current.TimestampCreated
	p.TimestampLastUpdated = time.Now()
	return e.policies.UpdateOtpPolicy(ctx, p)
}

// DeleteOtpPolicy removes an OTP policy by name.
func (e *Engine) DeleteOtpPolicy(ctx context.Context, name string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.policies.DeleteOtpPolicy(ctx, name)
}

// CreateCredentialDefinition stores a new credential definition. The referenced
// policy must already exist.
func (e *Engine) CreateCredentialDefinition(ctx context.Context, d *CredentialDefinition) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if d == nil || d.Name == "" || d.PolicyName == "" {
		return fmt.Errorf("%w: definition name and policy name are required", ErrInvalidRequest)
	}
	if _, err := e.policies.GetCredentialPolicy(ctx, d.PolicyName); err != nil {
		return err
	}
	now := time.Now()
	d.TimestampCreated = now
	d.TimestampLastUpdated = now
	return e.policies.CreateCredentialDefinition(ctx, d)
}

// GetCredentialDefinition returns one credential definition by name.
func (e *Engine) GetCredentialDefinition(ctx context.Context, name string) (*CredentialDefinition, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.policies.GetCredentialDefinition(ctx, name)
}

// UpdateCredentialDefinition replaces an existing credential definition. The
// referenced policy must already exist.
func (e *Engine) UpdateCredentialDefinition(ctx context.Context, d *CredentialDefinition) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if d == nil || d.Name == "" || d.PolicyName == "" {
		return fmt.Errorf("%w: definition name and policy name are required", ErrInvalidRequest)
	}
	if _, err := e.policies.GetCredentialPolicy(ctx, d.PolicyName); err != nil {
		return err
	}
	current, err := e.policies.GetCredentialDefinition(ctx, d.Name)
	if err != nil {
		return err
	}
	d.TimestampCreated = current.TimestampCreated
	d.TimestampLastUpdated = time.Now()
	return e.policies.UpdateCredentialDefinition(ctx, d)
}

// DeleteCredentialDefinition removes a credential definition by name.
func (e *Engine) DeleteCredentialDefinition(ctx context.Context, name string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.policies.DeleteCredentialDefinition(ctx, name)
}

// CreateOtpDefinition stores a new OTP definition. The referenced policy must
// already exist.
func (e *Engine) CreateOtpDefinition(ctx context.Context, d *OtpDefinition) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if d == nil || d.Name == "" || d.PolicyName == "" {
		return fmt.Errorf("%w: definition name and policy name are required", ErrInvalidRequest)
	}
	if _, err := e.policies.GetOtpPolicy(ctx, d.PolicyName); err != nil {
		return err
	}
	now := time.Now()
	d.TimestampCreated = now
	d.TimestampLastUpdated = now
	return e.policies.CreateOtpDefinition(ctx, d)
}

// GetOtpDefinition returns one OTP definition by name.
func (e *Engine) GetOtpDefinition(ctx context.Context, name string) (*OtpDefinition, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.policies.GetOtpDefinition(ctx, name)
}

// UpdateOtpDefinition replaces an existing OTP definition. The referenced
// policy must already exist.
func (e *Engine) UpdateOtpDefinition(ctx context.Context, d *OtpDefinition) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if d == nil || d.Name == "" || d.PolicyName == "" {
		return fmt.Errorf("%w: definition name and policy name are required", ErrInvalidRequest)
	}
	if _, err := e.policies.GetOtpPolicy(ctx, d.PolicyName); err != nil {
		return err
	}
	current, err := e.policies.GetOtpDefinition(ctx, d.Name)
	if err != nil {
		return err
	}
	d.TimestampCreated = current.TimestampCreated
	d.TimestampLastUpdated = time.Now()
	return e.policies.UpdateOtpDefinition(ctx, d)
}

// DeleteOtpDefinition removes an OTP definition by name.
func (e *Engine) DeleteOtpDefinition(ctx context.Context, name string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.policies.DeleteOtpDefinition(ctx, name)
}
