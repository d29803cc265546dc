package nextstep

import (
	"context"
	"fmt"
	"time"

	"github.com/wultra/powerauth-webflow-sub003/internal/ident"
)

// CreateUserIdentity registers a user identity with its owned contacts,
// aliases, roles, and per-method preferences.
func (e *Engine) CreateUserIdentity(ctx context.Context, req CreateUserRequest) (*UserIdentity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	userID := req.UserID
	if userID == "" {
		userID = ident.New()
	}
	now := time.Now()
	user := &UserIdentity{
		UserID:               userID,
		Status:               UserIdentityActive,
		ExtrasJSON:           req.ExtrasJSON,
		Contacts:             req.Contacts,
		Aliases:              req.Aliases,
		Roles:                req.Roles,
		MethodPreferences:    req.MethodPreferences,
		TimestampCreated:     now,
		TimestampLastUpdated: now,
	}
	if err := e.users.Create(ctx, user); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventUserCreated, true, "", userID, "", "", "", nil, nil)
	return user, nil
}

// GetUser returns one user identity by id.
func (e *Engine) GetUser(ctx context.Context, userID string) (*UserIdentity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.users.Get(ctx, userID)
}

// UpdateUserContacts replaces the user's contact list.
func (e *Engine) UpdateUserContacts(ctx context.Context, userID string, contacts []UserContact) (*UserIdentity, error) {
	return e.updateUser(ctx, userID, func(u *UserIdentity) {
		u.Contacts = contacts
	})
}

// UpdateUserAliases replaces the user's alias list.
func (e *Engine) UpdateUserAliases(ctx context.Context, userID string, aliases []UserAlias) (*UserIdentity, error) {
	return e.updateUser(ctx, userID, func(u *UserIdentity) {
		u.Aliases = aliases
	})
}

// UpdateUserRoles replaces the user's role assignments.
func (e *Engine) UpdateUserRoles(ctx context.Context, userID string, roles []string) (*UserIdentity, error) {
	return e.updateUser(ctx, userID, func(u *UserIdentity) {
		u.Roles = roles
	})
}

// UpdateUserExtras replaces the opaque extras payload on the user record.
func (e *Engine) UpdateUserExtras(ctx context.Context, userID, extrasJSON string) (*UserIdentity, error) {
	return e.updateUser(ctx, userID, func(u *UserIdentity) {
		u.ExtrasJSON = extrasJSON
	})
}

// SetMethodPreference sets the per-user enablement and configuration of one
// authentication method. The resolver skips steps whose method the user has
// disabled.
func (e *Engine) SetMethodPreference(ctx context.Context, userID string, method AuthMethod, pref MethodPreference) (*UserIdentity, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: auth method is required", ErrInvalidRequest)
	}
	return e.updateUser(ctx, userID, func(u *UserIdentity) {
		if u.MethodPreferences == nil {
			u.MethodPreferences = make(map[AuthMethod]MethodPreference)
		}
		u.MethodPreferences[method] = pref
	})
}

func (e *Engine) updateUser(ctx context.Context, userID string, mutate func(*UserIdentity)) (*UserIdentity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	updated, err := e.users.Update(ctx, userID, func(u *UserIdentity) error {
		if u.Status == UserIdentityRemoved {
			return ErrUserNotActive
		}
		mutate(u)
		u.TimestampLastUpdated = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventUserUpdated, true, "", userID, "", "", "", nil, nil)
	return updated, nil
}

// DeleteUser soft-removes a user identity and cascades removal to every
// credential the user owns. Counters on removed credentials stay for audit.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.users.Update(ctx, userID, func(u *UserIdentity) error {
		if u.Status == UserIdentityRemoved {
			return ErrUserNotActive
		}
		u.Status = UserIdentityRemoved
		u.TimestampLastUpdated = time.Now()
		return nil
	})
	if err != nil {
		return err
	}

	creds, err := e.credentials.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range creds {
		if c.Status == CredentialRemoved {
			continue
		}
		if err := e.DeleteCredential(ctx, c.CredentialID); err != nil {
			return err
		}
	}

	e.emitAudit(ctx, auditEventUserRemoved, true, "", userID, "", "", "", nil, nil)
	return nil
}

// BlockUser blocks an ACTIVE user identity. A blocked user fails every
// authentication regardless of credential status.
func (e *Engine) BlockUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.users.Update(ctx, userID, func(u *UserIdentity) error {
		switch u.Status {
		case UserIdentityBlocked:
			return ErrUserAlreadyBlocked
		case UserIdentityRemoved:
			return ErrUserNotActive
		}
		u.Status = UserIdentityBlocked
		u.TimestampLastUpdated = time.Now()
		return nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricUserBlocked)
	e.emitAudit(ctx, auditEventUserBlocked, true, "", userID, "", "", "", nil, nil)
	return nil
}

// UnblockUser revives a BLOCKED user identity to ACTIVE. Fails with
// ErrUserNotBlocked when the user is not blocked.
func (e *Engine) UnblockUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.users.Update(ctx, userID, func(u *UserIdentity) error {
		if u.Status != UserIdentityBlocked {
			return ErrUserNotBlocked
		}
		u.Status = UserIdentityActive
		u.TimestampLastUpdated = time.Now()
		return nil
	})
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventUserUnblocked, true, "", userID, "", "", "", nil, nil)
	return nil
}

// ResetCounters applies a bulk counter reset across the user's credentials and
// returns how many were affected. Each credential is reset under its own
// compare-and-set cycle, so concurrent attempt recording on one credential
// never loses a blocking transition on another.
func (e *Engine) ResetCounters(ctx context.Context, userID string, mode CounterResetMode) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if mode != ResetActiveAndBlockedTemporary && mode != ResetBlockedTemporary {
		return 0, fmt.Errorf("%w: unknown counter reset mode %q", ErrInvalidRequest, mode)
	}

	creds, err := e.credentials.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	affected := 0
	for _, c := range creds {
		touched := false
		_, err := e.credentials.Update(ctx, c.CredentialID, func(c *Credential) error {
			touched = resetCredentialCounters(c, mode, now)
			return nil
		})
		if err != nil {
			return affected, err
		}
		if touched {
			affected++
			e.metricInc(MetricCountersReset)
		}
	}

	e.emitAudit(ctx, auditEventCountersReset, true, "", userID, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"mode":     string(mode),
			"affected": fmt.Sprintf("%d", affected),
		}
	})
	return affected, nil
}
