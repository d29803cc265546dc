package nextstep

import "time"

// Counter transitions are pure functions over Credential and Otp records. The
// stores apply them inside a WATCH/MULTI retry loop, so each function must be
// side-effect free and deterministic for a given input.

// applyCredentialSuccess records a successful authentication attempt. The soft
// failure counter resets; the hard counter keeps its value until an explicit
// reset or unblock.
func applyCredentialSuccess(c *Credential, now time.Time) {
	c.AttemptCounter++
	c.FailedAttemptCounterSoft = 0
	c.TimestampLastUpdated = now
}

// applyCredentialFailure records a failed attempt and evaluates the soft and
// hard limits. A hard-limit hit overrides a simultaneous soft-limit hit.
func applyCredentialFailure(c *Credential, policy *CredentialPolicy, now time.Time) {
	c.AttemptCounter++
	c.FailedAttemptCounterSoft++
	c.FailedAttemptCounterHard++
	c.TimestampLastUpdated = now
	if policy.LimitHard > 0 && c.FailedAttemptCounterHard >= policy.LimitHard {
		c.Status = CredentialBlockedPermanent
		c.TimestampBlocked = now
		return
	}
	if policy.LimitSoft > 0 && c.FailedAttemptCounterSoft >= policy.LimitSoft {
		if c.Status == CredentialActive {
			c.Status = CredentialBlockedTemporary
			c.TimestampBlocked = now
		}
	}
}

// unblockCredential restores an ACTIVE status from either blocked state and
// zeroes both failure counters. Calling it on a credential that is not blocked
// is a precondition violation.
func unblockCredential(c *Credential, now time.Time) error {
	switch c.Status {
	case CredentialBlockedTemporary, CredentialBlockedPermanent:
	default:
		return ErrCredentialNotBlocked
	}
	c.Status = CredentialActive
	c.FailedAttemptCounterSoft = 0
	c.FailedAttemptCounterHard = 0
	c.TimestampBlocked = time.Time{}
	c.TimestampLastUpdated = now
	return nil
}

// resetCredentialCounters applies one reset mode to a single credential and
// reports whether the record changed. RESET_ACTIVE_AND_BLOCKED_TEMPORARY zeroes
// the soft counter on ACTIVE credentials and revives BLOCKED_TEMPORARY ones;
// RESET_BLOCKED_TEMPORARY only revives BLOCKED_TEMPORARY ones, zeroing both
// counters. BLOCKED_PERMANENT and REMOVED credentials are never touched.
func resetCredentialCounters(c *Credential, mode CounterResetMode, now time.Time) bool {
	switch mode {
	case ResetActiveAndBlockedTemporary:
		switch c.Status {
		case CredentialActive:
			if c.FailedAttemptCounterSoft == 0 {
				return false
			}
			c.FailedAttemptCounterSoft = 0
			c.TimestampLastUpdated = now
			return true
		case CredentialBlockedTemporary:
			c.Status = CredentialActive
			c.FailedAttemptCounterSoft = 0
			c.TimestampBlocked = time.Time{}
			c.TimestampLastUpdated = now
			return true
		}
	case ResetBlockedTemporary:
		if c.Status == CredentialBlockedTemporary {
			c.Status = CredentialActive
			c.FailedAttemptCounterSoft = 0
			c.FailedAttemptCounterHard = 0
			c.TimestampBlocked = time.Time{}
			c.TimestampLastUpdated = now
			return true
		}
	}
	return false
}

// applyOtpSuccess marks the OTP consumed. A verified OTP never accepts another
// attempt.
func applyOtpSuccess(o *Otp, now time.Time) {
	o.AttemptCounter++
	o.Status = OtpUsed
	o.TimestampVerified = now
}

// applyOtpFailure records a failed attempt and blocks the OTP once the policy's
// attempt limit is exhausted.
func applyOtpFailure(o *Otp, attemptLimit uint32, now time.Time) {
	o.AttemptCounter++
	o.FailedAttemptCounter++
	if attemptLimit > 0 && o.FailedAttemptCounter >= attemptLimit {
		o.Status = OtpBlocked
		o.TimestampBlocked = now
	}
}

// credentialRemainingAttempts reports how many soft-limit failures remain before
// the credential blocks. Zero means the next failure blocks or the credential is
// already blocked; ok is false when the policy sets no soft limit.
func credentialRemainingAttempts(c *Credential, policy *CredentialPolicy) remaining {
	if policy.LimitSoft == 0 {
		return remaining{}
	}
	if c.Status != CredentialActive {
		return remaining{ok: true}
	}
	if c.FailedAttemptCounterSoft >= policy.LimitSoft {
		return remaining{ok: true}
	}
	return remaining{n: policy.LimitSoft - c.FailedAttemptCounterSoft, ok: true}
}

// otpRemainingAttempts reports how many failures remain before the OTP blocks.
func otpRemainingAttempts(o *Otp, attemptLimit uint32) remaining {
	if attemptLimit == 0 {
		return remaining{}
	}
	if o.Status != OtpActive {
		return remaining{ok: true}
	}
	if o.FailedAttemptCounter >= attemptLimit {
		return remaining{ok: true}
	}
	return remaining{n: attemptLimit - o.FailedAttemptCounter, ok: true}
}

// remaining is a remaining-attempts value; ok is false when no limit applies.
type remaining struct {
	n  uint32
	ok bool
}

// minRemaining folds per-factor and per-operation remaining-attempt values into
// the single number reported to callers. Factors without a configured limit are
// ignored.
func minRemaining(values ...remaining) (uint32, bool) {
	var out uint32
	found := false
	for _, v := range values {
		if !v.ok {
			continue
		}
		if !found || v.n < out {
			out = v.n
			found = true
		}
	}
	return out, found
}
