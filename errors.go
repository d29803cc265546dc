package nextstep

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUserNotFound is returned when no user identity matches the given identifier.
	ErrUserNotFound = errors.New("user identity not found")
	// ErrUserExists is returned when creating a user identity with a taken ID.
	ErrUserExists = errors.New("user identity already exists")
	// ErrUserNotActive is returned when authenticating against a blocked or removed user.
	ErrUserNotActive = errors.New("user identity not active")
	// ErrUserNotBlocked is returned when unblocking a user or credential that is not blocked.
	ErrUserNotBlocked = errors.New("user identity not blocked")
	// ErrUserAlreadyBlocked is returned when blocking a user that is already blocked.
	ErrUserAlreadyBlocked = errors.New("user identity already blocked")
	// ErrUsernameAmbiguous is returned when a username lookup matches more than one user.
	ErrUsernameAmbiguous = errors.New("username lookup ambiguous")

	// ErrCredentialNotFound is returned when no credential matches the given ID.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialExists is returned when creating a credential with a taken ID.
	ErrCredentialExists = errors.New("credential already exists")
	// ErrCredentialNotActive is returned when an attempt targets a non-ACTIVE credential.
	ErrCredentialNotActive = errors.New("credential not active")
	// ErrCredentialNotBlocked is returned when unblocking an ACTIVE credential.
	ErrCredentialNotBlocked = errors.New("credential not blocked")
	// ErrUsernameTaken is returned when the requested username exists in the namespace.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrOtpNotFound is returned when no OTP matches the given ID or operation.
	ErrOtpNotFound = errors.New("otp not found")
	// ErrOtpExists is returned when creating an OTP with a taken ID.
	ErrOtpExists = errors.New("otp already exists")
	// ErrOtpNotActive is returned when an attempt targets a non-ACTIVE OTP.
	ErrOtpNotActive = errors.New("otp not active")

	// ErrOperationNotFound is returned when no operation matches the given ID.
	ErrOperationNotFound = errors.New("operation not found")
	// ErrOperationExists is returned when creating an operation with a taken ID.
	ErrOperationExists = errors.New("operation already exists")
	// ErrOperationAlreadyFinished is returned when an attempt is recorded against a
	// DONE or FAILED operation.
	ErrOperationAlreadyFinished = errors.New("operation already finished")
	// ErrOperationExpired is returned when an attempt is recorded against an expired operation.
	ErrOperationExpired = errors.New("operation expired")

	// ErrPolicyNotFound is returned when no policy matches the given name.
	ErrPolicyNotFound = errors.New("policy not found")
	// ErrPolicyExists is returned when creating a policy with a taken name.
	ErrPolicyExists = errors.New("policy already exists")
	// ErrDefinitionNotFound is returned when no definition matches the given name.
	ErrDefinitionNotFound = errors.New("definition not found")
	// ErrDefinitionExists is returned when creating a definition with a taken name.
	ErrDefinitionExists = errors.New("definition already exists")

	// ErrInvalidConfiguration is returned when policy parameters are internally
	// inconsistent. Parameters are opaque until used, so this surfaces at
	// generation/validation time, not at policy-save time.
	ErrInvalidConfiguration = errors.New("invalid policy configuration")
	// ErrInvalidRequest is returned when a request is missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidEnvelope is returned when an end-to-end encryption envelope cannot
	// be decoded or decrypted.
	ErrInvalidEnvelope = errors.New("invalid encryption envelope")

	// ErrStoreUnavailable wraps Redis failures so callers can distinguish backend
	// outages from domain outcomes.
	ErrStoreUnavailable = errors.New("store backend unavailable")
	// ErrConflict is returned when a compare-and-swap unit exhausts its retries.
	ErrConflict = errors.New("concurrent modification, retry")

	// ErrEngineNotReady is returned when the engine is used before Build completed.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationFailure identifies one violated validation rule.
type ValidationFailure string

const (
	// FailureTooShort is reported when the candidate is below the minimum length.
	FailureTooShort ValidationFailure = "TOO_SHORT"
	// FailureTooLong is reported when the candidate is above the maximum length.
	FailureTooLong ValidationFailure = "TOO_LONG"
	// FailureEmpty is reported when the candidate is empty.
	FailureEmpty ValidationFailure = "EMPTY"
	// FailureInsufficientLowercase is reported when too few lowercase letters are present.
	FailureInsufficientLowercase ValidationFailure = "INSUFFICIENT_LOWERCASE"
	// FailureInsufficientUppercase is reported when too few uppercase letters are present.
	FailureInsufficientUppercase ValidationFailure = "INSUFFICIENT_UPPERCASE"
	// FailureInsufficientDigit is reported when too few digits are present.
	FailureInsufficientDigit ValidationFailure = "INSUFFICIENT_DIGIT"
	// FailureInsufficientSpecial is reported when too few special characters are present.
	FailureInsufficientSpecial ValidationFailure = "INSUFFICIENT_SPECIAL"
	// FailureInsufficientAlphabetical is reported when too few letters are present.
	FailureInsufficientAlphabetical ValidationFailure = "INSUFFICIENT_ALPHABETICAL"
	// FailureAllowedCharFailed is reported when a character outside the allowed set is present.
	FailureAllowedCharFailed ValidationFailure = "ALLOWED_CHAR_FAILED"
	// FailureIllegalChar is reported when a character from the illegal set is present.
	FailureIllegalChar ValidationFailure = "ILLEGAL_CHAR"
	// FailureAllowedMatchFailed is reported when the allowed regex does not match.
	FailureAllowedMatchFailed ValidationFailure = "ALLOWED_MATCH_FAILED"
	// FailureIllegalMatch is reported when the illegal regex matches.
	FailureIllegalMatch ValidationFailure = "ILLEGAL_MATCH"
	// FailureWhitespace is reported when whitespace is present.
	FailureWhitespace ValidationFailure = "WHITESPACE"
	// FailureContainsUsername is reported when the candidate contains the username,
	// forward or reversed.
	FailureContainsUsername ValidationFailure = "CONTAINS_USERNAME"
	// FailureUsernameExists is reported in username-validation mode when the
	// candidate username is taken.
	FailureUsernameExists ValidationFailure = "USERNAME_EXISTS"
	// FailureHistoryCheckFailed is reported when the candidate equals any recorded
	// prior value of the credential.
	FailureHistoryCheckFailed ValidationFailure = "HISTORY_CHECK_FAILED"
)

// ValidationError carries the full ordered list of violated rules, never just the
// first one.
type ValidationError struct {
	Failures []ValidationFailure
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	codes := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		codes[i] = string(f)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(codes, ", "))
}

// AsValidationError unwraps err into a *ValidationError when possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

var domainErrors = []error{
	ErrUserNotFound, ErrUserExists, ErrUserNotActive, ErrUserNotBlocked,
	ErrUserAlreadyBlocked, ErrUsernameAmbiguous,
	ErrCredentialNotFound, ErrCredentialExists, ErrCredentialNotActive,
	ErrCredentialNotBlocked, ErrUsernameTaken,
	ErrOtpNotFound, ErrOtpExists, ErrOtpNotActive,
	ErrOperationNotFound, ErrOperationExists, ErrOperationAlreadyFinished,
	ErrOperationExpired,
	ErrPolicyNotFound, ErrPolicyExists, ErrDefinitionNotFound, ErrDefinitionExists,
	ErrInvalidConfiguration, ErrInvalidRequest, ErrInvalidEnvelope,
}

// isDomainErr reports whether err already carries a caller-facing meaning and
// must not be rewrapped as a backend failure.
func isDomainErr(err error) bool {
	for _, sentinel := range domainErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}
