package nextstep

import (
	"time"
)

// AuthMethod names an authentication factor handled by the engine.
type AuthMethod string

const (
	// AuthMethodInit is the synthetic method recorded when an operation is created.
	AuthMethodInit AuthMethod = "INIT"
	// AuthMethodUserIDAssign marks the step that resolves an anonymous operation to a user.
	AuthMethodUserIDAssign AuthMethod = "USER_ID_ASSIGN"
	// AuthMethodUsernamePassword is form-based credential verification.
	AuthMethodUsernamePassword AuthMethod = "USERNAME_PASSWORD_AUTH"
	// AuthMethodSMSKey is one-time password verification delivered out of band.
	AuthMethodSMSKey AuthMethod = "SMS_KEY"
	// AuthMethodMobileToken is confirmation through a registered mobile token.
	AuthMethodMobileToken AuthMethod = "MOBILE_TOKEN"
	// AuthMethodLoginSCA is combined credential plus one-time password login.
	AuthMethodLoginSCA AuthMethod = "LOGIN_SCA"
	// AuthMethodApprovalSCA is combined transaction approval.
	AuthMethodApprovalSCA AuthMethod = "APPROVAL_SCA"
	// AuthMethodShowOperationDetail is the informational step that renders operation data.
	AuthMethodShowOperationDetail AuthMethod = "SHOW_OPERATION_DETAIL"
)

// AuthResult is the terminal-or-continue outcome of an operation or a single step.
type AuthResult string

const (
	// AuthResultContinue means further authentication steps are expected.
	AuthResultContinue AuthResult = "CONTINUE"
	// AuthResultDone means the operation completed successfully.
	AuthResultDone AuthResult = "DONE"
	// AuthResultFailed means the operation terminated without success.
	AuthResultFailed AuthResult = "FAILED"
)

// AuthStepResult classifies the outcome of one recorded authentication step.
type AuthStepResult string

const (
	// AuthStepResultConfirmed means the step's factor verified successfully.
	AuthStepResultConfirmed AuthStepResult = "CONFIRMED"
	// AuthStepResultAuthFailed means the presented secret did not verify.
	AuthStepResultAuthFailed AuthStepResult = "AUTH_FAILED"
	// AuthStepResultAuthMethodFailed means the method is exhausted or unavailable.
	AuthStepResultAuthMethodFailed AuthStepResult = "AUTH_METHOD_FAILED"
	// AuthStepResultCanceled means the caller canceled the step.
	AuthStepResultCanceled AuthStepResult = "CANCELED"
)

// AuthenticationResult is the outcome of verifying a single factor.
type AuthenticationResult string

const (
	// AuthenticationSucceeded means the factor verified.
	AuthenticationSucceeded AuthenticationResult = "SUCCEEDED"
	// AuthenticationFailed means the factor did not verify.
	AuthenticationFailed AuthenticationResult = "FAILED"
)

// UserIdentityStatus is the lifecycle state of a user identity.
type UserIdentityStatus string

const (
	// UserIdentityActive allows authentication against the user's credentials.
	UserIdentityActive UserIdentityStatus = "ACTIVE"
	// UserIdentityBlocked fails all authentication regardless of credential status.
	UserIdentityBlocked UserIdentityStatus = "BLOCKED"
	// UserIdentityRemoved is terminal; the record is kept for audit.
	UserIdentityRemoved UserIdentityStatus = "REMOVED"
)

// CredentialStatus is the lifecycle state of a credential.
type CredentialStatus string

const (
	// CredentialActive allows verification attempts.
	CredentialActive CredentialStatus = "ACTIVE"
	// CredentialBlockedTemporary is entered when the soft failure limit is reached.
	CredentialBlockedTemporary CredentialStatus = "BLOCKED_TEMPORARY"
	// CredentialBlockedPermanent is entered when the hard failure limit is reached.
	CredentialBlockedPermanent CredentialStatus = "BLOCKED_PERMANENT"
	// CredentialRemoved is a soft delete preserving counters and history.
	CredentialRemoved CredentialStatus = "REMOVED"
)

// OtpStatus is the lifecycle state of a one-time password.
type OtpStatus string

const (
	// OtpActive allows verification attempts.
	OtpActive OtpStatus = "ACTIVE"
	// OtpUsed is entered on successful non-check verification.
	OtpUsed OtpStatus = "USED"
	// OtpBlocked is entered when the attempt limit is reached.
	OtpBlocked OtpStatus = "BLOCKED"
	// OtpRemoved is a soft delete, also applied when a newer OTP supersedes this one.
	OtpRemoved OtpStatus = "REMOVED"
)

// CounterResetMode selects which credentials a bulk counter reset touches.
type CounterResetMode string

const (
	// ResetActiveAndBlockedTemporary zeroes soft counters for ACTIVE credentials and
	// revives BLOCKED_TEMPORARY ones.
	ResetActiveAndBlockedTemporary CounterResetMode = "RESET_ACTIVE_AND_BLOCKED_TEMPORARY"
	// ResetBlockedTemporary only revives BLOCKED_TEMPORARY credentials, zeroing both counters.
	ResetBlockedTemporary CounterResetMode = "RESET_BLOCKED_TEMPORARY"
)

// CredentialCategory classifies a credential definition.
type CredentialCategory string

const (
	// CategoryPassword is a user-chosen alphanumeric secret.
	CategoryPassword CredentialCategory = "PASSWORD"
	// CategoryPIN is a numeric secret.
	CategoryPIN CredentialCategory = "PIN"
	// CategoryOther covers imported or externally managed secrets.
	CategoryOther CredentialCategory = "OTHER"
)

// Operation is one end-to-end authentication or transaction-approval attempt.
// Result is monotonic: once DONE or FAILED it never reverts to CONTINUE.
type Operation struct {
	OperationID        string             `json:"operation_id"`
	OperationName      string             `json:"operation_name"`
	OperationData      string             `json:"operation_data"`
	FormData           string             `json:"form_data,omitempty"`
	UserID             string             `json:"user_id,omitempty"`
	OrganizationID     string             `json:"organization_id,omitempty"`
	ApplicationContext string             `json:"application_context,omitempty"`
	UserAccountStatus  UserIdentityStatus `json:"user_account_status,omitempty"`
	Result             AuthResult         `json:"result"`
	ChosenAuthMethod   AuthMethod         `json:"chosen_auth_method,omitempty"`

	// MethodFailures counts failed attempts per authentication method across all
	// factors, independent of each factor's own counters.
	MethodFailures map[AuthMethod]uint32 `json:"method_failures,omitempty"`

	AfsActions []AfsAction `json:"afs_actions,omitempty"`

	TimestampCreated time.Time `json:"timestamp_created"`
	TimestampExpires time.Time `json:"timestamp_expires"`
}

// IsExpired reports whether the operation's expiration timestamp has passed.
func (o *Operation) IsExpired(now time.Time) bool {
	return now.After(o.TimestampExpires)
}

// EffectiveResult is the result reported to callers: an expired CONTINUE operation
// is treated as FAILED without mutating stored state.
func (o *Operation) EffectiveResult(now time.Time) AuthResult {
	if o.Result == AuthResultContinue && o.IsExpired(now) {
		return AuthResultFailed
	}
	return o.Result
}

// OperationHistory is one immutable step-attempt record. ResultID is strictly
// increasing per operation.
type OperationHistory struct {
	ResultID               int64           `json:"result_id"`
	RequestAuthMethod      AuthMethod      `json:"request_auth_method"`
	RequestAuthStepResult  AuthStepResult  `json:"request_auth_step_result"`
	RequestAuthInstruments []string        `json:"request_auth_instruments,omitempty"`
	ResponseResult         AuthResult      `json:"response_result"`
	ChosenAuthMethod       AuthMethod      `json:"chosen_auth_method,omitempty"`
	MobileTokenActive      bool            `json:"mobile_token_active"`
	Authentication         *Authentication `json:"authentication,omitempty"`
	TimestampCreated       time.Time       `json:"timestamp_created"`
	TimestampExpires       time.Time       `json:"timestamp_expires,omitzero"`
}

// Authentication links a history record to the factor verification that produced it.
type Authentication struct {
	AuthenticationID string               `json:"authentication_id"`
	CredentialID     string               `json:"credential_id,omitempty"`
	OtpID            string               `json:"otp_id,omitempty"`
	CredentialResult AuthenticationResult `json:"credential_result,omitempty"`
	OtpResult        AuthenticationResult `json:"otp_result,omitempty"`
}

// AfsAction is an anti-fraud decision fact recorded alongside the operation.
// The engine stores what the caller supplies; it never calls a fraud endpoint.
type AfsAction struct {
	Action           string    `json:"action"`
	StepIndex        int       `json:"step_index"`
	RequestParams    string    `json:"request_params,omitempty"`
	ResponseParams   string    `json:"response_params,omitempty"`
	TimestampCreated time.Time `json:"timestamp_created"`
}

// UserIdentity is the aggregate root owning credentials, contacts, aliases, roles,
// and per-method preferences.
type UserIdentity struct {
	UserID     string             `json:"user_id"`
	Status     UserIdentityStatus `json:"status"`
	ExtrasJSON string             `json:"extras,omitempty"`

	Contacts []UserContact `json:"contacts,omitempty"`
	Aliases  []UserAlias   `json:"aliases,omitempty"`
	Roles    []string      `json:"roles,omitempty"`

	// MethodPreferences replaces a positional auth_method_N column layout with an
	// explicit mapping from method to its per-user enablement and configuration.
	MethodPreferences map[AuthMethod]MethodPreference `json:"method_preferences,omitempty"`

	TimestampCreated     time.Time `json:"timestamp_created"`
	TimestampLastUpdated time.Time `json:"timestamp_last_updated"`
}

// MethodPreference is the per-user enablement and configuration of one auth method.
type MethodPreference struct {
	Enabled bool   `json:"enabled"`
	Config  string `json:"config,omitempty"`
}

// UserContact is an owned contact record (email, phone) on a user identity.
type UserContact struct {
	ContactName  string `json:"contact_name"`
	ContactType  string `json:"contact_type"`
	ContactValue string `json:"contact_value"`
	Primary      bool   `json:"primary"`
}

// UserAlias is an owned alternate identifier on a user identity.
type UserAlias struct {
	AliasName  string `json:"alias_name"`
	AliasValue string `json:"alias_value"`
}

// Credential is a verifiable secret owned by exactly one user identity under one
// credential definition.
type Credential struct {
	CredentialID   string           `json:"credential_id"`
	DefinitionName string           `json:"definition_name"`
	UserID         string           `json:"user_id"`
	Username       string           `json:"username,omitempty"`
	Value          string           `json:"value"`
	Status         CredentialStatus `json:"status"`

	AttemptCounter           uint32 `json:"attempt_counter"`
	FailedAttemptCounterSoft uint32 `json:"failed_attempt_counter_soft"`
	FailedAttemptCounterHard uint32 `json:"failed_attempt_counter_hard"`

	TimestampCreated              time.Time `json:"timestamp_created"`
	TimestampExpires              time.Time `json:"timestamp_expires,omitzero"`
	TimestampBlocked              time.Time `json:"timestamp_blocked,omitzero"`
	TimestampLastUpdated          time.Time `json:"timestamp_last_updated"`
	TimestampLastCredentialChange time.Time `json:"timestamp_last_credential_change,omitzero"`
	TimestampLastUsernameChange   time.Time `json:"timestamp_last_username_change,omitzero"`
}

// CredentialHistoryEntry records one prior credential value for reuse checking.
// Entries are append-only and never mutated.
type CredentialHistoryEntry struct {
	DefinitionName   string    `json:"definition_name"`
	UserID           string    `json:"user_id"`
	Value            string    `json:"value"`
	TimestampCreated time.Time `json:"timestamp_created"`
}

// Otp is a one-time password, optionally bound to a user, a credential (for
// combined authentication), and an operation.
type Otp struct {
	OtpID          string    `json:"otp_id"`
	DefinitionName string    `json:"definition_name"`
	UserID         string    `json:"user_id,omitempty"`
	CredentialID   string    `json:"credential_id,omitempty"`
	OperationID    string    `json:"operation_id,omitempty"`
	ValueHash      string    `json:"value_hash"`
	Salt           string    `json:"salt"`
	OtpData        string    `json:"otp_data,omitempty"`
	Status         OtpStatus `json:"status"`

	AttemptCounter       uint32 `json:"attempt_counter"`
	FailedAttemptCounter uint32 `json:"failed_attempt_counter"`

	TimestampCreated  time.Time `json:"timestamp_created"`
	TimestampVerified time.Time `json:"timestamp_verified,omitzero"`
	TimestampBlocked  time.Time `json:"timestamp_blocked,omitzero"`
	TimestampExpires  time.Time `json:"timestamp_expires"`
}

// IsExpired reports whether the OTP's expiration timestamp has passed.
func (o *Otp) IsExpired(now time.Time) bool {
	return now.After(o.TimestampExpires)
}

// CreateOperationRequest is the input for [Engine.CreateOperation]. OperationID is
// optional; when empty a UUID is generated. Caller-supplied IDs make creation
// idempotent from the caller's perspective: a duplicate ID is rejected explicitly.
type CreateOperationRequest struct {
	OperationID        string
	OperationName      string
	OperationData      string
	FormData           string
	UserID             string
	OrganizationID     string
	ApplicationContext string
	Expiration         time.Duration
}

// UpdateOperationRequest records the outcome of one authentication step that was
// verified outside the engine (e.g. a mobile-token confirmation) and advances the
// operation through the step resolver.
type UpdateOperationRequest struct {
	OperationID     string
	UserID          string
	OrganizationID  string
	AuthMethod      AuthMethod
	AuthStepResult  AuthStepResult
	AuthInstruments []string
}

// OperationDetail is the full operation view returned by queries and updates.
type OperationDetail struct {
	Operation *Operation
	History   []OperationHistory
	Steps     []AuthStep
	// Assertion is the signed completion proof, present only once Result is DONE.
	Assertion string
}

// OperationID returns the underlying operation's id.
func (d *OperationDetail) OperationID() string {
	return d.Operation.OperationID
}

// AuthStep is one permissible next authentication method with its routing priority.
type AuthStep struct {
	AuthMethod AuthMethod
	Priority   int
	Params     map[string]string
}

// CredentialAuthenticationRequest is the input for [Engine.AuthenticateWithCredential].
// Either UserID or Username must identify the credential's owner.
type CredentialAuthenticationRequest struct {
	DefinitionName string
	UserID         string
	Username       string
	Value          string
	OperationID    string
	AuthMethod     AuthMethod
}

// OtpAuthenticationRequest is the input for [Engine.AuthenticateWithOtp]. Either
// OtpID or OperationID must identify the active OTP. CheckOnly verifies without
// consuming the OTP or counting as the operation's authentication act.
type OtpAuthenticationRequest struct {
	OtpID       string
	OperationID string
	Value       string
	CheckOnly   bool
	AuthMethod  AuthMethod
}

// CombinedAuthenticationRequest is the input for [Engine.AuthenticateCombined].
// Both the credential and the OTP must verify for the overall result to succeed.
type CombinedAuthenticationRequest struct {
	Credential CredentialAuthenticationRequest
	Otp        OtpAuthenticationRequest
}

// AuthenticationOutcome is the caller-facing result of one authentication attempt.
// RemainingAttempts is the minimum across the factor's own counter and the
// operation-scoped counter for the current method.
type AuthenticationOutcome struct {
	Result            AuthenticationResult
	RemainingAttempts uint32
	UserID            string
	CredentialStatus  CredentialStatus
	OtpStatus         OtpStatus
	OperationResult   AuthResult
	Steps             []AuthStep

	// Sub-results are populated only by combined authentication so the caller can
	// render which factor failed.
	CredentialResult AuthenticationResult
	OtpResult        AuthenticationResult
}

// CreateCredentialRequest is the input for [Engine.CreateCredential]. Username and
// Value are optional; missing pieces are generated per the definition's policy.
type CreateCredentialRequest struct {
	CredentialID   string
	DefinitionName string
	UserID         string
	Username       string
	Value          string
}

// CreateCredentialResult carries generated secrets back to the caller exactly once.
type CreateCredentialResult struct {
	CredentialID string
	Username     string
	// Value is the generated plaintext, empty when the caller supplied its own.
	Value string
}

// UpdateCredentialRequest renames and/or rotates a credential. Empty fields are
// left unchanged. Rotation revalidates the new value and appends the prior value
// to the credential history first.
type UpdateCredentialRequest struct {
	CredentialID string
	Username     string
	Value        string
}

// CreateOtpRequest is the input for [Engine.CreateOtp]. When Value is empty the
// policy's generation algorithm produces one. Creating an OTP for an operation
// that already has an ACTIVE one removes the prior OTP.
type CreateOtpRequest struct {
	OtpID          string
	DefinitionName string
	UserID         string
	CredentialID   string
	OperationID    string
	OtpData        string
	Value          string
}

// CreateOtpResult carries the generated OTP value back to the delivery layer.
type CreateOtpResult struct {
	OtpID string
	Value string
}

// CreateUserRequest is the input for [Engine.CreateUserIdentity].
type CreateUserRequest struct {
	UserID            string
	ExtrasJSON        string
	Contacts          []UserContact
	Aliases           []UserAlias
	Roles             []string
	MethodPreferences map[AuthMethod]MethodPreference
}

// CredentialPolicy is the generation and validation configuration for one
// credential namespace. Identity: Name.
type CredentialPolicy struct {
	Name string `json:"name"`

	UsernameLengthMin int    `json:"username_length_min"`
	UsernameLengthMax int    `json:"username_length_max"`
	UsernamePattern   string `json:"username_pattern,omitempty"`

	CredentialLengthMin int `json:"credential_length_min"`
	CredentialLengthMax int `json:"credential_length_max"`

	LimitSoft uint32 `json:"limit_soft"`
	LimitHard uint32 `json:"limit_hard"`

	CheckHistoryCount int  `json:"check_history_count"`
	RotationEnabled   bool `json:"rotation_enabled"`
	RotationDays      int  `json:"rotation_days,omitempty"`

	UsernameGenAlgorithm   GenerationAlgorithm       `json:"username_gen_algorithm"`
	UsernameGenParam       UsernameGenerationParam   `json:"username_gen_param"`
	CredentialGenAlgorithm GenerationAlgorithm       `json:"credential_gen_algorithm"`
	CredentialGenParam     CredentialGenerationParam `json:"credential_gen_param"`
	CredentialValParam     ValidationParam           `json:"credential_val_param"`

	TimestampCreated     time.Time `json:"timestamp_created"`
	TimestampLastUpdated time.Time `json:"timestamp_last_updated"`
}

// GenerationAlgorithm selects how usernames, credentials, and OTPs are generated.
type GenerationAlgorithm string

const (
	// AlgorithmRandomDigits draws random digits.
	AlgorithmRandomDigits GenerationAlgorithm = "RANDOM_DIGITS"
	// AlgorithmRandomLetters draws random lowercase letters.
	AlgorithmRandomLetters GenerationAlgorithm = "RANDOM_LETTERS"
	// AlgorithmRandomPassword draws exact per-class counts and shuffles.
	AlgorithmRandomPassword GenerationAlgorithm = "RANDOM_PASSWORD"
	// AlgorithmRandomPIN draws random digits of PIN length.
	AlgorithmRandomPIN GenerationAlgorithm = "RANDOM_PIN"
	// AlgorithmNoUsername produces no username; the credential is identified by other means.
	AlgorithmNoUsername GenerationAlgorithm = "NO_USERNAME"
	// AlgorithmOtpRandomDigits draws random digits for OTP values.
	AlgorithmOtpRandomDigits GenerationAlgorithm = "OTP_RANDOM_DIGITS"
	// AlgorithmOtpDataDigest derives digits deterministically from a digest of the OTP data.
	AlgorithmOtpDataDigest GenerationAlgorithm = "OTP_DATA_DIGEST"
	// AlgorithmOtpRandomDigitGroups draws digits such that no two adjacent groups repeat.
	AlgorithmOtpRandomDigitGroups GenerationAlgorithm = "OTP_RANDOM_DIGIT_GROUPS"
)

// UsernameGenerationParam parameterizes username generation.
type UsernameGenerationParam struct {
	Length int `json:"length,omitempty"`
}

// CredentialGenerationParam parameterizes credential generation. For
// RANDOM_PASSWORD the per-class counts must sum to Length.
type CredentialGenerationParam struct {
	Length         int `json:"length,omitempty"`
	SmallLetters   int `json:"small_letters,omitempty"`
	CapitalLetters int `json:"capital_letters,omitempty"`
	Digits         int `json:"digits,omitempty"`
	SpecialChars   int `json:"special_chars,omitempty"`
}

// ValidationParam parameterizes the credential validation rule set. Zero values
// disable the corresponding rule.
type ValidationParam struct {
	MinLowercase     int    `json:"min_lowercase,omitempty"`
	MinUppercase     int    `json:"min_uppercase,omitempty"`
	MinDigits        int    `json:"min_digits,omitempty"`
	MinSpecial       int    `json:"min_special,omitempty"`
	MinAlphabetical  int    `json:"min_alphabetical,omitempty"`
	AllowedChars     string `json:"allowed_chars,omitempty"`
	IllegalChars     string `json:"illegal_chars,omitempty"`
	AllowedRegex     string `json:"allowed_regex,omitempty"`
	IllegalRegex     string `json:"illegal_regex,omitempty"`
	RejectWhitespace bool   `json:"reject_whitespace,omitempty"`
	RejectUsername   bool   `json:"reject_username,omitempty"`
}

// OtpPolicy is the generation configuration for one OTP namespace. Identity: Name.
type OtpPolicy struct {
	Name           string              `json:"name"`
	Length         int                 `json:"length"`
	AttemptLimit   uint32              `json:"attempt_limit"`
	ExpirationTime time.Duration       `json:"expiration_time"`
	GenAlgorithm   GenerationAlgorithm `json:"gen_algorithm"`
	GroupSize      int                 `json:"group_size,omitempty"`

	TimestampCreated     time.Time `json:"timestamp_created"`
	TimestampLastUpdated time.Time `json:"timestamp_last_updated"`
}

// CredentialDefinition binds a named credential slot to an application and a
// credential policy. Identity: Name.
type CredentialDefinition struct {
	Name           string             `json:"name"`
	ApplicationID  string             `json:"application_id"`
	PolicyName     string             `json:"policy_name"`
	Category       CredentialCategory `json:"category"`
	HashingEnabled bool               `json:"hashing_enabled"`
	// E2EEncryptionKey, when set, enables the {iv}:{ciphertext} envelope on
	// presented values. Base64-encoded AES key.
	E2EEncryptionKey string `json:"e2e_encryption_key,omitempty"`

	TimestampCreated     time.Time `json:"timestamp_created"`
	TimestampLastUpdated time.Time `json:"timestamp_last_updated"`
}

// OtpDefinition binds a named OTP slot to an application and an OTP policy.
// Identity: Name.
type OtpDefinition struct {
	Name          string `json:"name"`
	ApplicationID string `json:"application_id"`
	PolicyName    string `json:"policy_name"`

	TimestampCreated     time.Time `json:"timestamp_created"`
	TimestampLastUpdated time.Time `json:"timestamp_last_updated"`
}

// EngineReport is a read-only snapshot of the engine's configured features,
// returned by [Engine.Report].
type EngineReport struct {
	OperationDefaultExpiration time.Duration
	GenerationRetryLimit       int
	HashingAlgorithm           string
	AssertionsEnabled          bool
	AuditEnabled               bool
	MetricsEnabled             bool
	StepDefinitionCount        int
	MethodConfigCount          int
}
