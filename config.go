package nextstep

import (
	"errors"
	"time"
)

// Config is the engine configuration tree. Instances are cloned on Build and
// treated as immutable afterwards.
type Config struct {
	Operation  OperationConfig
	Credential CredentialConfig
	Otp        OtpConfig
	Secret     SecretConfig
	Assertion  AssertionConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Store      StoreConfig
}

// OperationConfig controls operation lifecycle defaults.
type OperationConfig struct {
	// DefaultExpiration applies when a create request carries no expiration.
	DefaultExpiration time.Duration
}

// CredentialConfig controls credential generation behavior.
type CredentialConfig struct {
	// GenerationRetryLimit bounds the generate-then-validate loop. A policy whose
	// generation parameters cannot satisfy its own validation rules fails with
	// ErrInvalidConfiguration once the limit is reached.
	GenerationRetryLimit int
	// DefaultHistoryLimit caps stored history entries when a policy does not set
	// its own check-history count.
	DefaultHistoryLimit int
}

// OtpConfig controls one-time password defaults.
type OtpConfig struct {
	SaltLength          int
	DefaultAttemptLimit uint32
	DefaultExpiration   time.Duration
}

// SecretConfig holds the Argon2id cost parameters for stored credential values.
type SecretConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AssertionConfig controls signed operation-completion assertions.
type AssertionConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// StoreConfig controls the Redis key layout and compare-and-swap behavior.
type StoreConfig struct {
	KeyPrefix     string
	CASMaxRetries int
}

// DefaultConfig returns the configuration tree the engine starts from. Callers
// adjust individual fields and pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Operation: OperationConfig{
			DefaultExpiration: 5 * time.Minute,
		},
		Credential: CredentialConfig{
			GenerationRetryLimit: 50,
			DefaultHistoryLimit:  5,
		},
		Otp: OtpConfig{
			SaltLength:          16,
			DefaultAttemptLimit: 3,
			DefaultExpiration:   5 * time.Minute,
		},
		Secret: SecretConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Assertion: AssertionConfig{
			Enabled:       false,
			TTL:           10 * time.Minute,
			SigningMethod: "ed25519",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Store: StoreConfig{
			KeyPrefix:     "ns",
			CASMaxRetries: 4,
		},
	}
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	if c.Operation.DefaultExpiration <= 0 {
		return errors.New("operation default expiration must be positive")
	}
	if c.Credential.GenerationRetryLimit <= 0 {
		return errors.New("credential generation retry limit must be positive")
	}
	if c.Credential.DefaultHistoryLimit < 0 {
		return errors.New("credential history limit must not be negative")
	}
	if c.Otp.SaltLength < 8 {
		return errors.New("otp salt length must be at least 8")
	}
	if c.Otp.DefaultAttemptLimit == 0 {
		return errors.New("otp default attempt limit must be positive")
	}
	if c.Otp.DefaultExpiration <= 0 {
		return errors.New("otp default expiration must be positive")
	}
	if c.Assertion.Enabled {
		if c.Assertion.TTL <= 0 {
			return errors.New("assertion TTL must be positive")
		}
		if len(c.Assertion.PrivateKey) == 0 {
			return errors.New("assertions require a signing key")
		}
	}
	if c.Store.KeyPrefix == "" {
		return errors.New("store key prefix must not be empty")
	}
	if c.Store.CASMaxRetries <= 0 {
		return errors.New("store CAS retry limit must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Assertion.PrivateKey = cloneBytes(cfg.Assertion.PrivateKey)
	out.Assertion.PublicKey = cloneBytes(cfg.Assertion.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
