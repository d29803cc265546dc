package nextstep

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/wultra/powerauth-webflow-sub003/opclaims"
	"github.com/wultra/powerauth-webflow-sub003/secret"
	"github.com/wultra/powerauth-webflow-sub003/steps"
)

// Builder assembles an Engine. A Builder is single-use: Build may be called
// once and the builder must not be reused afterwards.
type Builder struct {
	config Config
	redis  *redis.Client

	stepDefinitions []steps.Definition
	methodConfigs   []steps.MethodConfig

	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the Redis client all stores run on. Required.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithStepDefinitions supplies the routing table the step resolver consults.
// The definitions are registered and frozen during Build.
func (b *Builder) WithStepDefinitions(defs []steps.Definition) *Builder {
	b.stepDefinitions = defs
	return b
}

// WithMethodConfigs supplies per-operation, per-method failure caps.
func (b *Builder) WithMethodConfigs(cfgs []steps.MethodConfig) *Builder {
	b.methodConfigs = cfgs
	return b
}

// WithAuditSink supplies the destination for audit events. Without a sink the
// dispatcher drops everything silently.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process metrics system.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms on the authenticate path.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, freezes the step registry, and wires the
// engine together.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(b.stepDefinitions) == 0 {
		return nil, errors.New("step definitions must be provided")
	}

	registry := steps.NewRegistry()
	for _, def := range b.stepDefinitions {
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	for _, mc := range b.methodConfigs {
		if err := registry.RegisterMethodConfig(mc); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	keys := storeKeys{prefix: cfg.Store.KeyPrefix}
	retries := cfg.Store.CASMaxRetries

	engine := &Engine{
		config:      cfg,
		operations:  newOperationStore(b.redis, keys, retries),
		credentials: newCredentialStore(b.redis, keys, retries),
		otps:        newOtpStore(b.redis, keys, retries),
		users:       newUserStore(b.redis, keys, retries),
		policies:    newPolicyStore(b.redis, keys),
		resolver:    steps.NewResolver(registry),
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	hasher, err := secret.NewArgon2(secret.Config{
		Memory:      cfg.Secret.Memory,
		Time:        cfg.Secret.Time,
		Parallelism: cfg.Secret.Parallelism,
		SaltLength:  cfg.Secret.SaltLength,
		KeyLength:   cfg.Secret.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	if cfg.Assertion.Enabled {
		am, err := opclaims.NewManager(opclaims.Config{
			TTL:           cfg.Assertion.TTL,
			SigningMethod: opclaims.SigningMethod(cfg.Assertion.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Assertion.PrivateKey),
			PublicKey:     cloneBytes(cfg.Assertion.PublicKey),
			Issuer:        cfg.Assertion.Issuer,
		})
		if err != nil {
			return nil, err
		}
		engine.assertions = am
	}

	b.built = true

	return engine, nil
}
