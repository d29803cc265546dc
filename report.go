package nextstep

// Report returns a read-only snapshot of the engine's configured features and
// limits, suitable for operational inspection and startup logging.
func (e *Engine) Report() (*EngineReport, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return &EngineReport{
		OperationDefaultExpiration: e.config.Operation.DefaultExpiration,
		GenerationRetryLimit:       e.config.Credential.GenerationRetryLimit,
		HashingAlgorithm:           e.hasher.Algorithm(),
		AssertionsEnabled:          e.assertions != nil,
		AuditEnabled:               e.audit != nil,
		MetricsEnabled:             e.metrics != nil,
		StepDefinitionCount:        e.resolver.DefinitionCount(),
		MethodConfigCount:          e.resolver.MethodConfigCount(),
	}, nil
}
