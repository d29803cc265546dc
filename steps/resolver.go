package steps

// Result values mirror the engine's operation results.
const (
	ResultContinue = "CONTINUE"
	ResultDone     = "DONE"
	ResultFailed   = "FAILED"
)

// Step result values accepted by Resolve.
const (
	StepConfirmed        = "CONFIRMED"
	StepAuthFailed       = "AUTH_FAILED"
	StepAuthMethodFailed = "AUTH_METHOD_FAILED"
	StepCanceled         = "CANCELED"
)

// Step is one permissible next authentication method.
type Step struct {
	AuthMethod string
	Priority   int
	Params     map[string]string
}

// Decision is the resolver's verdict after one recorded step.
type Decision struct {
	Result string
	Steps  []Step
}

// Resolver computes the next permissible steps and the terminal result for an
// operation from the frozen registry.
type Resolver struct {
	registry *Registry
}

// NewResolver wraps a frozen registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve decides on the operation's next state after a step with the given
// result:
//
//   - CONFIRMED consults the routing table; no matching rows means the method
//     chain is complete and the operation is DONE.
//   - AUTH_FAILED means attempts remain on the current method: the operation
//     continues with the same method unless a routing row overrides it.
//   - AUTH_METHOD_FAILED means the method is exhausted: without a registered
//     fallback the operation FAILED.
//   - CANCELED always fails the operation.
func (r *Resolver) Resolve(operationName, authMethod, stepResult string) Decision {
	switch stepResult {
	case StepCanceled:
		return Decision{Result: ResultFailed}
	case StepConfirmed:
		rows, ok := r.registry.Candidates(operationName, authMethod, StepConfirmed)
		if !ok || len(rows) == 0 {
			return Decision{Result: ResultDone}
		}
		return decisionFromRows(rows)
	case StepAuthFailed:
		rows, ok := r.registry.Candidates(operationName, authMethod, StepAuthFailed)
		if ok && len(rows) > 0 {
			return decisionFromRows(rows)
		}
		// Same method retries until its failure cap is reached.
		return Decision{
			Result: ResultContinue,
			Steps:  []Step{{AuthMethod: authMethod}},
		}
	case StepAuthMethodFailed:
		rows, ok := r.registry.Candidates(operationName, authMethod, StepAuthMethodFailed)
		if !ok || len(rows) == 0 {
			return Decision{Result: ResultFailed}
		}
		return decisionFromRows(rows)
	default:
		return Decision{Result: ResultFailed}
	}
}

// InitialSteps returns the steps offered right after operation creation.
func (r *Resolver) InitialSteps(operationName string) Decision {
	rows, ok := r.registry.Candidates(operationName, "INIT", StepConfirmed)
	if !ok || len(rows) == 0 {
		return Decision{Result: ResultContinue}
	}
	return decisionFromRows(rows)
}

// MaxFailures exposes the per-method cumulative failure cap.
func (r *Resolver) MaxFailures(operationName, authMethod string) (uint32, bool) {
	return r.registry.MaxFailures(operationName, authMethod)
}

// DefinitionCount reports how many step definitions the registry holds.
func (r *Resolver) DefinitionCount() int {
	return r.registry.DefinitionCount()
}

// MethodConfigCount reports how many method configurations the registry holds.
func (r *Resolver) MethodConfigCount() int {
	return r.registry.MethodConfigCount()
}

func decisionFromRows(rows []Definition) Decision {
	d := Decision{Result: rows[0].ResponseResult}
	if d.Result == "" {
		d.Result = ResultContinue
	}
	if d.Result != ResultContinue {
		return d
	}
	for _, row := range rows {
		if row.ResponseAuthMethod == "" {
			continue
		}
		d.Steps = append(d.Steps, Step{
			AuthMethod: row.ResponseAuthMethod,
			Priority:   row.ResponsePriority,
			Params:     row.ResponseParams,
		})
	}
	return d
}
