// Package steps holds the static routing table deciding which authentication
// method applies next for an operation. Definitions are registered during engine
// construction and frozen before first use; resolution afterwards is lock-free
// reads over immutable state.
package steps

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrFrozen is returned when registering into a frozen registry.
	ErrFrozen = errors.New("step registry frozen")
	// ErrDuplicate is returned when a definition collides with an existing row.
	ErrDuplicate = errors.New("duplicate step definition")
)

// Definition is one routing row: given an operation name, the method just
// attempted, and its step result, it contributes one candidate response.
type Definition struct {
	OperationName         string
	RequestAuthMethod     string
	RequestAuthStepResult string

	ResponseAuthMethod string
	ResponsePriority   int
	ResponseResult     string
	ResponseParams     map[string]string
}

// MethodConfig caps cumulative failed attempts for one method within one
// operation name, independent of per-credential and per-OTP counters.
type MethodConfig struct {
	OperationName string
	AuthMethod    string
	MaxAuthFails  uint32
}

type routeKey struct {
	operationName string
	authMethod    string
	stepResult    string
}

type methodKey struct {
	operationName string
	authMethod    string
}

// Registry maps routing keys to ordered candidate responses. Register and
// RegisterMethodConfig may only be called before Freeze.
type Registry struct {
	mu      sync.Mutex
	frozen  bool
	routes  map[routeKey][]Definition
	methods map[methodKey]MethodConfig
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		routes:  make(map[routeKey][]Definition),
		methods: make(map[methodKey]MethodConfig),
	}
}

// Register adds one routing row. Rows for the same key are ordered by
// ResponsePriority at freeze time.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if def.OperationName == "" || def.RequestAuthMethod == "" || def.RequestAuthStepResult == "" {
		return fmt.Errorf("incomplete step definition: %+v", def)
	}
	key := routeKey{def.OperationName, def.RequestAuthMethod, def.RequestAuthStepResult}
	for _, existing := range r.routes[key] {
		if existing.ResponseAuthMethod == def.ResponseAuthMethod {
			return fmt.Errorf("%w: %s/%s/%s -> %s", ErrDuplicate,
				def.OperationName, def.RequestAuthMethod, def.RequestAuthStepResult, def.ResponseAuthMethod)
		}
	}
	r.routes[key] = append(r.routes[key], def)
	return nil
}

// RegisterMethodConfig sets the per-operation failure cap for one method.
func (r *Registry) RegisterMethodConfig(cfg MethodConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if cfg.OperationName == "" || cfg.AuthMethod == "" {
		return fmt.Errorf("incomplete method config: %+v", cfg)
	}
	r.methods[methodKey{cfg.OperationName, cfg.AuthMethod}] = cfg
	return nil
}

// Freeze sorts every candidate list by priority and makes the registry
// immutable. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return
	}
	for key := range r.routes {
		rows := r.routes[key]
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].ResponsePriority < rows[j].ResponsePriority
		})
	}
	r.frozen = true
}

// Candidates returns the ordered candidate rows for a routing key. The second
// return reports whether any row is registered for the key.
func (r *Registry) Candidates(operationName, authMethod, stepResult string) ([]Definition, bool) {
	rows, ok := r.routes[routeKey{operationName, authMethod, stepResult}]
	return rows, ok
}

// MaxFailures returns the configured cumulative failure cap for the method
// within the operation name.
func (r *Registry) MaxFailures(operationName, authMethod string) (uint32, bool) {
	cfg, ok := r.methods[methodKey{operationName, authMethod}]
	if !ok {
		return 0, false
	}
	return cfg.MaxAuthFails, true
}

// DefinitionCount returns the number of registered routing rows.
func (r *Registry) DefinitionCount() int {
	n := 0
	for _, rows := range r.routes {
		n += len(rows)
	}
	return n
}

// MethodConfigCount returns the number of registered method configs.
func (r *Registry) MethodConfigCount() int {
	return len(r.methods)
}
