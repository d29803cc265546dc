// Package nextstep provides a multi-factor authentication orchestration engine:
// operation lifecycle with step resolution, credential and one-time password
// verification against configurable policies, attempt counters with soft/hard
// blocking, and Redis-backed persistence for every durable entity.
//
// The package is designed for concurrent server workloads: Engine methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// nextstep is the public surface. It exposes [Engine], [Builder], [Config], and the
// domain value types (Operation, Credential, Otp, UserIdentity, policies). Step
// routing lives in the steps package, credential protection in the secret package,
// signed operation assertions in the opclaims package. Generation and validation
// rule engines live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store key layouts, or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Call out to anti-fraud, push, or any other collaborator; the engine only
//     records the facts those collaborators consume.
//
// # Consistency contract
//
// Every counter update, status transition, and history append is a compare-and-swap
// unit against the entity's own key. Two concurrent failed attempts on the same
// credential observe each other; blocking transitions happen exactly once.
package nextstep
