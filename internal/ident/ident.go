// Package ident generates entity identifiers for the engine.
package ident

import (
	"github.com/google/uuid"
)

// New returns a random UUIDv4 string used for operation, credential, OTP, and
// authentication record identifiers.
func New() string {
	return uuid.NewString()
}
