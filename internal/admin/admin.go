// Package admin authorizes operator-only marketplace operations
package admin

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the caller is not the admin principal
var ErrUnauthorized = errors.New("unauthorized")

// Guard checks callers against the admin principal fixed at startup. There
// is no runtime handover of the admin role.
type Guard struct {
	admin string
}

// NewGuard creates a guard for the given admin principal
func NewGuard(admin string) *Guard {
	return &Guard{admin: admin}
}

// RequireAdmin returns ErrUnauthorized unless caller is the admin principal
func (g *Guard) RequireAdmin(caller string) error {
	if caller == "" || caller != g.admin {
		return fmt.Errorf("%w: caller %q is not the admin", ErrUnauthorized, caller)
	}
	return nil
}

// Admin returns the admin principal
func (g *Guard) Admin() string {
	return g.admin
}
