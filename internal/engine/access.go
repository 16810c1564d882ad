package engine

import "fmt"

// Role is the permission level an operation requires.
type Role int

const (
	// RoleOwner may configure the engine and manage strategies.
	RoleOwner Role = iota
	// RoleAgent may trigger evaluate-and-act cycles. The owner holds it too.
	RoleAgent
)

func (r Role) String() string {
	if r == RoleOwner {
		return "owner"
	}
	return "agent"
}

// authorize checks that caller holds role.
func (e *Engine) authorize(caller string, role Role) error {
	if caller != "" && caller == e.opts.Owner {
		return nil
	}
	if role == RoleAgent && caller != "" {
		if _, ok := e.agents[caller]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not %s", ErrUnauthorized, caller, role)
}
