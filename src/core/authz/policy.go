package authz

import "logingest/src/apperr"

// Policy is a named predicate evaluated over the caller and request parameters.
type Policy interface {
	Name() string
	Allow(ctx AuthContext, params map[string]string) bool
}

// OwnerOrPermission allows the caller when it is the owner of the resource
// named by ResourceParam, or when it holds Permission.
type OwnerOrPermission struct {
	Permission    Permission
	ResourceParam string
}

func (p OwnerOrPermission) Name() string { return "owner_or_permission" }

func (p OwnerOrPermission) Allow(ctx AuthContext, params map[string]string) bool {
	if owner, ok := params[p.ResourceParam]; ok && ctx.UserID != "" && ctx.UserID == owner {
		return true
	}
	return ctx.Has(p.Permission)
}

// RequirePolicy evaluates policy and returns ErrPolicyDenied when it refuses.
func RequirePolicy(ctx AuthContext, policy Policy, params map[string]string) error {
	if policy.Allow(ctx, params) {
		return nil
	}
	return apperr.ErrPolicyDenied.WithMessage("Policy %s denied", policy.Name())
}
