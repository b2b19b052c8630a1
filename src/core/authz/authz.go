// Package authz resolves what an authenticated principal may do.
//
// Permissions are the union of the explicit grants carried by the identity
// and the grants implied by each of its roles. The role table is static.
package authz

import "logingest/src/apperr"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

type Permission string

const (
	PermUserCreate           Permission = "user:create"
	PermUserView             Permission = "user:view"
	PermUserViewAny          Permission = "user:view:any"
	PermUserList             Permission = "user:list"
	PermUserUpdate           Permission = "user:update"
	PermUserDelete           Permission = "user:delete"
	PermUserUpdateProfile    Permission = "user:update:profile"
	PermUserUpdatePassword   Permission = "user:update:password"
	PermUserUpdateRole       Permission = "user:update:role"
	PermUserUpdatePermission Permission = "user:update:permission"
	PermUserUpdateStatus     Permission = "user:update:status"

	PermJobView      Permission = "job:view"
	PermJobList      Permission = "job:list"
	PermIngestUpload Permission = "ingest:upload"
)

var knownPermissions = map[Permission]struct{}{
	PermUserCreate: {}, PermUserView: {}, PermUserViewAny: {}, PermUserList: {},
	PermUserUpdate: {}, PermUserDelete: {}, PermUserUpdateProfile: {},
	PermUserUpdatePassword: {}, PermUserUpdateRole: {}, PermUserUpdatePermission: {},
	PermUserUpdateStatus: {}, PermJobView: {}, PermJobList: {}, PermIngestUpload: {},
}

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermUserCreate,
		PermUserViewAny,
		PermUserList,
		PermUserUpdate,
		PermUserDelete,
		PermJobView,
		PermJobList,
		PermIngestUpload,
	},
	RoleManager: {
		PermUserViewAny,
		PermUserList,
		PermUserUpdateProfile,
		PermUserUpdateStatus,
		PermJobView,
		PermJobList,
		PermIngestUpload,
	},
	RoleUser: {
		PermUserView,
		PermUserUpdateProfile,
		PermUserUpdatePassword,
		PermJobView,
		PermIngestUpload,
	},
}

// ParseRole reports whether s names a role in the catalogue.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := rolePermissions[r]
	return r, ok
}

// ParsePermission reports whether s names a known permission.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(s)
	_, ok := knownPermissions[p]
	return p, ok
}

// RolePermissions returns a copy of the grants implied by role.
func RolePermissions(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Identity is the verified principal produced by the token verifier.
type Identity struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// AuthContext is the effective permission set of one request.
type AuthContext struct {
	UserID      string
	Roles       map[Role]struct{}
	Permissions map[Permission]struct{}
}

// Has reports whether p is part of the effective permission set.
func (c AuthContext) Has(p Permission) bool {
	_, ok := c.Permissions[p]
	return ok
}

// Resolve computes the effective permissions of id. Unknown roles and
// permission strings are skipped, so the result may be smaller than what
// the identity claims but Resolve never fails.
func Resolve(id Identity) AuthContext {
	ctx := AuthContext{
		UserID:      id.UserID,
		Roles:       make(map[Role]struct{}, len(id.Roles)),
		Permissions: make(map[Permission]struct{}),
	}

	for _, s := range id.Permissions {
		if p, ok := ParsePermission(s); ok {
			ctx.Permissions[p] = struct{}{}
		}
	}

	for _, s := range id.Roles {
		role, ok := ParseRole(s)
		if !ok {
			continue
		}
		ctx.Roles[role] = struct{}{}
		for _, p := range rolePermissions[role] {
			ctx.Permissions[p] = struct{}{}
		}
	}

	return ctx
}

// RequirePermissions passes when ctx holds at least one of required.
func RequirePermissions(ctx AuthContext, required ...Permission) error {
	for _, p := range required {
		if ctx.Has(p) {
			return nil
		}
	}
	return apperr.ErrPermissionDenied
}
