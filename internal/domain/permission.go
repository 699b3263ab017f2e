package domain

import (
	"fmt"
	"slices"
)

// Role is the coarse account type carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleEmployee, RoleAdmin:
		return true
	}
	return false
}

// Permission is a named capability granted to employees.
type Permission string

const (
	PermissionManageCategories Permission = "manage_categories"
	PermissionManageProducts   Permission = "manage_products"
	PermissionManageUsers      Permission = "manage_users"
)

// AllPermissions lists every known permission.
var AllPermissions = []Permission{
	PermissionManageCategories,
	PermissionManageProducts,
	PermissionManageUsers,
}

// ParsePermission rejects names outside AllPermissions.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !slices.Contains(AllPermissions, p) {
		return "", fmt.Errorf("%w: unknown permission %q", ErrValidation, s)
	}
	return p, nil
}

// Principal is the authenticated caller as seen by the policy.
type Principal struct {
	UserID      string
	Role        Role
	Permissions []Permission
}

// Policy decides whether a principal may exercise a permission.
type Policy interface {
	Allows(p Principal, perm Permission) bool
}

// RolePolicy grants admins everything, employees what they were granted and customers nothing.
type RolePolicy struct{}

func (RolePolicy) Allows(p Principal, perm Permission) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleEmployee:
		return slices.Contains(p.Permissions, perm)
	default:
		return false
	}
}
