// Package access implements role parsing and the visibility scope resolver.
//
// A caller's role string is parsed exactly once, at the identity boundary
// (the JWT auth middleware), into a tagged Role value. Everything downstream
// works with the parsed value; nothing re-parses the string. The scope derived
// from the role is the single source of truth for record visibility and is
// applied by every read path (list, detail, history, search, and statistics)
// as well as by the summary queries, so a caller can never reach an
// out-of-scope row through any endpoint.
package access

import "strings"

// Department identifies one of the fixed set of departments whose users
// produce audit records. Actor IDs follow the pattern <CODE>-YYYYMMDD-XXX,
// so a department admin's visibility is an actor-ID prefix match.
type Department string

const (
	DepartmentFinance    Department = "finance"
	DepartmentHR         Department = "hr"
	DepartmentInventory  Department = "inventory"
	DepartmentOperations Department = "operations"
)

// departmentCodes is the closed mapping from department to actor-ID prefix.
var departmentCodes = map[Department]string{
	DepartmentFinance:    "FIN",
	DepartmentHR:         "HR",
	DepartmentInventory:  "INV",
	DepartmentOperations: "OPS",
}

// Code returns the actor-ID prefix for the department, or "" for an unknown one.
func (d Department) Code() string {
	return departmentCodes[d]
}

// Known reports whether the department is part of the closed set.
func (d Department) Known() bool {
	_, ok := departmentCodes[d]
	return ok
}

// RoleKind discriminates the Role variant.
type RoleKind int

const (
	// RoleUnknown is an unrecognized role string. Treated as self-only
	// visibility everywhere.
	RoleUnknown RoleKind = iota
	// RoleSuperAdmin sees everything.
	RoleSuperAdmin
	// RoleDepartment is a "<Department> Admin" or "<Department> Non-Admin"
	// role for a known department.
	RoleDepartment
)

// Role is the parsed form of a caller's role string:
// SuperAdmin | Department{department, isAdmin} | Unknown.
type Role struct {
	Kind       RoleKind
	Department Department // set only for RoleDepartment
	IsAdmin    bool       // set only for RoleDepartment
}

// ParseRole converts a raw role string into its tagged form. Recognized
// shapes are "SuperAdmin", "<Department> Admin", and "<Department> Non-Admin"
// where <Department> is one of the closed department set (case-insensitive).
// Anything else yields RoleUnknown.
func ParseRole(raw string) Role {
	raw = strings.TrimSpace(raw)
	if raw == "SuperAdmin" {
		return Role{Kind: RoleSuperAdmin}
	}

	var dept string
	var isAdmin bool
	switch {
	case strings.HasSuffix(raw, " Non-Admin"):
		dept = strings.TrimSuffix(raw, " Non-Admin")
	case strings.HasSuffix(raw, " Admin"):
		dept = strings.TrimSuffix(raw, " Admin")
		isAdmin = true
	default:
		return Role{Kind: RoleUnknown}
	}

	d := Department(strings.ToLower(dept))
	if !d.Known() {
		return Role{Kind: RoleUnknown}
	}
	return Role{Kind: RoleDepartment, Department: d, IsAdmin: isAdmin}
}

// Caller is the verified identity of a human caller. It is resolved by the
// auth middleware from JWT claims and never persisted by this service.
type Caller struct {
	ID       string
	Username string
	Role     Role
}

// IsSuperAdmin reports whether the caller holds the SuperAdmin role.
func (c Caller) IsSuperAdmin() bool {
	return c.Role.Kind == RoleSuperAdmin
}
