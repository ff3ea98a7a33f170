package access

import "fmt"

// Scope is the visibility predicate derived from a caller's role. It renders
// to SQL fragments for the record and summary tables and to an in-memory
// predicate for tests and spot checks. Both the audit record queries and the
// summary queries consume the same Scope value; there is deliberately no
// second resolver.
type Scope struct {
	role    Role
	actorID string
}

// ScopeFor derives the caller's visibility scope:
//
//   - SuperAdmin: unrestricted.
//   - Department Admin: records whose action_by starts with the department code.
//   - Everyone else (department non-admins, unknown roles): records whose
//     action_by equals the caller's ID exactly.
func ScopeFor(c Caller) Scope {
	return Scope{role: c.Role, actorID: c.ID}
}

// SystemScope returns an unrestricted scope for internal work that runs on
// behalf of the service itself, such as aggregation and tombstone reads.
func SystemScope() Scope {
	return Scope{role: Role{Kind: RoleSuperAdmin}}
}

// Unrestricted reports whether the scope admits every record.
func (s Scope) Unrestricted() bool {
	return s.role.Kind == RoleSuperAdmin
}

// RecordClause renders the scope as a SQL predicate over the audit_records
// table using positional parameters starting at argPos. An empty clause with
// no args means "no restriction". The caller is responsible for ANDing the
// clause into its WHERE and appending the args in order.
func (s Scope) RecordClause(argPos int) (string, []interface{}) {
	switch {
	case s.role.Kind == RoleSuperAdmin:
		return "", nil
	case s.role.Kind == RoleDepartment && s.role.IsAdmin:
		return fmt.Sprintf("action_by LIKE $%d", argPos), []interface{}{s.role.Department.Code() + "%"}
	default:
		return fmt.Sprintf("action_by = $%d", argPos), []interface{}{s.actorID}
	}
}

// SummaryClause renders the scope as a SQL predicate over the summaries
// table. Summaries carry no per-actor attribution, so visibility is by
// source service: department members (admin or not) see their own
// department's summaries, SuperAdmin sees everything, and unrecognized
// roles see nothing. The FALSE clause keeps the last case a well-formed
// query rather than a special path.
func (s Scope) SummaryClause(argPos int) (string, []interface{}) {
	switch s.role.Kind {
	case RoleSuperAdmin:
		return "", nil
	case RoleDepartment:
		return fmt.Sprintf("source_service = $%d", argPos), []interface{}{string(s.role.Department)}
	default:
		return "FALSE", nil
	}
}

// Matches reports whether a record with the given action_by value is visible
// under this scope. Mirrors RecordClause; used for in-memory checks.
func (s Scope) Matches(actionBy string) bool {
	switch {
	case s.role.Kind == RoleSuperAdmin:
		return true
	case s.role.Kind == RoleDepartment && s.role.IsAdmin:
		code := s.role.Department.Code()
		return len(actionBy) >= len(code) && actionBy[:len(code)] == code
	default:
		return actionBy == s.actorID
	}
}
