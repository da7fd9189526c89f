package rbac

import "errors"

// Catalog and decision-time error taxonomy. Mutation errors return
// synchronously to the caller; decision-time resolution errors are converted
// to a denied Decision and preserved in the audit trail only.
var (
	// ErrInvalidMatrix means a role's matrix does not cover every configured
	// module, or carries a module outside the configured set.
	ErrInvalidMatrix = errors.New("rbac: permission matrix does not cover configured modules")

	// ErrUnknownParent means parent_id does not resolve to a stored role.
	ErrUnknownParent = errors.New("rbac: parent role does not exist")

	// ErrInheritanceCycle means following parent pointers revisits a role or
	// exceeds the configured maximum depth.
	ErrInheritanceCycle = errors.New("rbac: role inheritance chain is cyclic or too deep")

	// ErrDanglingParent means a stored role points at a parent that has been
	// deleted. Dangling parents must be repaired explicitly; resolution fails
	// closed until then.
	ErrDanglingParent = errors.New("rbac: parent role has been deleted")

	// ErrRoleInUse means the role is still referenced by at least one
	// principal and cannot be deleted.
	ErrRoleInUse = errors.New("rbac: role is assigned to principals")

	// ErrRoleNotFound means the role id is not in the catalog.
	ErrRoleNotFound = errors.New("rbac: role not found")

	// ErrRoleInactive means the target role cannot be freshly assigned.
	ErrRoleInactive = errors.New("rbac: role is not active")

	// ErrPrincipalNotFound means the user id has no directory entry.
	ErrPrincipalNotFound = errors.New("rbac: principal not found")

	// ErrResolutionFailure wraps any catalog inconsistency surfacing at
	// decision time. Decisions carrying it always deny.
	ErrResolutionFailure = errors.New("rbac: role resolution failed")

	// ErrAuditUnavailable means the audit backend rejected a write. It never
	// fails the decision path; it is escalated out-of-band.
	ErrAuditUnavailable = errors.New("rbac: audit store unavailable")
)
