package access

import (
	"errors"
	"time"
)

// Role is the organisation-level role of a catalog user.
type Role string

const (
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
)

// IsPrivileged reports whether the role bypasses manager-hierarchy checks.
func (r Role) IsPrivileged() bool { return r == RoleOwner || r == RoleAdmin }

// GrantStatus is the lifecycle state of an access grant.
// Legal transitions: active -> to_remove -> removed, or active -> removed.
// A removed grant is terminal; re-granting creates a fresh row.
type GrantStatus string

const (
	GrantActive   GrantStatus = "active"
	GrantToRemove GrantStatus = "to_remove"
	GrantRemoved  GrantStatus = "removed"
)

// RequestStatus is the aggregate state of an access request. It is always
// derived from its item statuses (see AggregateStatus), never stored
// independently of them.
type RequestStatus string

const (
	RequestRequested RequestStatus = "requested"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
)

// ItemStatus is the state of a single line within a request.
// rejected and provisioned are terminal.
type ItemStatus string

const (
	ItemRequested   ItemStatus = "requested"
	ItemApproved    ItemStatus = "approved"
	ItemRejected    ItemStatus = "rejected"
	ItemProvisioned ItemStatus = "provisioned"
)

// Terminal reports whether no further transitions are allowed for the item.
func (s ItemStatus) Terminal() bool { return s == ItemRejected || s == ItemProvisioned }

// AuditAction identifies the recorded event kind of an audit row.
type AuditAction string

const (
	ActionRequestCreated        AuditAction = "request_created"
	ActionItemApproved          AuditAction = "item_approved"
	ActionItemRejected          AuditAction = "item_rejected"
	ActionItemProvisioned       AuditAction = "item_provisioned"
	ActionGrantCreated          AuditAction = "grant_created"
	ActionGrantActivated        AuditAction = "grant_activated"
	ActionGrantMarkedForRemoval AuditAction = "grant_marked_for_removal"
	ActionGrantRemoved          AuditAction = "grant_removed"
)

// User is a read-only projection from the external catalog. ManagerID is
// empty for users at the top of the hierarchy.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	ManagerID string `json:"manager_id,omitempty"`
}

// System is a catalog entry for an internal system.
type System struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SystemInstance is a concrete deployment of a system (prod, staging, ...).
type SystemInstance struct {
	ID       string `json:"id"`
	SystemID string `json:"system_id"`
	Name     string `json:"name"`
}

// AccessTier is a named access level of a system. SelfApprovable marks
// tiers a user may request for themselves without manager sign-off.
type AccessTier struct {
	ID             string `json:"id"`
	SystemID       string `json:"system_id"`
	Name           string `json:"name"`
	SelfApprovable bool   `json:"self_approvable"`
}

// AccessGrant is a user's right to access a system instance at a tier.
// At most one grant per (user, instance, tier) triple is not removed.
type AccessGrant struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	SystemInstanceID string      `json:"system_instance_id"`
	AccessTierID     string      `json:"access_tier_id"`
	Status           GrantStatus `json:"status"`
	GrantedAt        time.Time   `json:"granted_at"`
	RemovedAt        *time.Time  `json:"removed_at,omitempty"`
}

// AccessRequest bundles one or more requested items for a target user.
// Items keep submission order.
type AccessRequest struct {
	ID           string              `json:"id"`
	RequesterID  string              `json:"requester_id"`
	TargetUserID string              `json:"target_user_id"`
	Status       RequestStatus       `json:"status"`
	Note         string              `json:"note,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	Items        []AccessRequestItem `json:"items"`
}

// AccessRequestItem is one (system instance, tier) line within a request.
type AccessRequestItem struct {
	ID               string     `json:"id"`
	RequestID        string     `json:"request_id"`
	SystemInstanceID string     `json:"system_instance_id"`
	AccessTierID     string     `json:"access_tier_id"`
	Status           ItemStatus `json:"status"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	DecidedBy        string     `json:"decided_by,omitempty"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
}

// AuditEntry is one append-only audit row. Details carries free-form
// key/value context per action (system/instance/tier names, counts);
// consumers must ignore unknown keys.
type AuditEntry struct {
	ID           string            `json:"id"`
	Action       AuditAction       `json:"action"`
	ActorID      string            `json:"actor_id"`
	TargetUserID string            `json:"target_user_id,omitempty"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Details      map[string]string `json:"details,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Resource types recorded on audit rows.
const (
	ResourceRequest = "access_request"
	ResourceItem    = "access_request_item"
	ResourceGrant   = "access_grant"
)

// RequestedItem is the caller-supplied shape of one submitted line.
type RequestedItem struct {
	SystemInstanceID string `json:"system_instance_id"`
	AccessTierID     string `json:"access_tier_id"`
}

// SkippedGrant reports a source grant the copy operation did not request.
type SkippedGrant struct {
	SystemInstanceID string `json:"system_instance_id"`
	AccessTierID     string `json:"access_tier_id"`
	Reason           string `json:"reason"`
}

// SkipAlreadyGranted is the reason recorded when the target already holds
// an active grant for the pair.
const SkipAlreadyGranted = "already_granted"

// CopySummary aggregates a copy-from-user outcome.
type CopySummary struct {
	Total        int `json:"total"`
	Created      int `json:"created"`
	Skipped      int `json:"skipped"`
	AutoApproved int `json:"auto_approved"`
}

// CopyResult is the outcome of CopyFromUser. Created is nil when every
// eligible source grant was skipped.
type CopyResult struct {
	Created *AccessRequest `json:"created,omitempty"`
	Skipped []SkippedGrant `json:"skipped"`
	Summary CopySummary    `json:"summary"`
}

// BulkFailure reports one item that a bulk provision could not process.
type BulkFailure struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// BulkResult is the outcome of ProvisionBulk. Succeeded preserves the
// input order of the item ids that provisioned.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

var (
	ErrNotFound       = errors.New("access: not found")
	ErrInvalidRequest = errors.New("access: invalid request")
	ErrForbidden      = errors.New("access: forbidden")
	ErrConflict       = errors.New("access: conflict")
)
