package access

import (
	"context"
	"time"
)

// ItemDecision carries the decision stamp applied to an item transition.
type ItemDecision struct {
	DecidedBy       string
	DecidedAt       time.Time
	RejectionReason string
}

// Store is the persistence contract for requests, items, grants and the
// audit trail. Every mutating method is atomic: the state change, the
// parent-request aggregate recomputation and the supplied audit entries
// commit together or not at all. Methods taking a `from` status perform
// an optimistic check against the current row and fail with ErrConflict
// when it no longer matches.
type Store interface {
	// CreateRequest persists the request with its items and audit rows.
	CreateRequest(ctx context.Context, req AccessRequest, audits []AuditEntry) error
	RequestByID(ctx context.Context, id string) (AccessRequest, error)
	ItemByID(ctx context.Context, id string) (AccessRequestItem, error)
	// PendingForTargets returns requests with at least one requested item
	// whose target user is in targetUserIDs, oldest first.
	PendingForTargets(ctx context.Context, targetUserIDs []string) ([]AccessRequest, error)

	// DecideItem moves an item from `from` to approved or rejected,
	// stamps the decision and recomputes the parent aggregate status.
	DecideItem(ctx context.Context, itemID string, from, to ItemStatus, dec ItemDecision, audits []AuditEntry) (AccessRequestItem, error)

	// ProvisionItem moves an item from `from` to provisioned and creates
	// or reuses the grant for the item's (user, instance, tier) triple.
	// When a new grant row is inserted, the entry returned by grantAudit
	// is appended alongside the other audits in the same transaction;
	// when an active grant already exists it is returned unchanged and
	// grantAudit is not consulted.
	ProvisionItem(ctx context.Context, itemID string, from ItemStatus, dec ItemDecision, grant AccessGrant, audits []AuditEntry, grantAudit func(action AuditAction, grant AccessGrant) AuditEntry) (AccessRequestItem, AccessGrant, error)

	// CreateOrActivateGrant inserts the grant unless an active grant for
	// the same triple exists, in which case the existing grant is
	// returned and created is false. grantAudit receives
	// ActionGrantCreated for a first grant and ActionGrantActivated when
	// the new row supersedes a removed one.
	CreateOrActivateGrant(ctx context.Context, grant AccessGrant, grantAudit func(action AuditAction, grant AccessGrant) AuditEntry) (g AccessGrant, created bool, err error)

	// UpdateGrantStatus moves a grant to `to` if its current status is in
	// `from`, setting removedAt when provided.
	UpdateGrantStatus(ctx context.Context, grantID string, from []GrantStatus, to GrantStatus, removedAt *time.Time, audit AuditEntry) (AccessGrant, error)

	GrantByID(ctx context.Context, id string) (AccessGrant, error)
	// GrantsByUser lists the user's grants, newest first. An empty status
	// means all statuses.
	GrantsByUser(ctx context.Context, userID string, status GrantStatus) ([]AccessGrant, error)

	// AuditEntries pages through the trail in insertion order using the
	// entry id as keyset cursor.
	AuditEntries(ctx context.Context, limit int, afterID string) ([]AuditEntry, error)
}
