package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"grantd.org/internal/ids"
)

const (
	// MaxBulkProvision bounds one ProvisionBulk call.
	MaxBulkProvision = 100
	// MaxRejectionReason caps the stored rejection reason.
	MaxRejectionReason = 500

	bulkWorkers = 8
)

// Service is the access-request/grant lifecycle engine. All mutations of
// requests, items, grants and the audit trail go through it; the catalog
// is read-only and the event sink is best-effort.
type Service struct {
	store   Store
	catalog Catalog
	events  EventSink
	now     func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithEventSink injects the notification collaborator.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the engine.
func NewService(store Store, catalog Catalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("access: store is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("access: catalog is required")
	}
	s := &Service{
		store:   store,
		catalog: catalog,
		events:  NopSink{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubmitRequestInput is the caller-supplied shape of a new request.
type SubmitRequestInput struct {
	RequesterID  string
	TargetUserID string
	Items        []RequestedItem
	Note         string
}

type resolvedItem struct {
	instance SystemInstance
	tier     AccessTier
	system   System
	auto     bool
}

// SubmitRequest validates the submission, applies the auto-approval
// policy per item and persists the request, its items and the audit rows
// in one transaction.
func (s *Service) SubmitRequest(ctx context.Context, in SubmitRequestInput) (AccessRequest, error) {
	if len(in.Items) == 0 {
		return AccessRequest{}, fmt.Errorf("%w: at least one item is required", ErrInvalidRequest)
	}

	requester, err := s.catalog.GetUser(ctx, in.RequesterID)
	if err != nil {
		return AccessRequest{}, fmt.Errorf("%w: requester %s", ErrNotFound, in.RequesterID)
	}
	target, err := s.catalog.GetUser(ctx, in.TargetUserID)
	if err != nil {
		return AccessRequest{}, fmt.Errorf("%w: target user %s", ErrNotFound, in.TargetUserID)
	}
	if !CanActOn(requester, target, ActRequestFor) {
		return AccessRequest{}, fmt.Errorf("%w: %s may not request access for %s", ErrForbidden, requester.ID, target.ID)
	}

	seen := make(map[string]struct{}, len(in.Items))
	resolved := make([]resolvedItem, 0, len(in.Items))
	for _, it := range in.Items {
		key := it.SystemInstanceID + "|" + it.AccessTierID
		if _, dup := seen[key]; dup {
			return AccessRequest{}, fmt.Errorf("%w: duplicate item %s/%s", ErrInvalidRequest, it.SystemInstanceID, it.AccessTierID)
		}
		seen[key] = struct{}{}

		instance, err := s.catalog.GetSystemInstance(ctx, it.SystemInstanceID)
		if err != nil {
			return AccessRequest{}, fmt.Errorf("%w: system instance %s", ErrNotFound, it.SystemInstanceID)
		}
		tier, err := s.catalog.GetAccessTier(ctx, it.AccessTierID)
		if err != nil {
			return AccessRequest{}, fmt.Errorf("%w: access tier %s", ErrNotFound, it.AccessTierID)
		}
		if tier.SystemID != instance.SystemID {
			return AccessRequest{}, fmt.Errorf("%w: tier %s does not belong to the system of instance %s", ErrInvalidRequest, tier.ID, instance.ID)
		}
		system, err := s.catalog.GetSystem(ctx, instance.SystemID)
		if err != nil {
			return AccessRequest{}, fmt.Errorf("%w: system %s", ErrNotFound, instance.SystemID)
		}
		resolved = append(resolved, resolvedItem{
			instance: instance,
			tier:     tier,
			system:   system,
			auto:     AutoApproves(requester, target, tier),
		})
	}

	now := s.now().UTC()
	req := AccessRequest{
		ID:           ids.New(),
		RequesterID:  requester.ID,
		TargetUserID: target.ID,
		Note:         strings.TrimSpace(in.Note),
		CreatedAt:    now,
	}
	audits := []AuditEntry{s.newAudit(ActionRequestCreated, requester.ID, target.ID, ResourceRequest, req.ID, map[string]string{
		"item_count": strconv.Itoa(len(resolved)),
	}, req.Note)}

	for _, ri := range resolved {
		item := AccessRequestItem{
			ID:               ids.New(),
			RequestID:        req.ID,
			SystemInstanceID: ri.instance.ID,
			AccessTierID:     ri.tier.ID,
			Status:           ItemRequested,
		}
		if ri.auto {
			item.Status = ItemApproved
			item.DecidedBy = requester.ID
			decidedAt := now
			item.DecidedAt = &decidedAt
			audits = append(audits, s.newAudit(ActionItemApproved, requester.ID, target.ID, ResourceItem, item.ID, map[string]string{
				"system_name":   ri.system.Name,
				"instance_name": ri.instance.Name,
				"tier_name":     ri.tier.Name,
				"auto":          "true",
			}, ""))
		}
		req.Items = append(req.Items, item)
	}
	req.Status = AggregateStatus(req.Items)

	if err := s.store.CreateRequest(ctx, req, audits); err != nil {
		return AccessRequest{}, err
	}

	s.publish(ctx, EventRequestCreated, map[string]any{
		"request_id":     req.ID,
		"requester_id":   req.RequesterID,
		"target_user_id": req.TargetUserID,
		"status":         req.Status,
		"item_count":     len(req.Items),
	})
	return req, nil
}

// ApproveItem transitions a requested item to approved. Re-approval is a
// Conflict, not a no-op: double submissions from the UI must surface.
func (s *Service) ApproveItem(ctx context.Context, itemID, actorID string) (AccessRequestItem, error) {
	return s.decideItem(ctx, itemID, actorID, ItemApproved, "")
}

// RejectItem transitions a requested item to rejected with a mandatory
// reason.
func (s *Service) RejectItem(ctx context.Context, itemID, actorID, reason string) (AccessRequestItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return AccessRequestItem{}, fmt.Errorf("%w: rejection reason is required", ErrInvalidRequest)
	}
	if len(reason) > MaxRejectionReason {
		return AccessRequestItem{}, fmt.Errorf("%w: rejection reason exceeds %d characters", ErrInvalidRequest, MaxRejectionReason)
	}
	return s.decideItem(ctx, itemID, actorID, ItemRejected, reason)
}

func (s *Service) decideItem(ctx context.Context, itemID, actorID string, to ItemStatus, reason string) (AccessRequestItem, error) {
	item, err := s.store.ItemByID(ctx, itemID)
	if err != nil {
		return AccessRequestItem{}, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	req, err := s.store.RequestByID(ctx, item.RequestID)
	if err != nil {
		return AccessRequestItem{}, err
	}
	actor, err := s.catalog.GetUser(ctx, actorID)
	if err != nil {
		return AccessRequestItem{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}
	target, err := s.catalog.GetUser(ctx, req.TargetUserID)
	if err != nil {
		return AccessRequestItem{}, fmt.Errorf("%w: target user %s", ErrNotFound, req.TargetUserID)
	}
	if !CanActOn(actor, target, ActDecide) {
		return AccessRequestItem{}, fmt.Errorf("%w: %s may not decide on items for %s", ErrForbidden, actor.ID, target.ID)
	}
	if item.Status != ItemRequested {
		return AccessRequestItem{}, fmt.Errorf("%w: item %s is already %s", ErrConflict, item.ID, item.Status)
	}

	now := s.now().UTC()
	action := ActionItemApproved
	event := EventItemApproved
	if to == ItemRejected {
		action = ActionItemRejected
		event = EventItemRejected
	}
	details := s.itemDetails(ctx, item)
	audit := s.newAudit(action, actor.ID, target.ID, ResourceItem, item.ID, details, reason)

	updated, err := s.store.DecideItem(ctx, itemID, ItemRequested, to, ItemDecision{
		DecidedBy:       actor.ID,
		DecidedAt:       now,
		RejectionReason: reason,
	}, []AuditEntry{audit})
	if err != nil {
		return AccessRequestItem{}, err
	}

	s.publish(ctx, event, map[string]any{
		"item_id":        updated.ID,
		"request_id":     updated.RequestID,
		"target_user_id": target.ID,
		"decided_by":     actor.ID,
	})
	return updated, nil
}

// ListPending returns requests with at least one undecided item whose
// target user reports directly to managerID, oldest first.
func (s *Service) ListPending(ctx context.Context, managerID string) ([]AccessRequest, error) {
	if _, err := s.catalog.GetUser(ctx, managerID); err != nil {
		return nil, fmt.Errorf("%w: manager %s", ErrNotFound, managerID)
	}
	reports, err := s.catalog.DirectReports(ctx, managerID)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	targetIDs := make([]string, 0, len(reports))
	for _, u := range reports {
		targetIDs = append(targetIDs, u.ID)
	}
	return s.store.PendingForTargets(ctx, targetIDs)
}

// ProvisionItem turns a requested or approved item into an active grant.
// A requested item is approved on the way, recording both decisions. The
// item transition and the grant creation commit in one transaction.
func (s *Service) ProvisionItem(ctx context.Context, itemID, actorID string) (AccessGrant, error) {
	actor, err := s.catalog.GetUser(ctx, actorID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}
	return s.provisionOne(ctx, itemID, actor)
}

func (s *Service) provisionOne(ctx context.Context, itemID string, actor User) (AccessGrant, error) {
	item, err := s.store.ItemByID(ctx, itemID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	req, err := s.store.RequestByID(ctx, item.RequestID)
	if err != nil {
		return AccessGrant{}, err
	}
	target, err := s.catalog.GetUser(ctx, req.TargetUserID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: target user %s", ErrNotFound, req.TargetUserID)
	}
	if !CanActOn(actor, target, ActProvision) {
		return AccessGrant{}, fmt.Errorf("%w: %s may not provision access", ErrForbidden, actor.ID)
	}
	if item.Status.Terminal() {
		return AccessGrant{}, fmt.Errorf("%w: item %s is already %s", ErrConflict, item.ID, item.Status)
	}

	now := s.now().UTC()
	details := s.itemDetails(ctx, item)
	var audits []AuditEntry
	if item.Status == ItemRequested {
		approval := s.newAudit(ActionItemApproved, actor.ID, target.ID, ResourceItem, item.ID, details, "")
		audits = append(audits, approval)
	}
	audits = append(audits, s.newAudit(ActionItemProvisioned, actor.ID, target.ID, ResourceItem, item.ID, details, ""))

	grant := AccessGrant{
		ID:               ids.New(),
		UserID:           target.ID,
		SystemInstanceID: item.SystemInstanceID,
		AccessTierID:     item.AccessTierID,
		Status:           GrantActive,
		GrantedAt:        now,
	}
	updated, out, err := s.store.ProvisionItem(ctx, itemID, item.Status, ItemDecision{DecidedBy: actor.ID, DecidedAt: now}, grant, audits,
		func(action AuditAction, g AccessGrant) AuditEntry {
			return s.newAudit(action, actor.ID, g.UserID, ResourceGrant, g.ID, details, "")
		})
	if err != nil {
		return AccessGrant{}, err
	}

	s.publish(ctx, EventItemProvisioned, map[string]any{
		"item_id":        updated.ID,
		"request_id":     updated.RequestID,
		"grant_id":       out.ID,
		"target_user_id": target.ID,
		"provisioned_by": actor.ID,
	})
	return out, nil
}

// ProvisionBulk provisions up to MaxBulkProvision items. Items are
// processed concurrently and each commits independently: a Conflict or
// NotFound on one item lands in Failed without touching its siblings.
// Any other error cancels the remaining work and is returned alongside
// the results accumulated so far; committed items stay committed.
func (s *Service) ProvisionBulk(ctx context.Context, itemIDs []string, actorID string) (BulkResult, error) {
	if len(itemIDs) == 0 {
		return BulkResult{}, fmt.Errorf("%w: item ids are required", ErrInvalidRequest)
	}
	if len(itemIDs) > MaxBulkProvision {
		return BulkResult{}, fmt.Errorf("%w: at most %d items per call, got %d", ErrInvalidRequest, MaxBulkProvision, len(itemIDs))
	}
	actor, err := s.catalog.GetUser(ctx, actorID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}

	unique := make([]string, 0, len(itemIDs))
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	type outcome struct {
		ok    bool
		fail  *BulkFailure
		fatal error
	}
	outcomes := make([]outcome, len(unique))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sem := make(chan struct{}, bulkWorkers)
	for i, id := range unique {
		if runCtx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if runCtx.Err() != nil {
				return
			}
			_, err := s.provisionOne(runCtx, id, actor)
			switch {
			case err == nil:
				outcomes[i] = outcome{ok: true}
			case isPerItemError(err):
				outcomes[i] = outcome{fail: &BulkFailure{ItemID: id, Reason: err.Error()}}
			default:
				outcomes[i] = outcome{fatal: err}
				cancel()
			}
		}(i, id)
	}
	wg.Wait()

	var result BulkResult
	for i, o := range outcomes {
		switch {
		case o.ok:
			result.Succeeded = append(result.Succeeded, unique[i])
		case o.fail != nil:
			result.Failed = append(result.Failed, *o.fail)
		case o.fatal != nil:
			return result, o.fatal
		}
	}
	return result, nil
}

func isPerItemError(err error) bool {
	return errorIsAny(err, ErrConflict, ErrNotFound)
}

// CopyInput names the parties of a copy-from-user operation. SystemIDs
// narrows the copy to the listed systems; ExcludeSystemIDs removes
// systems and wins over inclusion.
type CopyInput struct {
	ActorID          string
	SourceUserID     string
	TargetUserID     string
	SystemIDs        []string
	ExcludeSystemIDs []string
}

// CopyFromUser mirrors the source user's active grants onto the target:
// pairs the target already holds are skipped, the rest are bundled into
// one submitted request sharing a single auto-approval evaluation. A
// source with zero eligible grants yields an empty, successful result.
func (s *Service) CopyFromUser(ctx context.Context, in CopyInput) (CopyResult, error) {
	if in.SourceUserID == in.TargetUserID {
		return CopyResult{}, fmt.Errorf("%w: source and target user must differ", ErrInvalidRequest)
	}
	source, err := s.catalog.GetUser(ctx, in.SourceUserID)
	if err != nil {
		return CopyResult{}, fmt.Errorf("%w: source user %s", ErrNotFound, in.SourceUserID)
	}
	target, err := s.catalog.GetUser(ctx, in.TargetUserID)
	if err != nil {
		return CopyResult{}, fmt.Errorf("%w: target user %s", ErrNotFound, in.TargetUserID)
	}

	include := make(map[string]struct{}, len(in.SystemIDs))
	for _, id := range in.SystemIDs {
		include[id] = struct{}{}
	}
	exclude := make(map[string]struct{}, len(in.ExcludeSystemIDs))
	for _, id := range in.ExcludeSystemIDs {
		exclude[id] = struct{}{}
	}

	sourceGrants, err := s.store.GrantsByUser(ctx, source.ID, GrantActive)
	if err != nil {
		return CopyResult{}, err
	}
	// Store returns newest first; copy in original grant order.
	for i, j := 0, len(sourceGrants)-1; i < j; i, j = i+1, j-1 {
		sourceGrants[i], sourceGrants[j] = sourceGrants[j], sourceGrants[i]
	}

	targetGrants, err := s.store.GrantsByUser(ctx, target.ID, GrantActive)
	if err != nil {
		return CopyResult{}, err
	}
	held := make(map[string]struct{}, len(targetGrants))
	for _, g := range targetGrants {
		held[g.SystemInstanceID+"|"+g.AccessTierID] = struct{}{}
	}

	result := CopyResult{Skipped: []SkippedGrant{}}
	var items []RequestedItem
	for _, g := range sourceGrants {
		instance, err := s.catalog.GetSystemInstance(ctx, g.SystemInstanceID)
		if err != nil {
			return CopyResult{}, fmt.Errorf("%w: system instance %s", ErrNotFound, g.SystemInstanceID)
		}
		if len(include) > 0 {
			if _, ok := include[instance.SystemID]; !ok {
				continue
			}
		}
		if _, ok := exclude[instance.SystemID]; ok {
			continue
		}
		if _, ok := held[g.SystemInstanceID+"|"+g.AccessTierID]; ok {
			result.Skipped = append(result.Skipped, SkippedGrant{
				SystemInstanceID: g.SystemInstanceID,
				AccessTierID:     g.AccessTierID,
				Reason:           SkipAlreadyGranted,
			})
			continue
		}
		items = append(items, RequestedItem{
			SystemInstanceID: g.SystemInstanceID,
			AccessTierID:     g.AccessTierID,
		})
	}

	result.Summary = CopySummary{
		Total:   len(items) + len(result.Skipped),
		Created: len(items),
		Skipped: len(result.Skipped),
	}
	if len(items) == 0 {
		return result, nil
	}

	req, err := s.SubmitRequest(ctx, SubmitRequestInput{
		RequesterID:  in.ActorID,
		TargetUserID: target.ID,
		Items:        items,
		Note:         fmt.Sprintf("copied from user %s", source.ID),
	})
	if err != nil {
		return CopyResult{}, err
	}
	result.Created = &req
	for _, it := range req.Items {
		if it.Status == ItemApproved {
			result.Summary.AutoApproved++
		}
	}

	s.publish(ctx, EventGrantsCopied, map[string]any{
		"source_user_id": source.ID,
		"target_user_id": target.ID,
		"request_id":     req.ID,
		"created":        result.Summary.Created,
		"skipped":        result.Summary.Skipped,
		"auto_approved":  result.Summary.AutoApproved,
	})
	return result, nil
}

// LogGrant records an already-provisioned access as an active grant
// without going through a request, idempotently per triple.
func (s *Service) LogGrant(ctx context.Context, actorID, userID, systemInstanceID, accessTierID string) (AccessGrant, error) {
	actor, err := s.catalog.GetUser(ctx, actorID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}
	user, err := s.catalog.GetUser(ctx, userID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if !CanActOn(actor, user, ActManageGrants) {
		return AccessGrant{}, fmt.Errorf("%w: %s may not manage grants", ErrForbidden, actor.ID)
	}
	instance, err := s.catalog.GetSystemInstance(ctx, systemInstanceID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: system instance %s", ErrNotFound, systemInstanceID)
	}
	tier, err := s.catalog.GetAccessTier(ctx, accessTierID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: access tier %s", ErrNotFound, accessTierID)
	}
	if tier.SystemID != instance.SystemID {
		return AccessGrant{}, fmt.Errorf("%w: tier %s does not belong to the system of instance %s", ErrInvalidRequest, tier.ID, instance.ID)
	}

	grant := AccessGrant{
		ID:               ids.New(),
		UserID:           user.ID,
		SystemInstanceID: instance.ID,
		AccessTierID:     tier.ID,
		Status:           GrantActive,
		GrantedAt:        s.now().UTC(),
	}
	details := map[string]string{
		"instance_name": instance.Name,
		"tier_name":     tier.Name,
		"manual":        "true",
	}
	out, created, err := s.store.CreateOrActivateGrant(ctx, grant, func(action AuditAction, g AccessGrant) AuditEntry {
		return s.newAudit(action, actor.ID, g.UserID, ResourceGrant, g.ID, details, "")
	})
	if err != nil {
		return AccessGrant{}, err
	}
	if created {
		s.publish(ctx, EventGrantCreated, map[string]any{
			"grant_id": out.ID,
			"user_id":  out.UserID,
			"actor_id": actor.ID,
		})
	}
	return out, nil
}

// MarkGrantForRemoval moves an active grant to to_remove.
func (s *Service) MarkGrantForRemoval(ctx context.Context, grantID, actorID string) (AccessGrant, error) {
	return s.transitionGrant(ctx, grantID, actorID, []GrantStatus{GrantActive}, GrantToRemove,
		ActionGrantMarkedForRemoval, EventGrantMarkedRemoval)
}

// RemoveGrant terminally removes a grant from active or to_remove.
func (s *Service) RemoveGrant(ctx context.Context, grantID, actorID string) (AccessGrant, error) {
	return s.transitionGrant(ctx, grantID, actorID, []GrantStatus{GrantToRemove, GrantActive}, GrantRemoved,
		ActionGrantRemoved, EventGrantRemoved)
}

func (s *Service) transitionGrant(ctx context.Context, grantID, actorID string, from []GrantStatus, to GrantStatus, action AuditAction, event string) (AccessGrant, error) {
	actor, err := s.catalog.GetUser(ctx, actorID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}
	grant, err := s.store.GrantByID(ctx, grantID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: grant %s", ErrNotFound, grantID)
	}
	holder, err := s.catalog.GetUser(ctx, grant.UserID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: user %s", ErrNotFound, grant.UserID)
	}
	if !CanActOn(actor, holder, ActManageGrants) {
		return AccessGrant{}, fmt.Errorf("%w: %s may not manage grants", ErrForbidden, actor.ID)
	}

	var removedAt *time.Time
	if to == GrantRemoved {
		at := s.now().UTC()
		removedAt = &at
	}
	audit := s.newAudit(action, actor.ID, grant.UserID, ResourceGrant, grant.ID, nil, "")
	updated, err := s.store.UpdateGrantStatus(ctx, grantID, from, to, removedAt, audit)
	if err != nil {
		return AccessGrant{}, err
	}

	s.publish(ctx, event, map[string]any{
		"grant_id": updated.ID,
		"user_id":  updated.UserID,
		"actor_id": actor.ID,
		"status":   updated.Status,
	})
	return updated, nil
}

// UserGrants lists a user's grants, optionally filtered by status.
func (s *Service) UserGrants(ctx context.Context, userID string, status GrantStatus) ([]AccessGrant, error) {
	if _, err := s.catalog.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	switch status {
	case "", GrantActive, GrantToRemove, GrantRemoved:
	default:
		return nil, fmt.Errorf("%w: unknown grant status %q", ErrInvalidRequest, status)
	}
	return s.store.GrantsByUser(ctx, userID, status)
}

// Grant returns a single grant.
func (s *Service) Grant(ctx context.Context, id string) (AccessGrant, error) {
	grant, err := s.store.GrantByID(ctx, id)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}
	return grant, nil
}

// Request returns a request with its items.
func (s *Service) Request(ctx context.Context, id string) (AccessRequest, error) {
	req, err := s.store.RequestByID(ctx, id)
	if err != nil {
		return AccessRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return req, nil
}

// AuditTrail pages through the audit trail in insertion order.
func (s *Service) AuditTrail(ctx context.Context, limit int, afterID string) ([]AuditEntry, error) {
	return s.store.AuditEntries(ctx, limit, afterID)
}

func (s *Service) newAudit(action AuditAction, actorID, targetUserID, resourceType, resourceID string, details map[string]string, reason string) AuditEntry {
	return AuditEntry{
		ID:           ids.New(),
		Action:       action,
		ActorID:      actorID,
		TargetUserID: targetUserID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Reason:       reason,
		CreatedAt:    s.now().UTC(),
	}
}

// itemDetails resolves display names for audit payloads. Lookups are
// best-effort: the transition must not fail because a name is missing.
func (s *Service) itemDetails(ctx context.Context, item AccessRequestItem) map[string]string {
	details := map[string]string{}
	if instance, err := s.catalog.GetSystemInstance(ctx, item.SystemInstanceID); err == nil {
		details["instance_name"] = instance.Name
		if system, err := s.catalog.GetSystem(ctx, instance.SystemID); err == nil {
			details["system_name"] = system.Name
		}
	}
	if tier, err := s.catalog.GetAccessTier(ctx, item.AccessTierID); err == nil {
		details["tier_name"] = tier.Name
	}
	return details
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
