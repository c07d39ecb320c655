package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func newTestCatalog() *StaticCatalog {
	c := NewStaticCatalog()
	c.AddUser(User{ID: "owner", Name: "Olive Owner", Email: "owner@corp.test", Role: RoleOwner})
	c.AddUser(User{ID: "admin", Name: "Ada Admin", Email: "admin@corp.test", Role: RoleAdmin})
	c.AddUser(User{ID: "mgr", Name: "Mara Manager", Email: "mgr@corp.test", Role: RoleManager})
	c.AddUser(User{ID: "lead", Name: "Lee Lead", Email: "lead@corp.test", Role: RoleManager})
	c.AddUser(User{ID: "alice", Name: "Alice", Email: "alice@corp.test", Role: RoleMember, ManagerID: "mgr"})
	c.AddUser(User{ID: "bob", Name: "Bob", Email: "bob@corp.test", Role: RoleMember, ManagerID: "mgr"})
	c.AddUser(User{ID: "peer", Name: "Pat Peer", Email: "peer@corp.test", Role: RoleMember, ManagerID: "lead"})

	c.AddSystem(System{ID: "sys-x", Name: "Warehouse"})
	c.AddInstance(SystemInstance{ID: "inst-x", SystemID: "sys-x", Name: "warehouse-prod"})
	c.AddTier(AccessTier{ID: "tier-read", SystemID: "sys-x", Name: "read", SelfApprovable: true})
	c.AddTier(AccessTier{ID: "tier-admin", SystemID: "sys-x", Name: "admin"})

	c.AddSystem(System{ID: "sys-y", Name: "Billing"})
	c.AddInstance(SystemInstance{ID: "inst-y", SystemID: "sys-y", Name: "billing-prod"})
	c.AddTier(AccessTier{ID: "tier-y", SystemID: "sys-y", Name: "operator"})
	return c
}

func newTestService(t *testing.T) (*Service, *InMemory) {
	t.Helper()
	store := NewInMemory()
	svc, err := NewService(store, newTestCatalog())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func auditsByAction(t *testing.T, store *InMemory, action AuditAction) []AuditEntry {
	t.Helper()
	all, err := store.AuditEntries(context.Background(), 1000, "")
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	var out []AuditEntry
	for _, e := range all {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func TestSubmitRequestManagerAutoApproves(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, SubmitRequestInput{
		RequesterID:  "mgr",
		TargetUserID: "alice",
		Items:        []RequestedItem{{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"}},
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if req.Status != RequestApproved {
		t.Fatalf("expected approved request, got %s", req.Status)
	}
	if len(req.Items) != 1 || req.Items[0].Status != ItemApproved {
		t.Fatalf("expected one approved item, got %+v", req.Items)
	}
	if req.Items[0].DecidedBy != "mgr" {
		t.Fatalf("expected decision stamped by requester, got %q", req.Items[0].DecidedBy)
	}

	approvals := auditsByAction(t, store, ActionItemApproved)
	if len(approvals) != 1 {
		t.Fatalf("expected one item_approved audit row, got %d", len(approvals))
	}
	if approvals[0].ActorID != "mgr" {
		t.Fatalf("expected audit actor mgr, got %s", approvals[0].ActorID)
	}
	if approvals[0].Details["auto"] != "true" {
		t.Fatalf("expected auto detail, got %v", approvals[0].Details)
	}
	if created := auditsByAction(t, store, ActionRequestCreated); len(created) != 1 {
		t.Fatalf("expected one request_created audit row, got %d", len(created))
	}
}

func TestSubmitRequestSelfOnLockedTierStaysRequested(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, SubmitRequestInput{
		RequesterID:  "peer",
		TargetUserID: "peer",
		Items:        []RequestedItem{{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"}},
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if req.Status != RequestRequested {
		t.Fatalf("expected requested, got %s", req.Status)
	}
	if req.Items[0].Status != ItemRequested {
		t.Fatalf("expected requested item, got %s", req.Items[0].Status)
	}
	if got := auditsByAction(t, store, ActionItemApproved); len(got) != 0 {
		t.Fatalf("expected zero decision audit rows, got %d", len(got))
	}
	if got := auditsByAction(t, store, ActionRequestCreated); len(got) != 1 {
		t.Fatalf("expected one request_created audit row, got %d", len(got))
	}
}

func TestSubmitRequestSelfApprovableTier(t *testing.T) {
	svc, _ := newTestService(t)

	req, err := svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterID:  "alice",
		TargetUserID: "alice",
		Items:        []RequestedItem{{SystemInstanceID: "inst-x", AccessTierID: "tier-read"}},
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if req.Status != RequestApproved {
		t.Fatalf("expected auto-approved self request, got %s", req.Status)
	}
}

func TestSubmitRequestMixedItems(t *testing.T) {
	svc, _ := newTestService(t)

	req, err := svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterID:  "alice",
		TargetUserID: "alice",
		Items: []RequestedItem{
			{SystemInstanceID: "inst-x", AccessTierID: "tier-read"},
			{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"},
		},
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	// Mixed item statuses surface as a requested request.
	if req.Status != RequestRequested {
		t.Fatalf("expected requested, got %s", req.Status)
	}
	if req.Items[0].Status != ItemApproved || req.Items[1].Status != ItemRequested {
		t.Fatalf("unexpected item statuses: %s, %s", req.Items[0].Status, req.Items[1].Status)
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SubmitRequest(ctx, SubmitRequestInput{RequesterID: "alice", TargetUserID: "alice"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty items: expected ErrInvalidRequest, got %v", err)
	}

	_, err = svc.SubmitRequest(ctx, SubmitRequestInput{
		RequesterID:  "alice",
		TargetUserID: "alice",
		Items: []RequestedItem{
			{SystemInstanceID: "inst-x", AccessTierID: "tier-read"},
			{SystemInstanceID: "inst-x", AccessTierID: "tier-read"},
		},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("duplicate pair: expected ErrInvalidRequest, got %v", err)
	}

	_, err = svc.SubmitRequest(ctx, SubmitRequestInput{
		RequesterID:  "alice",
		TargetUserID: "alice",
		Items:        []RequestedItem{{SystemInstanceID: "inst-x", AccessTierID: "missing"}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown tier: expected ErrNotFound, got %v", err)
	}

	_, err = svc.SubmitRequest(ctx, SubmitRequestInput{
		RequesterID:  "alice",
		TargetUserID: "alice",
		Items:        []RequestedItem{{SystemInstanceID: "inst-y", AccessTierID: "tier-read"}},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("tier from another system: expected ErrInvalidRequest, got %v", err)
	}

	_, err = svc.SubmitRequest(ctx, SubmitRequestInput{
		RequesterID:  "peer",
		TargetUserID: "alice",
		Items:        []RequestedItem{{SystemInstanceID: "inst-x", AccessTierID: "tier-read"}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("peer on behalf of other: expected ErrForbidden, got %v", err)
	}
}

func submitPending(t *testing.T, svc *Service, target string, items ...RequestedItem) AccessRequest {
	t.Helper()
	if len(items) == 0 {
		items = []RequestedItem{{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"}}
	}
	req, err := svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterID:  target,
		TargetUserID: target,
		Items:        items,
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	return req
}

func TestApproveItem(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := submitPending(t, svc, "alice")
	itemID := req.Items[0].ID

	item, err := svc.ApproveItem(ctx, itemID, "mgr")
	if err != nil {
		t.Fatalf("ApproveItem: %v", err)
	}
	if item.Status != ItemApproved || item.DecidedBy != "mgr" || item.DecidedAt == nil {
		t.Fatalf("decision not stamped: %+v", item)
	}

	parent, err := svc.Request(ctx, req.ID)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if parent.Status != RequestApproved {
		t.Fatalf("expected approved aggregate, got %s", parent.Status)
	}

	// Re-approval is a conflict, not a silent success.
	if _, err := svc.ApproveItem(ctx, itemID, "mgr"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on re-approval, got %v", err)
	}
	if got := auditsByAction(t, store, ActionItemApproved); len(got) != 1 {
		t.Fatalf("expected one item_approved audit row, got %d", len(got))
	}
}

func TestRejectItem(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := submitPending(t, svc, "alice")
	itemID := req.Items[0].ID

	if _, err := svc.RejectItem(ctx, itemID, "mgr", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing reason: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.RejectItem(ctx, itemID, "mgr", strings.Repeat("x", MaxRejectionReason+1)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("oversized reason: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.RejectItem(ctx, itemID, "peer", "nope"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("peer decision: expected ErrForbidden, got %v", err)
	}

	item, err := svc.RejectItem(ctx, itemID, "mgr", "no longer needed")
	if err != nil {
		t.Fatalf("RejectItem: %v", err)
	}
	if item.Status != ItemRejected || item.RejectionReason != "no longer needed" {
		t.Fatalf("unexpected item: %+v", item)
	}

	parent, _ := svc.Request(ctx, req.ID)
	if parent.Status != RequestRejected {
		t.Fatalf("all items rejected: expected rejected aggregate, got %s", parent.Status)
	}
	rejections := auditsByAction(t, store, ActionItemRejected)
	if len(rejections) != 1 || rejections[0].Reason != "no longer needed" {
		t.Fatalf("expected one item_rejected audit with reason, got %+v", rejections)
	}
}

func TestAggregateRecomputedAcrossDecisions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := submitPending(t, svc, "alice",
		RequestedItem{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"},
		RequestedItem{SystemInstanceID: "inst-y", AccessTierID: "tier-y"},
	)

	if _, err := svc.RejectItem(ctx, req.Items[0].ID, "mgr", "wrong tier"); err != nil {
		t.Fatalf("RejectItem: %v", err)
	}
	parent, _ := svc.Request(ctx, req.ID)
	if parent.Status != RequestRequested {
		t.Fatalf("one rejected one pending: expected requested, got %s", parent.Status)
	}

	if _, err := svc.ApproveItem(ctx, req.Items[1].ID, "mgr"); err != nil {
		t.Fatalf("ApproveItem: %v", err)
	}
	parent, _ = svc.Request(ctx, req.ID)
	if parent.Status != RequestApproved {
		t.Fatalf("all non-rejected approved: expected approved, got %s", parent.Status)
	}
}

func TestItemCountConservation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := submitPending(t, svc, "alice",
		RequestedItem{SystemInstanceID: "inst-x", AccessTierID: "tier-read"},
		RequestedItem{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"},
		RequestedItem{SystemInstanceID: "inst-y", AccessTierID: "tier-y"},
	)
	if _, err := svc.RejectItem(ctx, req.Items[1].ID, "mgr", "nope"); err != nil {
		t.Fatalf("RejectItem: %v", err)
	}

	parent, _ := svc.Request(ctx, req.ID)
	counts := map[ItemStatus]int{}
	for _, it := range parent.Items {
		counts[it.Status]++
	}
	total := counts[ItemRequested] + counts[ItemApproved] + counts[ItemRejected] + counts[ItemProvisioned]
	if total != 3 {
		t.Fatalf("item dropped: statuses sum to %d, want 3 (%v)", total, counts)
	}
}

func TestListPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := submitPending(t, svc, "alice")
	submitPending(t, svc, "peer") // reports to lead, not mgr

	pending, err := svc.ListPending(ctx, "mgr")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("expected only alice's request, got %+v", pending)
	}

	leadPending, err := svc.ListPending(ctx, "lead")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(leadPending) != 1 {
		t.Fatalf("expected peer's request for lead, got %d", len(leadPending))
	}

	if _, err := svc.ApproveItem(ctx, req.Items[0].ID, "mgr"); err != nil {
		t.Fatalf("ApproveItem: %v", err)
	}
	pending, _ = svc.ListPending(ctx, "mgr")
	if len(pending) != 0 {
		t.Fatalf("decided request still listed as pending: %+v", pending)
	}
}

func TestProvisionItem(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := submitPending(t, svc, "alice")
	itemID := req.Items[0].ID

	if _, err := svc.ProvisionItem(ctx, itemID, "mgr"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("manager provisioning: expected ErrForbidden, got %v", err)
	}

	// Provisioning a requested item approves it on the way.
	grant, err := svc.ProvisionItem(ctx, itemID, "owner")
	if err != nil {
		t.Fatalf("ProvisionItem: %v", err)
	}
	if grant.Status != GrantActive || grant.UserID != "alice" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if got := auditsByAction(t, store, ActionItemApproved); len(got) != 1 {
		t.Fatalf("expected implicit approval audit, got %d", len(got))
	}
	if got := auditsByAction(t, store, ActionItemProvisioned); len(got) != 1 {
		t.Fatalf("expected item_provisioned audit, got %d", len(got))
	}
	if got := auditsByAction(t, store, ActionGrantCreated); len(got) != 1 {
		t.Fatalf("expected grant_created audit, got %d", len(got))
	}

	if _, err := svc.ProvisionItem(ctx, itemID, "owner"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on re-provision, got %v", err)
	}
}

func TestProvisionReusesActiveGrant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := submitPending(t, svc, "alice")
	g1, err := svc.ProvisionItem(ctx, first.Items[0].ID, "owner")
	if err != nil {
		t.Fatalf("ProvisionItem: %v", err)
	}
	second := submitPending(t, svc, "alice")
	g2, err := svc.ProvisionItem(ctx, second.Items[0].ID, "owner")
	if err != nil {
		t.Fatalf("ProvisionItem: %v", err)
	}
	if g1.ID != g2.ID {
		t.Fatalf("expected idempotent grant for same triple, got %s and %s", g1.ID, g2.ID)
	}
}

func TestProvisionBulk(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	reqA := submitPending(t, svc, "alice",
		RequestedItem{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"})
	reqB := submitPending(t, svc, "bob",
		RequestedItem{SystemInstanceID: "inst-y", AccessTierID: "tier-y"})
	itemA := reqA.Items[0].ID
	itemB := reqB.Items[0].ID

	if _, err := svc.ApproveItem(ctx, itemA, "mgr"); err != nil {
		t.Fatalf("ApproveItem: %v", err)
	}
	// itemB already provisioned before the bulk call.
	if _, err := svc.ProvisionItem(ctx, itemB, "owner"); err != nil {
		t.Fatalf("ProvisionItem: %v", err)
	}
	grantsBefore := len(auditsByAction(t, store, ActionGrantCreated))

	result, err := svc.ProvisionBulk(ctx, []string{itemA, itemB}, "owner")
	if err != nil {
		t.Fatalf("ProvisionBulk: %v", err)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0] != itemA {
		t.Fatalf("expected succeeded=[itemA], got %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].ItemID != itemB {
		t.Fatalf("expected failed=[itemB], got %v", result.Failed)
	}
	if !strings.Contains(result.Failed[0].Reason, "conflict") {
		t.Fatalf("expected conflict reason, got %q", result.Failed[0].Reason)
	}
	if got := len(auditsByAction(t, store, ActionGrantCreated)); got != grantsBefore+1 {
		t.Fatalf("expected exactly one new grant, got %d new", got-grantsBefore)
	}
}

func TestProvisionBulkValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := make([]string, MaxBulkProvision+1)
	for i := range ids {
		ids[i] = "item"
	}
	if _, err := svc.ProvisionBulk(ctx, ids, "owner"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("oversized batch: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.ProvisionBulk(ctx, nil, "owner"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty batch: expected ErrInvalidRequest, got %v", err)
	}

	result, err := svc.ProvisionBulk(ctx, []string{"no-such-item"}, "owner")
	if err != nil {
		t.Fatalf("ProvisionBulk: %v", err)
	}
	if len(result.Failed) != 1 || len(result.Succeeded) != 0 {
		t.Fatalf("unknown item should fail per-item, got %+v", result)
	}
}

func copyAll(t *testing.T, svc *Service, source, target string) CopyResult {
	t.Helper()
	result, err := svc.CopyFromUser(context.Background(), CopyInput{
		ActorID:      "owner",
		SourceUserID: source,
		TargetUserID: target,
	})
	if err != nil {
		t.Fatalf("CopyFromUser: %v", err)
	}
	return result
}

func seedGrants(t *testing.T, svc *Service, user string, pairs ...RequestedItem) {
	t.Helper()
	ctx := context.Background()
	for _, p := range pairs {
		if _, err := svc.LogGrant(ctx, "owner", user, p.SystemInstanceID, p.AccessTierID); err != nil {
			t.Fatalf("LogGrant(%s %s/%s): %v", user, p.SystemInstanceID, p.AccessTierID, err)
		}
	}
}

func TestCopyFromUserRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedGrants(t, svc, "alice",
		RequestedItem{SystemInstanceID: "inst-x", AccessTierID: "tier-read"},
		RequestedItem{SystemInstanceID: "inst-y", AccessTierID: "tier-y"},
	)

	first := copyAll(t, svc, "alice", "bob")
	if first.Created == nil || first.Summary.Created != 2 || first.Summary.Skipped != 0 {
		t.Fatalf("unexpected first copy: %+v", first.Summary)
	}
	// Owner as requester: the whole copy auto-approves.
	if first.Summary.AutoApproved != 2 {
		t.Fatalf("expected full auto-approval, got %d", first.Summary.AutoApproved)
	}

	var itemIDs []string
	for _, it := range first.Created.Items {
		itemIDs = append(itemIDs, it.ID)
	}
	if _, err := svc.ProvisionBulk(ctx, itemIDs, "owner"); err != nil {
		t.Fatalf("ProvisionBulk: %v", err)
	}

	second := copyAll(t, svc, "alice", "bob")
	if second.Created != nil || second.Summary.Created != 0 {
		t.Fatalf("re-copy should create nothing, got %+v", second.Summary)
	}
	if second.Summary.Skipped != 2 {
		t.Fatalf("expected both pairs skipped, got %d", second.Summary.Skipped)
	}
	for _, sk := range second.Skipped {
		if sk.Reason != SkipAlreadyGranted {
			t.Fatalf("expected already_granted, got %q", sk.Reason)
		}
	}
}

func TestCopyFromUserPendingItemsStayEligible(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedGrants(t, svc, "alice", RequestedItem{SystemInstanceID: "inst-x", AccessTierID: "tier-admin"})

	// Copy via a non-privileged requester: items stay pending, so the
	// already-granted check must not pick them up on a re-copy.
	first, err := svc.CopyFromUser(ctx, CopyInput{ActorID: "bob", SourceUserID: "alice", TargetUserID: "bob"})
	if err != nil {
		t.Fatalf("CopyFromUser: %v", err)
	}
	if first.Created == nil || first.Created.Status != RequestRequested {
		t.Fatalf("expected pending copy request, got %+v", first.Created)
	}

	second, err := svc.CopyFromUser(ctx, CopyInput{ActorID: "bob", SourceUserID: "alice", TargetUserID: "bob"})
	if err != nil {
		t.Fatalf("CopyFromUser: %v", err)
	}
	if second.Summary.Created != 1 || second.Summary.Skipped != 0 {
		t.Fatalf("pending pair should remain eligible, got %+v", second.Summary)
	}
}

func TestCopyFromUserSystemFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedGrants(t, svc, "alice",
		RequestedItem{SystemInstanceID: "inst-x", AccessTierID: "tier-read"},
		RequestedItem{SystemInstanceID: "inst-y", AccessTierID: "tier-y"},
	)

	result, err := svc.CopyFromUser(ctx, CopyInput{
		ActorID:      "owner",
		SourceUserID: "alice",
		TargetUserID: "bob",
		SystemIDs:    []string{"sys-x"},
	})
	if err != nil {
		t.Fatalf("CopyFromUser: %v", err)
	}
	// Filtered-out systems appear neither in created nor in skipped.
	if result.Summary.Total != 1 || result.Summary.Created != 1 {
		t.Fatalf("expected only sys-x considered, got %+v", result.Summary)
	}
	for _, it := range result.Created.Items {
		if it.SystemInstanceID == "inst-y" {
			t.Fatalf("sys-y item leaked into the copy")
		}
	}

	excluded, err := svc.CopyFromUser(ctx, CopyInput{
		ActorID:          "owner",
		SourceUserID:     "alice",
		TargetUserID:     "peer",
		SystemIDs:        []string{"sys-x", "sys-y"},
		ExcludeSystemIDs: []string{"sys-x"},
	})
	if err != nil {
		t.Fatalf("CopyFromUser: %v", err)
	}
	if excluded.Summary.Total != 1 {
		t.Fatalf("exclusion should win over inclusion, got %+v", excluded.Summary)
	}
	for _, it := range excluded.Created.Items {
		if it.SystemInstanceID == "inst-x" {
			t.Fatalf("excluded system leaked into the copy")
		}
	}
}

func TestCopyFromUserEdgeCases(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CopyFromUser(ctx, CopyInput{ActorID: "owner", SourceUserID: "alice", TargetUserID: "alice"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("self-copy: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.CopyFromUser(ctx, CopyInput{ActorID: "owner", SourceUserID: "ghost", TargetUserID: "alice"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown source: expected ErrNotFound, got %v", err)
	}

	empty, err := svc.CopyFromUser(ctx, CopyInput{ActorID: "owner", SourceUserID: "alice", TargetUserID: "bob"})
	if err != nil {
		t.Fatalf("copy with no source grants must succeed: %v", err)
	}
	if empty.Created != nil || empty.Summary.Total != 0 {
		t.Fatalf("expected empty result, got %+v", empty)
	}
}

func TestGrantLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	grant, err := svc.LogGrant(ctx, "owner", "alice", "inst-x", "tier-read")
	if err != nil {
		t.Fatalf("LogGrant: %v", err)
	}
	// Logging the same triple again returns the existing grant.
	again, err := svc.LogGrant(ctx, "owner", "alice", "inst-x", "tier-read")
	if err != nil {
		t.Fatalf("LogGrant: %v", err)
	}
	if again.ID != grant.ID {
		t.Fatalf("expected idempotent grant, got %s and %s", grant.ID, again.ID)
	}

	if _, err := svc.MarkGrantForRemoval(ctx, grant.ID, "mgr"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("manager grant management: expected ErrForbidden, got %v", err)
	}

	marked, err := svc.MarkGrantForRemoval(ctx, grant.ID, "owner")
	if err != nil {
		t.Fatalf("MarkGrantForRemoval: %v", err)
	}
	if marked.Status != GrantToRemove {
		t.Fatalf("expected to_remove, got %s", marked.Status)
	}
	if _, err := svc.MarkGrantForRemoval(ctx, grant.ID, "owner"); !errors.Is(err, ErrConflict) {
		t.Fatalf("double mark: expected ErrConflict, got %v", err)
	}

	removed, err := svc.RemoveGrant(ctx, grant.ID, "owner")
	if err != nil {
		t.Fatalf("RemoveGrant: %v", err)
	}
	if removed.Status != GrantRemoved || removed.RemovedAt == nil {
		t.Fatalf("expected removed with timestamp, got %+v", removed)
	}
	if _, err := svc.RemoveGrant(ctx, grant.ID, "owner"); !errors.Is(err, ErrConflict) {
		t.Fatalf("re-remove: expected ErrConflict, got %v", err)
	}

	// A fresh grant for the same triple supersedes the removed one.
	fresh, err := svc.LogGrant(ctx, "owner", "alice", "inst-x", "tier-read")
	if err != nil {
		t.Fatalf("LogGrant after removal: %v", err)
	}
	if fresh.ID == grant.ID {
		t.Fatalf("removed grant must not be re-activated in place")
	}
	if got := auditsByAction(t, store, ActionGrantActivated); len(got) != 1 {
		t.Fatalf("expected grant_activated audit for superseding grant, got %d", len(got))
	}
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := submitPending(t, svc, "alice")
	itemID := req.Items[0].ID

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApproveItem(ctx, itemID, "mgr")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning approval, got %d", wins)
	}
	if got := auditsByAction(t, store, ActionItemApproved); len(got) != 1 {
		t.Fatalf("expected one approval audit despite the race, got %d", len(got))
	}
}
