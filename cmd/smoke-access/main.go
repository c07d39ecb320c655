package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"grantd.org/internal/access"
)

// End-to-end walk of the request/grant lifecycle against the in-memory
// store. Exits non-zero on the first broken invariant.
func main() {
	catalog := access.NewStaticCatalog()
	catalog.AddUser(access.User{ID: "owner", Name: "Owner", Email: "owner@example.org", Role: access.RoleOwner})
	catalog.AddUser(access.User{ID: "mgr", Name: "Manager", Email: "mgr@example.org", Role: access.RoleManager})
	catalog.AddUser(access.User{ID: "dev", Name: "Dev", Email: "dev@example.org", Role: access.RoleMember, ManagerID: "mgr"})
	catalog.AddUser(access.User{ID: "newhire", Name: "New Hire", Email: "newhire@example.org", Role: access.RoleMember, ManagerID: "mgr"})
	catalog.AddSystem(access.System{ID: "sys", Name: "CRM"})
	catalog.AddInstance(access.SystemInstance{ID: "inst", SystemID: "sys", Name: "prod"})
	catalog.AddTier(access.AccessTier{ID: "tier", SystemID: "sys", Name: "editor"})

	svc, err := access.NewService(access.NewInMemory(), catalog)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := svc.SubmitRequest(ctx, access.SubmitRequestInput{
		RequesterID:  "dev",
		TargetUserID: "dev",
		Items:        []access.RequestedItem{{SystemInstanceID: "inst", AccessTierID: "tier"}},
	})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	if req.Status != access.RequestRequested {
		log.Fatalf("locked tier must stay pending, got %s", req.Status)
	}

	pending, err := svc.ListPending(ctx, "mgr")
	if err != nil || len(pending) != 1 {
		log.Fatalf("pending for manager: %v (%d)", err, len(pending))
	}

	item, err := svc.ApproveItem(ctx, req.Items[0].ID, "mgr")
	if err != nil {
		log.Fatalf("approve: %v", err)
	}

	grant, err := svc.ProvisionItem(ctx, item.ID, "owner")
	if err != nil {
		log.Fatalf("provision: %v", err)
	}
	if grant.Status != access.GrantActive {
		log.Fatalf("expected active grant, got %s", grant.Status)
	}

	copied, err := svc.CopyFromUser(ctx, access.CopyInput{
		ActorID:      "owner",
		SourceUserID: "dev",
		TargetUserID: "newhire",
	})
	if err != nil {
		log.Fatalf("copy: %v", err)
	}
	if copied.Summary.Created != 1 || copied.Created == nil {
		log.Fatalf("copy summary off: %+v", copied.Summary)
	}

	if _, err := svc.MarkGrantForRemoval(ctx, grant.ID, "owner"); err != nil {
		log.Fatalf("mark removal: %v", err)
	}
	removed, err := svc.RemoveGrant(ctx, grant.ID, "owner")
	if err != nil {
		log.Fatalf("remove: %v", err)
	}
	if removed.RemovedAt == nil {
		log.Fatalf("removed grant missing removal time")
	}

	trail, err := svc.AuditTrail(ctx, 100, "")
	if err != nil {
		log.Fatalf("audit: %v", err)
	}
	want := map[access.AuditAction]bool{
		access.ActionRequestCreated:        false,
		access.ActionItemApproved:          false,
		access.ActionItemProvisioned:       false,
		access.ActionGrantCreated:          false,
		access.ActionGrantMarkedForRemoval: false,
		access.ActionGrantRemoved:          false,
	}
	for _, e := range trail {
		if _, ok := want[e.Action]; ok {
			want[e.Action] = true
		}
	}
	for action, seen := range want {
		if !seen {
			log.Fatalf("audit trail missing %s", action)
		}
	}

	fmt.Printf("✅ access lifecycle smoke test passed: request=%s grant=%s audit=%d\n",
		req.ID, grant.ID, len(trail))
}
