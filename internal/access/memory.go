package access

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and the smoke binary; production deployments use the Postgres
// store.
type InMemory struct {
	mu       sync.RWMutex
	requests map[string]*AccessRequest
	items    map[string]*AccessRequestItem // itemID -> item, aliased into requests
	grants   map[string]*AccessGrant
	audit    []AuditEntry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[string]*AccessRequest),
		items:    make(map[string]*AccessRequestItem),
		grants:   make(map[string]*AccessGrant),
	}
}

func (s *InMemory) CreateRequest(_ context.Context, req AccessRequest, audits []AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := req
	stored.Items = append([]AccessRequestItem(nil), req.Items...)
	s.requests[stored.ID] = &stored
	for i := range stored.Items {
		s.items[stored.Items[i].ID] = &stored.Items[i]
	}
	s.audit = append(s.audit, audits...)
	return nil
}

func (s *InMemory) RequestByID(_ context.Context, id string) (AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return AccessRequest{}, ErrNotFound
	}
	return copyRequest(req), nil
}

func (s *InMemory) ItemByID(_ context.Context, id string) (AccessRequestItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return AccessRequestItem{}, ErrNotFound
	}
	return *item, nil
}

func (s *InMemory) PendingForTargets(_ context.Context, targetUserIDs []string) ([]AccessRequest, error) {
	targets := make(map[string]struct{}, len(targetUserIDs))
	for _, id := range targetUserIDs {
		targets[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []AccessRequest
	for _, req := range s.requests {
		if _, ok := targets[req.TargetUserID]; !ok {
			continue
		}
		pending := false
		for _, it := range req.Items {
			if it.Status == ItemRequested {
				pending = true
				break
			}
		}
		if pending {
			result = append(result, copyRequest(req))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *InMemory) DecideItem(_ context.Context, itemID string, from, to ItemStatus, dec ItemDecision, audits []AuditEntry) (AccessRequestItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return AccessRequestItem{}, ErrNotFound
	}
	if item.Status != from {
		return AccessRequestItem{}, ErrConflict
	}
	item.Status = to
	item.DecidedBy = dec.DecidedBy
	decidedAt := dec.DecidedAt
	item.DecidedAt = &decidedAt
	item.RejectionReason = dec.RejectionReason
	if req, ok := s.requests[item.RequestID]; ok {
		req.Status = AggregateStatus(req.Items)
	}
	s.audit = append(s.audit, audits...)
	return *item, nil
}

func (s *InMemory) ProvisionItem(_ context.Context, itemID string, from ItemStatus, dec ItemDecision, grant AccessGrant, audits []AuditEntry, grantAudit func(AuditAction, AccessGrant) AuditEntry) (AccessRequestItem, AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return AccessRequestItem{}, AccessGrant{}, ErrNotFound
	}
	if item.Status != from {
		return AccessRequestItem{}, AccessGrant{}, ErrConflict
	}
	item.Status = ItemProvisioned
	item.DecidedBy = dec.DecidedBy
	decidedAt := dec.DecidedAt
	item.DecidedAt = &decidedAt
	if req, ok := s.requests[item.RequestID]; ok {
		req.Status = AggregateStatus(req.Items)
	}
	s.audit = append(s.audit, audits...)

	out, created, action := s.upsertGrantLocked(grant)
	if created && grantAudit != nil {
		s.audit = append(s.audit, grantAudit(action, out))
	}
	return *item, out, nil
}

func (s *InMemory) CreateOrActivateGrant(_ context.Context, grant AccessGrant, grantAudit func(AuditAction, AccessGrant) AuditEntry) (AccessGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, created, action := s.upsertGrantLocked(grant)
	if created && grantAudit != nil {
		s.audit = append(s.audit, grantAudit(action, out))
	}
	return out, created, nil
}

// upsertGrantLocked enforces the one-non-removed-grant-per-triple
// invariant. Caller holds the write lock.
func (s *InMemory) upsertGrantLocked(grant AccessGrant) (AccessGrant, bool, AuditAction) {
	superseded := false
	for _, g := range s.grants {
		if g.UserID != grant.UserID || g.SystemInstanceID != grant.SystemInstanceID || g.AccessTierID != grant.AccessTierID {
			continue
		}
		if g.Status == GrantRemoved {
			superseded = true
			continue
		}
		return *g, false, ""
	}
	stored := grant
	s.grants[stored.ID] = &stored
	action := ActionGrantCreated
	if superseded {
		action = ActionGrantActivated
	}
	return stored, true, action
}

func (s *InMemory) UpdateGrantStatus(_ context.Context, grantID string, from []GrantStatus, to GrantStatus, removedAt *time.Time, audit AuditEntry) (AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[grantID]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	matched := false
	for _, st := range from {
		if grant.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return AccessGrant{}, ErrConflict
	}
	grant.Status = to
	if removedAt != nil {
		at := *removedAt
		grant.RemovedAt = &at
	}
	s.audit = append(s.audit, audit)
	return *grant, nil
}

func (s *InMemory) GrantByID(_ context.Context, id string) (AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[id]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	return *grant, nil
}

func (s *InMemory) GrantsByUser(_ context.Context, userID string, status GrantStatus) ([]AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []AccessGrant
	for _, g := range s.grants {
		if g.UserID != userID {
			continue
		}
		if status != "" && g.Status != status {
			continue
		}
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (s *InMemory) AuditEntries(_ context.Context, limit int, afterID string) ([]AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []AuditEntry
	for _, e := range s.audit {
		if afterID != "" && e.ID <= afterID {
			continue
		}
		result = append(result, e)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func copyRequest(req *AccessRequest) AccessRequest {
	out := *req
	out.Items = append([]AccessRequestItem(nil), req.Items...)
	return out
}
