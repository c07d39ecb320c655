package access

// PolicyAction enumerates the capability checks the engine performs.
// The same check backs submit, approve/reject and copy so the rule lives
// in exactly one place.
type PolicyAction string

const (
	// ActRequestFor: create a request on behalf of the target user.
	ActRequestFor PolicyAction = "request_for"
	// ActDecide: approve or reject an item targeting the user.
	ActDecide PolicyAction = "decide"
	// ActProvision: turn approved items into grants.
	ActProvision PolicyAction = "provision"
	// ActManageGrants: log grants manually, mark for removal, remove.
	ActManageGrants PolicyAction = "manage_grants"
)

// CanActOn reports whether actor may perform action against target.
//
//   - owner/admin may do everything
//   - the target's direct manager may request for and decide on the target
//   - a user may request for themselves, but never decide
//   - provisioning and grant management are owner/admin only
func CanActOn(actor, target User, action PolicyAction) bool {
	if actor.Role.IsPrivileged() {
		return true
	}
	managesTarget := target.ManagerID != "" && target.ManagerID == actor.ID
	switch action {
	case ActRequestFor:
		return actor.ID == target.ID || managesTarget
	case ActDecide:
		return managesTarget
	default:
		return false
	}
}

// AutoApproves reports whether an item submitted by requester for target
// at the given tier skips manual sign-off: the requester is the target's
// direct manager, or holds owner/admin, or requests for themselves a tier
// the catalog flags self-approvable.
func AutoApproves(requester, target User, tier AccessTier) bool {
	if requester.Role.IsPrivileged() {
		return true
	}
	if target.ManagerID != "" && target.ManagerID == requester.ID {
		return true
	}
	return requester.ID == target.ID && tier.SelfApprovable
}

// AggregateStatus derives the request-level status from its item statuses.
// Pure function over the item multiset; stores recompute it on every item
// transition instead of mutating stored state incrementally.
//
//   - every item rejected           -> rejected
//   - no item still requested       -> approved (provisioned counts)
//   - otherwise                     -> requested
func AggregateStatus(items []AccessRequestItem) RequestStatus {
	if len(items) == 0 {
		return RequestRequested
	}
	rejected := 0
	requested := 0
	for _, it := range items {
		switch it.Status {
		case ItemRejected:
			rejected++
		case ItemRequested:
			requested++
		}
	}
	switch {
	case rejected == len(items):
		return RequestRejected
	case requested == 0:
		return RequestApproved
	default:
		return RequestRequested
	}
}
