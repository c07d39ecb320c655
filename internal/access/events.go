package access

import "context"

// Event kinds published to the sink after a transition commits.
const (
	EventRequestCreated      = "request.created"
	EventItemApproved        = "item.approved"
	EventItemRejected        = "item.rejected"
	EventItemProvisioned     = "item.provisioned"
	EventGrantCreated        = "grant.created"
	EventGrantMarkedRemoval  = "grant.marked_for_removal"
	EventGrantRemoved        = "grant.removed"
	EventGrantsCopied        = "grants.copied"
)

// EventSink receives best-effort notifications about committed
// transitions. Implementations must not block: delivery happens outside
// the transaction boundary and is never required for operation success.
type EventSink interface {
	Publish(ctx context.Context, kind string, payload map[string]any)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(context.Context, string, map[string]any) {}

// MultiSink forwards each event to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, kind string, payload map[string]any) {
	for _, s := range m {
		s.Publish(ctx, kind, payload)
	}
}

func (s *Service) publish(ctx context.Context, kind string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, kind, payload)
}
