package events

import "context"

// Outbound escrow event names.
const (
	EventEscrowCreated   = "escrow.created"
	EventEscrowFunded    = "escrow.funded"
	EventEscrowCancelled = "escrow.cancelled"
	EventEscrowReleased  = "escrow.released"
	EventEscrowDisputed  = "escrow.disputed"
	EventEscrowExpired   = "escrow.expired"
)

// ChannelEscrow is the pub/sub channel carrying all escrow events.
const ChannelEscrow = "events:escrow"

type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Dispatcher hands events to the notification subsystem. Dispatch is
// fire-and-forget from the caller's perspective; delivery and retries
// are the subscriber side's concern.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, payload map[string]any) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(Event)) error
}
