package arena

import "github.com/arenaserver/battlearena/internal/id"

// Inbox holds at most one pending action per living player for the
// current tick (spec §2, §4.1: "enqueue into action_inbox[p] iff no
// prior action for this tick"). It is only ever touched from the
// mediator's own goroutine, so it needs no locking (spec §5).
type Inbox struct {
	pending map[id.ID]Action
}

func NewInbox() *Inbox {
	return &Inbox{pending: make(map[id.ID]Action)}
}

// Offer records an action for p, failing if one is already queued
// this tick. The caller (the mediator) is responsible for rejecting
// the request with errs.CannotSendAction on false.
func (b *Inbox) Offer(p id.ID, a Action) bool {
	if _, exists := b.pending[p]; exists {
		return false
	}
	b.pending[p] = a
	return true
}

// Drain returns every queued action and resets the inbox for the next
// tick.
func (b *Inbox) Drain() map[id.ID]Action {
	out := b.pending
	b.pending = make(map[id.ID]Action, len(out))
	return out
}
