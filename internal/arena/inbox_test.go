package arena

import (
	"testing"

	"github.com/arenaserver/battlearena/internal/id"
)

func TestInboxRejectsDuplicateActionSameTick(t *testing.T) {
	inbox := NewInbox()
	p := id.New()

	if !inbox.Offer(p, Action{Kind: ActionMove, Direction: DirUp}) {
		t.Fatal("first offer for an id this tick should succeed")
	}
	if inbox.Offer(p, Action{Kind: ActionMove, Direction: DirDown}) {
		t.Fatal("second offer for the same id this tick must be rejected")
	}

	drained := inbox.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected exactly one queued action, got %d", len(drained))
	}
	if drained[p].Direction != DirUp {
		t.Fatalf("the first action should win, got direction %s", drained[p].Direction)
	}
}

func TestInboxDrainResetsForNextTick(t *testing.T) {
	inbox := NewInbox()
	p := id.New()

	inbox.Offer(p, Action{Kind: ActionAttack, Direction: DirLeft})
	inbox.Drain()

	if !inbox.Offer(p, Action{Kind: ActionAttack, Direction: DirRight}) {
		t.Fatal("the same id should be able to submit again on the next tick")
	}
}
