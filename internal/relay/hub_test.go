package relay

import (
	"testing"

	"github.com/dgnsrekt/ipvwatch/internal/types"
)

func TestHubPublishReachesOnlyThatTab(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("tab-a")
	b := h.Subscribe("tab-b")

	h.Publish("tab-a", types.Message{Cmd: types.CmdPushPattern, Pattern: "46"})

	select {
	case msg := <-a.C:
		if msg.Pattern != "46" {
			t.Fatalf("Pattern = %q; want %q", msg.Pattern, "46")
		}
	default:
		t.Fatal("tab-a subscriber got nothing")
	}
	select {
	case msg := <-b.C:
		t.Fatalf("tab-b subscriber got %+v; want nothing", msg)
	default:
	}
}

func TestHubUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe("tab-a")
	if !h.Watching("tab-a") {
		t.Fatal("Watching() = false after Subscribe")
	}

	h.Unsubscribe(sub.ID)
	h.Unsubscribe(sub.ID)

	if _, ok := <-sub.C; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	if h.Watching("tab-a") {
		t.Fatal("Watching() = true after Unsubscribe")
	}
	if h.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want 0", h.ClientCount())
	}
	if h.Send(sub.ID, types.Message{Cmd: types.CmdPushAll}) {
		t.Fatal("Send() to a detached subscriber = true")
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe("tab-a")

	for i := 0; i < 3; i++ {
		h.Publish("tab-a", types.Message{Cmd: types.CmdPushOne})
	}

	if got := sub.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d; want 2", got)
	}
	if got := len(sub.C); got != 1 {
		t.Fatalf("len(C) = %d; want 1", got)
	}
}

func TestHubSendTargetsOneSubscriber(t *testing.T) {
	h := NewHub(2)
	first := h.Subscribe("tab-a")
	second := h.Subscribe("tab-a")

	if !h.Send(second.ID, types.Message{Cmd: types.CmdPushAll}) {
		t.Fatal("Send() = false for a live subscriber")
	}
	if len(first.C) != 0 {
		t.Fatalf("first subscriber queued %d messages; want 0", len(first.C))
	}
	if len(second.C) != 1 {
		t.Fatalf("second subscriber queued %d messages; want 1", len(second.C))
	}
}
