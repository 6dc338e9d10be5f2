package sched

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestQueueRunsAfterDelay(t *testing.T) {
	clock := NewFakeClock(epoch)
	q := NewQueue(clock)
	key := Key{Tab: "t1", Born: 1, Domain: "example.com"}

	ran := 0
	q.Schedule(key, 500*time.Millisecond, func() { ran++ })

	clock.Advance(499 * time.Millisecond)
	if ran != 0 {
		t.Fatalf("ran = %d before deadline; want 0", ran)
	}
	if !q.Pending(key) {
		t.Fatal("Pending() = false; want true")
	}
	clock.Advance(time.Millisecond)
	if ran != 1 {
		t.Fatalf("ran = %d; want 1", ran)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", q.Len())
	}
}

func TestQueueScheduleReplaces(t *testing.T) {
	clock := NewFakeClock(epoch)
	q := NewQueue(clock)
	key := Key{Tab: "t1", Born: 1, Domain: "a"}

	var got []string
	q.Schedule(key, time.Second, func() { got = append(got, "first") })
	q.Schedule(key, 2*time.Second, func() { got = append(got, "second") })

	clock.Advance(3 * time.Second)
	if len(got) != 1 || got[0] != "second" {
		t.Fatalf("got = %v; want [second]", got)
	}
}

func TestQueueCancelSession(t *testing.T) {
	clock := NewFakeClock(epoch)
	q := NewQueue(clock)

	ran := 0
	q.Schedule(Key{Tab: "t1", Born: 1, Domain: "a"}, time.Second, func() { ran++ })
	q.Schedule(Key{Tab: "t1", Born: 1, Domain: "b"}, time.Second, func() { ran++ })
	q.Schedule(Key{Tab: "t1", Born: 2, Domain: "a"}, time.Second, func() { ran++ })

	if n := q.CancelSession("t1", 1); n != 2 {
		t.Fatalf("CancelSession() = %d; want 2", n)
	}
	clock.Advance(time.Second)
	if ran != 1 {
		t.Fatalf("ran = %d; want 1", ran)
	}
}

func TestFakeClockFiresInOrder(t *testing.T) {
	clock := NewFakeClock(epoch)
	var order []int
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clock.AfterFunc(time.Second, func() {
		order = append(order, 1)
		clock.AfterFunc(500*time.Millisecond, func() { order = append(order, 15) })
	})

	clock.Advance(5 * time.Second)
	want := []int{1, 15, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v; want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v; want %v", order, want)
		}
	}
	if got := clock.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("Now() = %v; want %v", got, epoch.Add(5*time.Second))
	}
}
