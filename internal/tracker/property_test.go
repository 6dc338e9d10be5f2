package tracker

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestCounterNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var c Counter
		model := 0
		holding := false
		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 64).Draw(t, "ops")
		for _, op := range ops {
			switch op {
			case 0:
				start := c.Up()
				model++
				if start != (model == 1 && !holding) {
					t.Fatalf("Up() startHold = %v at count %d holding %v", start, model, holding)
				}
				if start {
					holding = true
				}
			case 1:
				zero, err := c.Down()
				if model == 0 {
					if err == nil {
						t.Fatal("Down() at zero returned nil error")
					}
					continue
				}
				model--
				if err != nil {
					t.Fatalf("Down() error = %v", err)
				}
				if zero != (model == 0 && !holding) {
					t.Fatalf("Down() zero = %v at count %d holding %v", zero, model, holding)
				}
			case 2:
				if !holding {
					continue
				}
				holding = false
				if zero := c.HoldElapsed(); zero != (model == 0) {
					t.Fatalf("HoldElapsed() zero = %v at count %d", zero, model)
				}
			}
			if c.Count() != model || c.Count() < 0 {
				t.Fatalf("Count() = %d; want %d", c.Count(), model)
			}
		}
	})
}

// TestConnectedTracksOpenRequests drives one tab with random request
// traffic and checks the open-connection bookkeeping after every step.
func TestConnectedTracksOpenRequests(t *testing.T) {
	domains := []string{"a.example", "b.example", "c.example"}

	rapid.Check(t, func(t *rapid.T) {
		h := newHarness()
		h.openPage("1", "main", "https://page.example/", v4Addr)
		h.finish("main")

		type req struct {
			domain    string
			responded bool
		}
		open := map[string]*req{}
		next := 0

		t.Repeat(map[string]func(*rapid.T){
			"start": func(t *rapid.T) {
				next++
				id := fmt.Sprintf("r%d", next)
				domain := rapid.SampledFrom(domains).Draw(t, "domain")
				h.tr.OnRequestStarted(RequestStarted{RequestID: id, TabID: "1", URL: "https://" + domain + "/", Type: ResourceOther})
				open[id] = &req{domain: domain}
			},
			"respond": func(t *rapid.T) {
				ids := pendingIDs(open, func(r *req) bool { return !r.responded })
				if len(ids) == 0 {
					t.Skip("nothing to respond to")
				}
				id := rapid.SampledFrom(ids).Draw(t, "id")
				r := open[id]
				cached := rapid.Bool().Draw(t, "cached")
				h.tr.OnResponseStarted(ResponseStarted{RequestID: id, TabID: "1", URL: "https://" + r.domain + "/", RemoteAddr: v4Addr, FromCache: cached})
				r.responded = true
			},
			"finish": func(t *rapid.T) {
				ids := pendingIDs(open, func(*req) bool { return true })
				if len(ids) == 0 {
					t.Skip("nothing to finish")
				}
				id := rapid.SampledFrom(ids).Draw(t, "id")
				h.finish(id)
				delete(open, id)
			},
			"wait": func(t *rapid.T) {
				ms := rapid.IntRange(1, 800).Draw(t, "ms")
				h.clock.Advance(time.Duration(ms) * time.Millisecond)
			},
			"": func(t *rapid.T) {
				s := h.session("1")
				if s == nil {
					t.Fatal("session torn down")
				}
				want := map[string]int{}
				for _, r := range open {
					if r.responded {
						want[r.domain]++
					}
				}
				h.tr.mu.Lock()
				defer h.tr.mu.Unlock()
				for _, domain := range domains {
					d := s.Domain(domain)
					if d == nil {
						if want[domain] != 0 {
							t.Fatalf("%s: no record with %d open", domain, want[domain])
						}
						continue
					}
					if got := d.ActiveCount(); got != want[domain] {
						t.Fatalf("%s: ActiveCount() = %d; want %d", domain, got, want[domain])
					}
					if want[domain] > 0 && !d.Flags.Has(FlagConnected) {
						t.Fatalf("%s: not connected with %d open", domain, want[domain])
					}
					if !d.Flags.Has(FlagConnected) && d.counter.Holding() {
						t.Fatalf("%s: connected cleared during hold", domain)
					}
				}
			},
		})
	})
}

func pendingIDs[R any](open map[string]R, keep func(R) bool) []string {
	var ids []string
	for id, r := range open {
		if keep(r) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// TestSweepIsIdempotent checks that sweeping twice with the same tab list
// leaves the same sessions as sweeping once.
func TestSweepIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness()
		n := rapid.IntRange(1, 6).Draw(t, "tabs")
		for i := 0; i < n; i++ {
			tab := fmt.Sprint(i)
			if rapid.Bool().Draw(t, "announced") {
				h.tr.OnTabCreated(tab)
			}
			h.tr.OnRequestStarted(RequestStarted{RequestID: "r" + tab, TabID: tab, URL: "https://example.com/", Type: ResourceMainFrame})
		}
		if rapid.Bool().Draw(t, "aged") {
			h.clock.Advance(2 * DefaultBirthGrace)
		}
		var live staticLister
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "live") {
				live = append(live, fmt.Sprint(i))
			}
		}

		if err := h.tr.Sweep(context.Background(), live); err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		first := h.tr.Sessions()
		if err := h.tr.Sweep(context.Background(), live); err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		second := h.tr.Sessions()

		if len(first) != len(second) {
			t.Fatalf("sessions after second sweep = %d; want %d", len(second), len(first))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("session %d changed: %+v -> %+v", i, first[i], second[i])
			}
		}
		for _, info := range second {
			if info.State != StateAlive.String() && !containsTab(live, info.TabID) && h.clock.Now().Sub(info.Born) > DefaultBirthGrace {
				t.Fatalf("stale session %s survived sweep", info.TabID)
			}
		}
	})
}

func containsTab(tabs []string, tab string) bool {
	for _, t := range tabs {
		if t == tab {
			return true
		}
	}
	return false
}
