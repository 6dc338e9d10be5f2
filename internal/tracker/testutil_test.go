package tracker

import (
	"sync"
	"time"

	"github.com/dgnsrekt/ipvwatch/internal/relay"
	"github.com/dgnsrekt/ipvwatch/internal/sched"
	"github.com/dgnsrekt/ipvwatch/internal/types"
)

type iconRecorder struct {
	mu    sync.Mutex
	icons map[string][]Icon
}

func newIconRecorder() *iconRecorder {
	return &iconRecorder{icons: map[string][]Icon{}}
}

func (r *iconRecorder) RenderIcon(tab string, icon Icon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.icons[tab] = append(r.icons[tab], icon)
}

func (r *iconRecorder) count(tab string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.icons[tab])
}

func (r *iconRecorder) last(tab string) (Icon, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	icons := r.icons[tab]
	if len(icons) == 0 {
		return Icon{}, false
	}
	return icons[len(icons)-1], true
}

type memSaver struct {
	mu      sync.Mutex
	data    map[string]any
	removed map[string]int
}

func newMemSaver() *memSaver {
	return &memSaver{data: map[string]any{}, removed: map[string]int{}}
}

func (m *memSaver) Save(key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
}

func (m *memSaver) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.removed[key]++
}

func (m *memSaver) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

type harness struct {
	tr    *Tracker
	clock *sched.FakeClock
	hub   *relay.Hub
	icons *iconRecorder
	saver *memSaver
}

func newHarness(mutate ...func(*Options)) *harness {
	h := &harness{
		clock: sched.NewFakeClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		hub:   relay.NewHub(1024),
		icons: newIconRecorder(),
		saver: newMemSaver(),
	}
	opts := Options{
		Clock: h.clock,
		Hub:   h.hub,
		Icons: h.icons,
		Saver: h.saver,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.tr = New(opts)
	return h
}

func (h *harness) session(tab string) *TabSession {
	h.tr.mu.Lock()
	defer h.tr.mu.Unlock()
	return h.tr.reg.Lookup(tab)
}

// openPage announces tab and loads url as its main document from addr.
func (h *harness) openPage(tab, requestID, url, addr string) {
	h.tr.OnTabCreated(tab)
	h.tr.OnRequestStarted(RequestStarted{RequestID: requestID, TabID: tab, URL: url, Type: ResourceMainFrame})
	h.tr.OnResponseStarted(ResponseStarted{RequestID: requestID, TabID: tab, URL: url, RemoteAddr: addr})
	h.tr.OnCommitted(Navigation{TabID: tab, URL: url})
}

// fetch starts a subresource request on tab and delivers its response.
func (h *harness) fetch(tab, requestID, url, addr string, fromCache bool) {
	h.tr.OnRequestStarted(RequestStarted{RequestID: requestID, TabID: tab, URL: url, Type: ResourceOther})
	h.tr.OnResponseStarted(ResponseStarted{RequestID: requestID, TabID: tab, URL: url, RemoteAddr: addr, FromCache: fromCache})
}

func (h *harness) finish(requestID string) {
	h.tr.OnRequestFinished(RequestFinished{RequestID: requestID})
}

func (h *harness) tuples(tab string) []types.Tuple {
	_, tuples, err := h.tr.Session(tab)
	if err != nil {
		return nil
	}
	return tuples
}

func tupleFor(tuples []types.Tuple, domain string) (types.Tuple, bool) {
	for _, tu := range tuples {
		if tu.Domain == domain {
			return tu, true
		}
	}
	return types.Tuple{}, false
}

func drain(sub *relay.Subscription) []types.Message {
	var out []types.Message
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func countCmd(msgs []types.Message, cmd string) int {
	n := 0
	for _, m := range msgs {
		if m.Cmd == cmd {
			n++
		}
	}
	return n
}
