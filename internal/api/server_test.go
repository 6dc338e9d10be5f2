package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goccy/go-json"

	"github.com/dgnsrekt/ipvwatch/internal/badge"
	"github.com/dgnsrekt/ipvwatch/internal/config"
	"github.com/dgnsrekt/ipvwatch/internal/relay"
	"github.com/dgnsrekt/ipvwatch/internal/sched"
	"github.com/dgnsrekt/ipvwatch/internal/tracker"
	"github.com/dgnsrekt/ipvwatch/internal/types"
)

type memOptions struct {
	mu   sync.Mutex
	opts config.Options
}

func (m *memOptions) Current() config.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

func (m *memOptions) Update(opts config.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
	return nil
}

type fixture struct {
	tr     *tracker.Tracker
	board  *badge.Board
	opts   *memOptions
	server http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		board: badge.NewBoard(nil),
		opts:  &memOptions{opts: config.DefaultOptions()},
	}
	f.tr = tracker.New(tracker.Options{
		Clock: sched.NewFakeClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		Hub:   relay.NewHub(64),
		Icons: f.board,
	})
	f.server = NewServer(f.tr, f.board, f.opts)
	return f
}

// loadPage announces tab and commits a main document served from addr.
func (f *fixture) loadPage(tab, url, addr string) {
	f.tr.OnTabCreated(tab)
	f.tr.OnRequestStarted(tracker.RequestStarted{RequestID: tab + ":main", TabID: tab, URL: url, Type: tracker.ResourceMainFrame})
	f.tr.OnResponseStarted(tracker.ResponseStarted{RequestID: tab + ":main", TabID: tab, URL: url, RemoteAddr: addr})
	f.tr.OnCommitted(tracker.Navigation{TabID: tab, URL: url})
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture()
	f.loadPage("T1", "https://example.com/", "192.0.2.1")

	w := f.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Status string `json:"status"`
		Tabs   int    `json:"tabs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Tabs != 1 {
		t.Fatalf("health = %+v", body)
	}
}

func TestDocsDarkMode(t *testing.T) {
	w := newFixture().get(t, "/docs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestListTabs(t *testing.T) {
	f := newFixture()
	f.loadPage("T2", "https://b.example/", "2001:db8::2")
	f.loadPage("T1", "https://a.example/", "192.0.2.1")

	w := f.get(t, "/api/v1/tabs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Tabs []tracker.SessionInfo `json:"tabs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tabs) != 2 || body.Tabs[0].TabID != "T1" || body.Tabs[1].MainDomain != "b.example" {
		t.Fatalf("tabs = %+v", body.Tabs)
	}
}

func TestGetTab(t *testing.T) {
	f := newFixture()
	f.loadPage("T1", "https://a.example/", "192.0.2.1")

	w := f.get(t, "/api/v1/tabs/T1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	var body struct {
		TabID   string        `json:"tab_id"`
		Pattern string        `json:"pattern"`
		Domains []types.Tuple `json:"domains"`
		Badge   *badge.Badge  `json:"badge"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TabID != "T1" || body.Pattern != "4" {
		t.Fatalf("tab = %+v", body)
	}
	if len(body.Domains) != 1 || body.Domains[0].Domain != "a.example" || body.Domains[0].Version != "4" {
		t.Fatalf("domains = %+v", body.Domains)
	}
	if body.Badge == nil || body.Badge.Pattern != "4" {
		t.Fatalf("badge = %+v", body.Badge)
	}
}

func TestGetTabNotFound(t *testing.T) {
	w := newFixture().get(t, "/api/v1/tabs/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestOptions(t *testing.T) {
	f := newFixture()

	body := `{"regular_color_scheme":"lightfg","incognito_color_scheme":"lightfg","nat64_prefix":"64:ff9b::/96","address_policy":"ranked"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/options", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := f.opts.Current(); got.RegularColorScheme != config.SchemeLightFG || got.AddressPolicy != "ranked" {
		t.Fatalf("stored options = %+v", got)
	}

	w = f.get(t, "/api/v1/options")
	if !strings.Contains(w.Body.String(), `"address_policy":"ranked"`) {
		t.Fatalf("GET body = %s", w.Body.String())
	}
}

func TestOptionsRejectsUnknownScheme(t *testing.T) {
	f := newFixture()
	body := `{"regular_color_scheme":"purple","incognito_color_scheme":"lightfg","nat64_prefix":"64:ff9b::/96","address_policy":"ranked"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/options", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	if w.Code < 400 || w.Code >= 500 {
		t.Fatalf("status = %d, want 4xx", w.Code)
	}
	if got := f.opts.Current(); got != config.DefaultOptions() {
		t.Fatalf("options changed to %+v", got)
	}
}

func TestEventStreamStartsWithSnapshot(t *testing.T) {
	f := newFixture()
	f.loadPage("T1", "https://a.example/", "192.0.2.1")
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/tabs/T1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() && len(lines) < 2 {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 || lines[0] != "event: pushAll" || !strings.Contains(lines[1], `"domain":"a.example"`) {
		t.Fatalf("first event = %q", lines)
	}
}

func TestWebSocketResync(t *testing.T) {
	f := newFixture()
	f.loadPage("T1", "https://a.example/", "192.0.2.1")
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/tabs/T1/ws")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	read := func() types.Message {
		t.Helper()
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Cmd != types.CmdPushAll || len(msg.Tuples) != 1 {
		t.Fatalf("first message = %+v", msg)
	}
	if err := wsutil.WriteClientText(conn, []byte(`{"cmd":"resync"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Cmd != types.CmdPushAll || msg.Tuples[0].Domain != "a.example" {
		t.Fatalf("resync message = %+v", msg)
	}
}
