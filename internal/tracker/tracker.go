// Package tracker keeps, for every browser tab, the set of domains the
// current page view has contacted, how each was reached and whether a
// connection to it is open right now.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/dgnsrekt/ipvwatch/internal/netutil"
	"github.com/dgnsrekt/ipvwatch/internal/relay"
	"github.com/dgnsrekt/ipvwatch/internal/sched"
	"github.com/dgnsrekt/ipvwatch/internal/storage"
	"github.com/dgnsrekt/ipvwatch/internal/types"
)

// Defaults for Options fields left zero.
const (
	DefaultHold       = 500 * time.Millisecond
	DefaultBirthGrace = 60 * time.Second
	DefaultDomainCap  = 256
	DefaultAppName    = "ipvwatch"
)

// Saver persists records by key without blocking.
type Saver interface {
	Save(key string, v any)
	Remove(key string)
}

// AddrCache remembers the last address seen for a domain.
type AddrCache interface {
	Lookup(domain string) (string, bool)
	Remember(domain, addr string)
}

// Journal receives a copy of every handled event.
type Journal interface {
	Record(event string, data any) error
}

// Options configure a Tracker. Only Hub is required.
type Options struct {
	Clock     sched.Clock
	Hub       *relay.Hub
	Icons     IconRenderer
	Saver     Saver
	AddrCache AddrCache
	Journal   Journal

	Hold           time.Duration
	BirthGrace     time.Duration
	DomainCap      int
	NAT64          netip.Prefix
	Policy         AddressPolicy
	Schemes        ColorSchemes
	AppName        string
	CompactTooltip bool
}

// env is the state shared by every session of one tracker.
type env struct {
	clock sched.Clock
	queue *sched.Queue
	hub   *relay.Hub
	icons IconRenderer
	saver Saver

	hold           time.Duration
	birthGrace     time.Duration
	domainCap      int
	policy         AddressPolicy
	nat64          netip.Prefix
	schemes        ColorSchemes
	appName        string
	compactTooltip bool

	holdElapsed func(sched.Key, *DomainRecord)
}

type discardSaver struct{}

func (discardSaver) Save(string, any) {}
func (discardSaver) Remove(string) {}

type discardIcons struct{}

func (discardIcons) RenderIcon(string, Icon) {}

// Tracker owns every tab session, the pending request table and the tab
// liveness set. Each handler runs to completion under one lock.
type Tracker struct {
	mu   sync.Mutex
	env  env
	reg  *Registry
	corr *Correlator
	live *Liveness

	addrs   AddrCache
	journal Journal
}

// New builds a tracker from opts.
func New(opts Options) *Tracker {
	clock := opts.Clock
	if clock == nil {
		clock = sched.RealClock()
	}
	hub := opts.Hub
	if hub == nil {
		hub = relay.NewHub(0)
	}
	t := &Tracker{
		env: env{
			clock:          clock,
			queue:          sched.NewQueue(clock),
			hub:            hub,
			icons:          opts.Icons,
			saver:          opts.Saver,
			hold:           opts.Hold,
			birthGrace:     opts.BirthGrace,
			domainCap:      opts.DomainCap,
			policy:         opts.Policy,
			nat64:          opts.NAT64,
			schemes:        opts.Schemes,
			appName:        opts.AppName,
			compactTooltip: opts.CompactTooltip,
		},
		reg:     NewRegistry(),
		live:    NewLiveness(),
		addrs:   opts.AddrCache,
		journal: opts.Journal,
	}
	t.corr = NewCorrelator(t.reg)
	t.env.holdElapsed = t.onHoldElapsed

	if t.env.icons == nil {
		t.env.icons = discardIcons{}
	}
	if t.env.saver == nil {
		t.env.saver = discardSaver{}
	}
	if t.env.hold <= 0 {
		t.env.hold = DefaultHold
	}
	if t.env.birthGrace <= 0 {
		t.env.birthGrace = DefaultBirthGrace
	}
	if t.env.domainCap <= 0 {
		t.env.domainCap = DefaultDomainCap
	}
	if t.env.policy == nil {
		t.env.policy = LiveFirst
	}
	if !t.env.nat64.IsValid() {
		t.env.nat64 = netutil.MustNAT64Prefix(netutil.DefaultNAT64Prefix)
	}
	if t.env.appName == "" {
		t.env.appName = DefaultAppName
	}
	return t
}

// Hub returns the subscriber hub sessions publish to.
func (t *Tracker) Hub() *relay.Hub { return t.env.hub }

func (t *Tracker) now() time.Time { return t.env.clock.Now() }

func (t *Tracker) record(event string, data any) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Record(event, data); err != nil {
		slog.Debug("Journal entry dropped", "event", event, "error", err)
	}
}

// newSession replaces whatever session tab has with a fresh one.
func (t *Tracker) newSession(tab string) *TabSession {
	if old := t.reg.Lookup(tab); old != nil {
		t.teardown(old)
	}
	s := newSession(tab, t.reg.nextBorn(t.now()), &t.env)
	t.reg.put(s)
	if t.live.Exists(tab) {
		s.makeAlive()
	}
	return s
}

func (t *Tracker) lookupOrNew(tab string) *TabSession {
	if s := t.reg.Lookup(tab); s != nil {
		return s
	}
	return t.newSession(tab)
}

func (t *Tracker) teardown(s *TabSession) {
	t.reg.remove(s)
	s.kill()
	t.env.saver.Remove(storage.TabKey(s.id))
	if f, ok := t.env.icons.(iconForgetter); ok {
		f.ForgetIcon(s.id)
	}
	slog.Debug("Tab session torn down", "tab_id", s.id, "born", s.born)
}

func (t *Tracker) setInitialDomain(s *TabSession, requestID, domain, origin string) {
	oldOrigin := s.mainOrigin
	if err := s.setInitialDomain(requestID, domain, origin); err != nil {
		slog.Debug("Initial domain not set", "tab_id", s.id, "error", err)
		return
	}
	t.reg.indexOrigin(s.id, oldOrigin, s.mainOrigin)
}

func (t *Tracker) onHoldElapsed(key sched.Key, d *DomainRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.reg.Current(Owner{Tab: key.Tab, Born: key.Born})
	if s == nil {
		return
	}
	s.holdElapsed(d)
}

func (t *Tracker) saveRequest(p *PendingRequest) {
	t.env.saver.Save(storage.RequestKey(p.ID), p.record())
}

// OnRequestStarted attributes a new request to the tab that made it, or for
// worker requests to every tab showing the initiator's origin. A top level
// request starts a new session for its tab.
func (t *Tracker) OnRequestStarted(ev RequestStarted) {
	t.record("request_started", ev)
	t.mu.Lock()
	defer t.mu.Unlock()

	var owners []Owner
	switch {
	case ev.TabID != "" && ev.Type.TopLevel():
		info, err := netutil.ParseURL(ev.URL)
		if err != nil {
			slog.Debug("Main frame url not classified", "tab_id", ev.TabID, "error", err)
		}
		s := t.newSession(ev.TabID)
		t.setInitialDomain(s, ev.RequestID, info.Domain, info.Origin)
		owners = append(owners, s.owner())
	case ev.TabID != "":
		if s := t.reg.Lookup(ev.TabID); s != nil {
			owners = append(owners, s.owner())
		}
	case ev.Initiator != "":
		for _, tab := range t.reg.TabsForOrigin(ev.Initiator) {
			owners = append(owners, t.reg.Lookup(tab).owner())
		}
	}
	if len(owners) == 0 {
		return
	}

	p, err := t.corr.Begin(ev.RequestID, owners, t.now())
	if err != nil {
		slog.Error("Duplicate request; connection count leak", "request_id", ev.RequestID, "error", err)
	}
	t.saveRequest(p)
}

// OnRequestRedirected moves the main domain of uncommitted sessions when
// their main request is redirected.
func (t *Tracker) OnRequestRedirected(ev RequestRedirected) {
	t.record("request_redirected", ev)
	if !ev.Type.TopLevel() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.corr.Get(ev.RequestID) == nil {
		return
	}
	info, err := netutil.ParseURL(ev.RedirectURL)
	if err != nil {
		slog.Debug("Redirect url not classified", "request_id", ev.RequestID, "error", err)
	}
	for _, s := range t.corr.LiveOwners(ev.RequestID) {
		if s.committed {
			err := newError(CodeProtocol, "tab "+s.id, ErrCommitBeforeRedirect)
			slog.Error("Commit observed before redirect", "tab_id", s.id, "request_id", ev.RequestID, "error", err)
			continue
		}
		t.setInitialDomain(s, ev.RequestID, info.Domain, info.Origin)
	}
}

// OnResponseStarted records the domain and address a request reached on
// every session that still owns it.
func (t *Tracker) OnResponseStarted(ev ResponseStarted) {
	t.record("response_started", ev)
	t.mu.Lock()
	defer t.mu.Unlock()

	owners := t.corr.LiveOwners(ev.RequestID)
	if len(owners) == 0 {
		return
	}
	info, err := netutil.ParseURL(ev.URL)
	if err != nil || info.Domain == "" {
		return
	}

	addr := netutil.StripBrackets(ev.RemoteAddr)
	fromCache := ev.FromCache
	if t.addrs != nil {
		if addr != "" {
			t.addrs.Remember(info.Domain, addr)
		} else if cached, ok := t.addrs.Lookup(info.Domain); ok {
			addr = cached
			fromCache = true
		}
	}
	if addr == "" {
		addr = AddrNone
	}

	flags := FlagInsecure
	if info.Secure {
		flags = FlagSecure
	}
	if info.WebSocket {
		flags |= FlagWebSocket
	}
	if !fromCache {
		flags |= FlagUncached
	}
	if ev.TabID != "" {
		flags |= FlagPageRequest
	}

	if err := t.corr.AttachDomain(ev.RequestID, info.Domain); err != nil {
		slog.Error("Duplicate response", "request_id", ev.RequestID, "domain", info.Domain, "error", err)
		return
	}
	t.saveRequest(t.corr.Get(ev.RequestID))
	for _, s := range owners {
		if err := s.addDomain(info.Domain, addr, flags); err != nil {
			slog.Error("Failed to add domain", "tab_id", s.id, "domain", info.Domain, "error", err)
		}
	}
}

// OnRequestFinished closes the request's connection on every session that
// still owns it.
func (t *Tracker) OnRequestFinished(ev RequestFinished) {
	t.record("request_finished", ev)
	t.mu.Lock()
	defer t.mu.Unlock()

	domain, owners, ok := t.corr.End(ev.RequestID)
	if !ok {
		return
	}
	t.env.saver.Remove(storage.RequestKey(ev.RequestID))
	for _, s := range owners {
		err := s.countDown(domain)
		switch {
		case err == nil:
		case errors.Is(err, ErrCountNegative):
			slog.Error("Connection count went negative; dropping tab session", "tab_id", s.id, "domain", domain, "error", err)
			t.teardown(s)
		default:
			slog.Debug("Count down ignored", "tab_id", s.id, "domain", domain, "error", err)
		}
	}
}

// OnBeforeNavigate starts a new session for navigations whose main request
// was never seen (service worker pages, special schemes).
func (t *Tracker) OnBeforeNavigate(nav Navigation) {
	t.record("before_navigate", nav)
	if nav.FrameID != 0 || nav.TabID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if s := t.reg.Lookup(nav.TabID); s != nil {
		if p := t.corr.Get(s.mainRequestID); p != nil && p.Domain == "" {
			return
		}
	}
	slog.Debug("Navigation without main request", "tab_id", nav.TabID)
	info, _ := netutil.ParseURL(nav.URL)
	s := t.newSession(nav.TabID)
	t.setInitialDomain(s, "-1", info.Domain, info.Origin)
}

// OnCommitted marks the tab's page as committed.
func (t *Tracker) OnCommitted(nav Navigation) {
	t.record("committed", nav)
	if nav.FrameID != 0 || nav.TabID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	info, _ := netutil.ParseURL(nav.URL)
	s := t.lookupOrNew(nav.TabID)
	wiped, err := s.setCommitted(info.Domain, info.Origin)
	if err != nil {
		slog.Debug("Commit ignored", "tab_id", nav.TabID, "error", err)
		return
	}
	if wiped {
		slog.Info("Page requests not visible; showing access denied", "tab_id", nav.TabID, "domain", info.Domain)
		for _, p := range t.corr.DetachOwner(s.owner()) {
			t.saveRequest(p)
		}
	}
}

// OnTabUpdated applies the tab's color scheme and redraws its badge.
func (t *Tracker) OnTabUpdated(ev TabUpdated) {
	t.record("tab_updated", ev)
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.reg.Lookup(ev.TabID)
	if s == nil {
		return
	}
	s.incognito = ev.Incognito
	s.refreshIcon()
}

// OnTabCreated marks tab as live and activates its session.
func (t *Tracker) OnTabCreated(tab string) {
	t.record("tab_created", tab)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addTab(tab)
}

// OnTabRemoved forgets tab, tearing down its session unless it is a young
// session that the browser may not have announced yet.
func (t *Tracker) OnTabRemoved(tab string) {
	t.record("tab_removed", tab)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeTab(tab)
}

// OnTabReplaced handles a tab being swapped for a prerendered one.
func (t *Tracker) OnTabReplaced(added, removed string) {
	t.record("tab_replaced", map[string]string{"added": added, "removed": removed})
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeTab(removed)
	t.addTab(added)
}

func (t *Tracker) addTab(tab string) {
	t.live.add(tab)
	if s := t.reg.Lookup(tab); s != nil {
		if err := s.makeAlive(); err != nil {
			slog.Error("Failed to activate tab session", "tab_id", tab, "error", err)
		}
	}
}

func (t *Tracker) removeTab(tab string) {
	t.live.remove(tab)
	s := t.reg.Lookup(tab)
	if s == nil || s.tooYoungToDie(t.now()) {
		return
	}
	t.teardown(s)
}

// Sweep asks lister for the live tabs and reconciles sessions against the
// answer. Listing happens without the lock held.
func (t *Tracker) Sweep(ctx context.Context, lister TabLister) error {
	tabs, err := lister.ListTabs(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.live.reset(nil)
	for _, tab := range tabs {
		t.addTab(tab)
	}
	for _, tab := range t.reg.Tabs() {
		if !t.live.Exists(tab) {
			t.removeTab(tab)
		}
	}
	for _, id := range t.corr.Prune() {
		t.env.saver.Remove(storage.RequestKey(id))
	}
	slog.Debug("Tab sweep complete", "live_tabs", t.live.Len(), "sessions", t.reg.Len(), "pending_requests", t.corr.Len())
	return nil
}

// RunSweeps sweeps immediately and then every interval until ctx is done.
func (t *Tracker) RunSweeps(ctx context.Context, lister TabLister, interval time.Duration) {
	sweep := func() {
		if err := t.Sweep(ctx, lister); err != nil && ctx.Err() == nil {
			slog.Warn("Tab sweep failed", "error", err)
		}
	}
	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Attach subscribes to tab and queues its current state as the first
// message.
func (t *Tracker) Attach(tab string) (*relay.Subscription, error) {
	if tab == "" {
		return nil, newError(CodeNotFound, "empty tab id", ErrTabNotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := t.env.hub.Subscribe(tab)
	if s := t.reg.Lookup(tab); s != nil {
		t.env.hub.Send(sub.ID, s.Snapshot())
	}
	return sub, nil
}

// Resync sends sub a fresh snapshot of its tab.
func (t *Tracker) Resync(sub *relay.Subscription) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := types.Message{Cmd: types.CmdPushAll}
	if s := t.reg.Lookup(sub.Tab); s != nil {
		msg = s.Snapshot()
	}
	if !t.env.hub.Send(sub.ID, msg) {
		return newError(CodeNotFound, "subscriber detached", ErrTabNotFound)
	}
	return nil
}

// Detach unsubscribes sub.
func (t *Tracker) Detach(sub *relay.Subscription) {
	t.env.hub.Unsubscribe(sub.ID)
}

// Sessions lists every session, sorted by tab id.
func (t *Tracker) Sessions() []SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	tabs := t.reg.Tabs()
	out := make([]SessionInfo, 0, len(tabs))
	for _, tab := range tabs {
		out = append(out, t.reg.Lookup(tab).Info())
	}
	return out
}

// Session returns one session's summary and its popup rows.
func (t *Tracker) Session(tab string) (SessionInfo, []types.Tuple, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.reg.Lookup(tab)
	if s == nil {
		return SessionInfo{}, nil, newError(CodeNotFound, "tab "+tab, ErrTabNotFound)
	}
	return s.Info(), s.Tuples(), nil
}

// SetNAT64 changes the prefix used to classify addresses and redraws every
// badge.
func (t *Tracker) SetNAT64(prefix netip.Prefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prefix == t.env.nat64 {
		return
	}
	t.env.nat64 = prefix
	for _, tab := range t.reg.Tabs() {
		s := t.reg.Lookup(tab)
		s.refreshIcon()
		s.pushAll()
	}
}

// SetColorSchemes changes the badge color schemes and redraws the badges
// whose scheme changed.
func (t *Tracker) SetColorSchemes(schemes ColorSchemes) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.env.schemes
	t.env.schemes = schemes
	for _, tab := range t.reg.Tabs() {
		s := t.reg.Lookup(tab)
		if (s.incognito && old.Incognito != schemes.Incognito) || (!s.incognito && old.Regular != schemes.Regular) {
			s.refreshIcon()
		}
	}
}

// SetAddressPolicy changes how conflicting address observations resolve.
func (t *Tracker) SetAddressPolicy(p AddressPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.env.policy = p
}
