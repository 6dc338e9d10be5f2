package tracker

import (
	"log/slog"
	"sort"
	"time"

	"github.com/dgnsrekt/ipvwatch/internal/sched"
	"github.com/dgnsrekt/ipvwatch/internal/storage"
	"github.com/dgnsrekt/ipvwatch/internal/types"
)

// State is the lifecycle of a tab session. It only moves forward.
type State int

const (
	StateBirth State = iota
	StateAlive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateBirth:
		return "birth"
	case StateAlive:
		return "alive"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// TabSession is everything observed during one page view of one tab. All
// methods must be called with the tracker lock held.
type TabSession struct {
	id   string
	born int64

	state         State
	mainRequestID string
	mainDomain    string
	mainOrigin    string
	committed     bool
	accessDenied  bool
	incognito     bool

	domains     map[string]*DomainRecord
	spillCount  int
	lastPattern string
	lastTooltip string

	env *env
}

func newSession(id string, born int64, e *env) *TabSession {
	return &TabSession{
		id:      id,
		born:    born,
		domains: make(map[string]*DomainRecord),
		env:     e,
	}
}

func (s *TabSession) ID() string { return s.id }
func (s *TabSession) Born() int64 { return s.born }
func (s *TabSession) State() State { return s.state }
func (s *TabSession) Committed() bool { return s.committed }

// Domain returns the record for domain, or nil.
func (s *TabSession) Domain(domain string) *DomainRecord { return s.domains[domain] }

func (s *TabSession) owner() Owner { return Owner{Tab: s.id, Born: s.born} }

func (s *TabSession) logger() *slog.Logger {
	return slog.With("tab_id", s.id, "born", s.born)
}

func (s *TabSession) taskKey(domain string) sched.Key {
	return sched.Key{Tab: s.id, Born: s.born, Domain: domain}
}

func (s *TabSession) makeAlive() error {
	switch s.state {
	case StateAlive:
		return nil
	case StateDead:
		return newError(CodeLifecycle, "cannot revive tab "+s.id, ErrLifecycle)
	}
	s.state = StateAlive
	s.updateIcon()
	return nil
}

func (s *TabSession) kill() {
	s.state = StateDead
	s.domains = make(map[string]*DomainRecord)
	s.env.queue.CancelSession(s.id, s.born)
}

func (s *TabSession) tooYoungToDie(now time.Time) bool {
	return s.state == StateBirth && s.born >= now.Add(-s.env.birthGrace).UnixNano()
}

func (s *TabSession) checkLive() error {
	if s.state == StateDead {
		return newError(CodeLifecycle, "tab "+s.id+" already torn down", ErrSessionDead)
	}
	return nil
}

// setInitialDomain records the page's top-level domain as soon as the main
// request starts (or is redirected).
func (s *TabSession) setInitialDomain(requestID, domain, origin string) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	if s.mainRequestID == "" {
		s.mainRequestID = requestID
	} else if s.mainRequestID != requestID {
		s.logger().Error("Main request id changed", "old_request_id", s.mainRequestID, "request_id", requestID)
	}
	s.mainDomain = domain
	s.mainOrigin = origin
	s.pushAll()
	s.save()
	return nil
}

// setCommitted marks the page as committed. A commit whose origin does not
// match the main request means the page's own requests were never visible,
// so everything gathered so far is discarded. wiped reports that case.
func (s *TabSession) setCommitted(domain, origin string) (wiped bool, err error) {
	if err := s.checkLive(); err != nil {
		return false, err
	}
	oldDenied, oldDomain := s.accessDenied, s.mainDomain

	if origin != s.mainOrigin {
		s.domains = make(map[string]*DomainRecord)
		s.spillCount = 0
		s.accessDenied = true
		s.env.queue.CancelSession(s.id, s.born)
		wiped = true
	}
	s.mainDomain = domain
	s.committed = true

	s.updateIcon()
	if wiped || oldDenied != s.accessDenied || oldDomain != s.mainDomain {
		s.pushAll()
	}
	s.save()
	return wiped, nil
}

// addDomain merges one observation of domain into the session and counts
// one more open connection to it.
func (s *TabSession) addDomain(domain, addr string, flags Flags) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	d := s.domains[domain]
	if d == nil {
		if len(s.domains) >= s.env.domainCap {
			s.spillCount++
			s.publish(types.Message{Cmd: types.CmdPushSpillCount, SpillCount: s.spillCount})
			s.save()
			return nil
		}
		d = newDomainRecord(domain, addr, flags)
		s.domains[domain] = d
		s.countUp(d)
	} else {
		oldAddr, oldFlags := d.Addr, d.Flags
		if addr != "" && s.env.policy.Replace(oldFlags, flags) {
			d.Addr = addr
		}
		d.Flags |= flags
		s.countUp(d)
		if d.Addr == oldAddr && d.Flags == oldFlags {
			return nil
		}
	}
	s.updateIcon()
	s.pushOne(domain)
	s.save()
	return nil
}

func (s *TabSession) countUp(d *DomainRecord) {
	d.Flags |= FlagConnected
	if d.counter.Up() {
		key := s.taskKey(d.Domain)
		s.env.queue.Schedule(key, s.env.hold, func() { s.env.holdElapsed(key, d) })
	}
}

// countDown closes one connection to domain. A domain that has since been
// wiped is ignored.
func (s *TabSession) countDown(domain string) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	d := s.domains[domain]
	if d == nil {
		return nil
	}
	zero, err := d.counter.Down()
	if err != nil {
		return newError(CodeCountNegative, "domain "+domain+" on tab "+s.id, err)
	}
	if zero {
		s.clearConnected(d)
	}
	return nil
}

// holdElapsed ends the hold started for d. A record that was wiped and
// created again under the same domain keeps its own hold.
func (s *TabSession) holdElapsed(d *DomainRecord) {
	if s.domains[d.Domain] != d {
		return
	}
	if d.counter.HoldElapsed() {
		s.clearConnected(d)
	}
}

func (s *TabSession) clearConnected(d *DomainRecord) {
	d.Flags &^= FlagConnected
	s.pushOne(d.Domain)
}

func (s *TabSession) scheme() string {
	if s.incognito {
		return s.env.schemes.Incognito
	}
	return s.env.schemes.Regular
}

// updateIcon redraws the badge when its pattern or tooltip changed.
func (s *TabSession) updateIcon() {
	if s.state != StateAlive {
		return
	}
	nat64 := s.env.nat64
	pattern := "?"
	tooltip := ""
	has4, has6 := false, false
	for domain, d := range s.domains {
		version := d.tuple(nat64).Version
		if domain == s.mainDomain {
			pattern = version
			if s.env.compactTooltip {
				tooltip = d.Addr
			} else {
				tooltip = d.Addr + "\n" + s.env.appName
			}
			continue
		}
		switch version {
		case "4":
			has4 = true
		case "6":
			has6 = true
		}
	}
	if has4 {
		pattern += "4"
	}
	if has6 {
		pattern += "6"
	}

	if tooltip == s.lastTooltip && pattern == s.lastPattern {
		return
	}
	s.env.icons.RenderIcon(s.id, Icon{Pattern: pattern, Tooltip: tooltip, Scheme: s.scheme()})
	if pattern != s.lastPattern {
		s.publish(types.Message{Cmd: types.CmdPushPattern, Pattern: pattern})
	}
	s.lastPattern = pattern
	s.lastTooltip = tooltip
	s.save()
}

// refreshIcon forgets the memoized badge and draws it again.
func (s *TabSession) refreshIcon() {
	s.lastPattern = ""
	s.lastTooltip = ""
	s.updateIcon()
	s.save()
}

// Tuples returns the popup rows: the main domain first, the rest sorted.
func (s *TabSession) Tuples() []types.Tuple {
	nat64 := s.env.nat64
	mainDomain := s.mainDomain
	if mainDomain == "" {
		mainDomain = DomainNone
	}
	var main types.Tuple
	if d := s.domains[s.mainDomain]; d != nil && s.mainDomain != "" {
		main = d.tuple(nat64)
	} else {
		addr := AddrNone
		if s.accessDenied {
			addr = AddrAccessDenied
		}
		main = types.Tuple{Domain: mainDomain, Addr: addr, Version: "?", Flags: uint8(FlagUncached | FlagPageRequest)}
	}

	others := make([]string, 0, len(s.domains))
	for domain := range s.domains {
		if domain != s.mainDomain {
			others = append(others, domain)
		}
	}
	sort.Strings(others)

	tuples := make([]types.Tuple, 0, len(others)+1)
	tuples = append(tuples, main)
	for _, domain := range others {
		tuples = append(tuples, s.domains[domain].tuple(nat64))
	}
	return tuples
}

// Snapshot is the full state a newly attached popup receives.
func (s *TabSession) Snapshot() types.Message {
	return types.Message{
		Cmd:        types.CmdPushAll,
		Tuples:     s.Tuples(),
		Pattern:    s.lastPattern,
		SpillCount: s.spillCount,
	}
}

func (s *TabSession) publish(msg types.Message) {
	s.env.hub.Publish(s.id, msg)
}

func (s *TabSession) pushAll() {
	if !s.env.hub.Watching(s.id) {
		return
	}
	s.publish(s.Snapshot())
}

func (s *TabSession) pushOne(domain string) {
	if !s.env.hub.Watching(s.id) {
		return
	}
	d := s.domains[domain]
	if d == nil {
		return
	}
	tuple := d.tuple(s.env.nat64)
	s.publish(types.Message{Cmd: types.CmdPushOne, Tuple: &tuple})
}

// Info summarizes the session for the HTTP API.
func (s *TabSession) Info() SessionInfo {
	return SessionInfo{
		TabID:        s.id,
		Born:         time.Unix(0, s.born).UTC(),
		State:        s.state.String(),
		MainDomain:   s.mainDomain,
		Committed:    s.committed,
		AccessDenied: s.accessDenied,
		Incognito:    s.incognito,
		Pattern:      s.lastPattern,
		Tooltip:      s.lastTooltip,
		DomainCount:  len(s.domains),
		SpillCount:   s.spillCount,
	}
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	TabID        string    `json:"tab_id"`
	Born         time.Time `json:"born"`
	State        string    `json:"state"`
	MainDomain   string    `json:"main_domain"`
	Committed    bool      `json:"committed"`
	AccessDenied bool      `json:"access_denied"`
	Incognito    bool      `json:"incognito"`
	Pattern      string    `json:"pattern"`
	Tooltip      string    `json:"tooltip"`
	DomainCount  int       `json:"domain_count"`
	SpillCount   int       `json:"spill_count"`
}

func (s *TabSession) record() storage.TabRecord {
	rows := make(map[string]storage.DomainRow, len(s.domains))
	for domain, d := range s.domains {
		rows[domain] = d.row()
	}
	return storage.TabRecord{
		Version:       storage.SchemaVersion,
		ID:            s.id,
		Born:          s.born,
		MainRequestID: s.mainRequestID,
		MainDomain:    s.mainDomain,
		MainOrigin:    s.mainOrigin,
		Committed:     s.committed,
		AccessDenied:  s.accessDenied,
		Domains:       rows,
		SpillCount:    s.spillCount,
		LastPattern:   s.lastPattern,
		LastTooltip:   s.lastTooltip,
		Incognito:     s.incognito,
	}
}

func (s *TabSession) save() {
	if s.state == StateDead {
		return
	}
	s.env.saver.Save(storage.TabKey(s.id), s.record())
}

// sessionFromRecord rebuilds a BIRTH session from storage. Counts start at
// zero; the caller replays pending requests to rebuild them. The badge is
// drawn again once the session goes live.
func sessionFromRecord(rec storage.TabRecord, e *env) *TabSession {
	s := newSession(rec.ID, rec.Born, e)
	s.mainRequestID = rec.MainRequestID
	s.mainDomain = rec.MainDomain
	s.mainOrigin = rec.MainOrigin
	s.committed = rec.Committed
	s.accessDenied = rec.AccessDenied
	s.incognito = rec.Incognito
	s.spillCount = rec.SpillCount
	// The badge renderer starts empty after a restart, so the persisted
	// pattern and tooltip are not taken as already drawn.
	for domain, row := range rec.Domains {
		d := newDomainRecord(domain, row.Addr, Flags(row.Flags)&^FlagConnected)
		s.domains[domain] = d
	}
	return s
}
