package tracker

import (
	"sort"
	"time"

	"github.com/dgnsrekt/ipvwatch/internal/storage"
)

// Owner identifies the session a request was attributed to when it began.
type Owner struct {
	Tab  string
	Born int64
}

// PendingRequest is a request that has started but not yet finished.
type PendingRequest struct {
	ID      string
	Owners  map[string]int64
	Domain  string
	Started time.Time
}

func (p *PendingRequest) owners() []Owner {
	out := make([]Owner, 0, len(p.Owners))
	for tab, born := range p.Owners {
		out = append(out, Owner{Tab: tab, Born: born})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tab < out[j].Tab })
	return out
}

func (p *PendingRequest) record() storage.RequestRecord {
	owners := make(map[string]int64, len(p.Owners))
	for tab, born := range p.Owners {
		owners[tab] = born
	}
	return storage.RequestRecord{
		Version: storage.SchemaVersion,
		ID:      p.ID,
		Owners:  owners,
		Domain:  p.Domain,
		Started: p.Started.UnixNano(),
	}
}

// Correlator tracks in-flight requests and the sessions they were
// attributed to. Owners whose session has since been replaced are skipped.
type Correlator struct {
	pending map[string]*PendingRequest
	reg     *Registry
}

func NewCorrelator(reg *Registry) *Correlator {
	return &Correlator{pending: make(map[string]*PendingRequest), reg: reg}
}

// Begin registers a new request. A request id that is already pending is a
// protocol violation; the old entry is replaced and ErrDuplicateRequest
// returned.
func (c *Correlator) Begin(id string, owners []Owner, now time.Time) (*PendingRequest, error) {
	p := &PendingRequest{ID: id, Owners: make(map[string]int64, len(owners)), Started: now}
	for _, o := range owners {
		p.Owners[o.Tab] = o.Born
	}
	var err error
	if _, dup := c.pending[id]; dup {
		err = newError(CodeProtocol, "request "+id, ErrDuplicateRequest)
	}
	c.pending[id] = p
	return p, err
}

// Get returns the pending request, or nil.
func (c *Correlator) Get(id string) *PendingRequest {
	return c.pending[id]
}

// LiveOwners returns the sessions of id that are still current.
func (c *Correlator) LiveOwners(id string) []*TabSession {
	p := c.pending[id]
	if p == nil {
		return nil
	}
	return c.live(p)
}

func (c *Correlator) live(p *PendingRequest) []*TabSession {
	var out []*TabSession
	for _, o := range p.owners() {
		if s := c.reg.Current(o); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// AttachDomain records the domain a request actually reached. A request may
// only be attached once.
func (c *Correlator) AttachDomain(id, domain string) error {
	p := c.pending[id]
	if p == nil {
		return nil
	}
	if p.Domain != "" {
		return newError(CodeProtocol, "request "+id, ErrDuplicateResponse)
	}
	p.Domain = domain
	return nil
}

// End removes the request. When a domain was attached it returns that domain
// and the still-current owners, each of which owes exactly one count down.
func (c *Correlator) End(id string) (domain string, owners []*TabSession, ok bool) {
	p := c.pending[id]
	if p == nil {
		return "", nil, false
	}
	delete(c.pending, id)
	if p.Domain == "" {
		return "", nil, true
	}
	return p.Domain, c.live(p), true
}

// DetachOwner forgets o on every request that already reached a domain, so
// no count down is issued for connections that were wiped away.
func (c *Correlator) DetachOwner(o Owner) []*PendingRequest {
	var changed []*PendingRequest
	for _, p := range c.pending {
		if p.Domain == "" {
			continue
		}
		if born, ok := p.Owners[o.Tab]; ok && born == o.Born {
			delete(p.Owners, o.Tab)
			changed = append(changed, p)
		}
	}
	return changed
}

// Prune drops requests none of whose owners are current and returns their
// ids, sorted.
func (c *Correlator) Prune() []string {
	var dropped []string
	for id, p := range c.pending {
		if len(c.live(p)) == 0 {
			delete(c.pending, id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return dropped
}

func (c *Correlator) put(p *PendingRequest) { c.pending[p.ID] = p }

func (c *Correlator) Len() int { return len(c.pending) }
