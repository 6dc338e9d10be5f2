package tracker

import (
	"net/netip"

	"github.com/dgnsrekt/ipvwatch/internal/netutil"
	"github.com/dgnsrekt/ipvwatch/internal/storage"
	"github.com/dgnsrekt/ipvwatch/internal/types"
)

// Address placeholders shown in place of a real address.
const (
	AddrLost         = "(lost)"
	AddrNone         = "(no address)"
	AddrAccessDenied = "(access denied)"
	DomainNone       = "(no domain)"
)

// DomainRecord is what a session knows about one domain.
type DomainRecord struct {
	Domain string
	Addr   string
	Flags  Flags

	counter Counter
}

func newDomainRecord(domain, addr string, flags Flags) *DomainRecord {
	if addr == "" {
		addr = AddrLost
	}
	return &DomainRecord{Domain: domain, Addr: addr, Flags: flags}
}

// ActiveCount is the number of open connections to the domain.
func (d *DomainRecord) ActiveCount() int { return d.counter.Count() }

func (d *DomainRecord) tuple(nat64 netip.Prefix) types.Tuple {
	return types.Tuple{
		Domain:  d.Domain,
		Addr:    d.Addr,
		Version: netutil.AddrVersion(d.Addr, nat64),
		Flags:   uint8(d.Flags),
	}
}

func (d *DomainRecord) row() storage.DomainRow {
	return storage.DomainRow{Addr: d.Addr, Flags: uint8(d.Flags &^ FlagConnected)}
}
