package tracker

import "fmt"

// AddressPolicy decides whether a newly observed address replaces the one
// already stored for a domain. existing is the accumulated flag set of the
// record, incoming the flags of the new observation.
type AddressPolicy interface {
	Replace(existing, incoming Flags) bool
}

// AddressPolicyFunc adapts a function to AddressPolicy.
type AddressPolicyFunc func(existing, incoming Flags) bool

func (f AddressPolicyFunc) Replace(existing, incoming Flags) bool { return f(existing, incoming) }

// Policy names accepted by PolicyByName.
const (
	PolicyLiveFirst = "live-first"
	PolicyLastWins  = "last-wins"
	PolicyRanked    = "ranked"
)

// LiveFirst lets a cached observation replace only another cached one.
var LiveFirst AddressPolicy = AddressPolicyFunc(func(existing, incoming Flags) bool {
	return incoming.Has(FlagUncached) || !existing.Has(FlagUncached)
})

// LastWins always takes the newest address.
var LastWins AddressPolicy = AddressPolicyFunc(func(_, incoming Flags) bool {
	return true
})

// Ranked prefers live over cached and page requests over worker requests.
var Ranked AddressPolicy = AddressPolicyFunc(func(existing, incoming Flags) bool {
	return rank(incoming) >= rank(existing)
})

func rank(f Flags) int {
	r := 0
	if f.Has(FlagUncached) {
		r += 2
	}
	if f.Has(FlagPageRequest) {
		r++
	}
	return r
}

// PolicyByName resolves a configured policy name. Empty selects LiveFirst.
func PolicyByName(name string) (AddressPolicy, error) {
	switch name {
	case "", PolicyLiveFirst:
		return LiveFirst, nil
	case PolicyLastWins:
		return LastWins, nil
	case PolicyRanked:
		return Ranked, nil
	default:
		return nil, fmt.Errorf("unknown address policy %q", name)
	}
}
