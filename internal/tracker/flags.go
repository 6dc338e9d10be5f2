package tracker

import "strings"

// Flags describe how a domain was reached. The values are part of the
// persisted format and the push protocol.
type Flags uint8

const (
	FlagSecure      Flags = 0x01
	FlagInsecure    Flags = 0x02
	FlagUncached    Flags = 0x04
	FlagConnected   Flags = 0x08
	FlagWebSocket   Flags = 0x10
	FlagPageRequest Flags = 0x20
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagSecure, "secure"},
	{FlagInsecure, "insecure"},
	{FlagUncached, "uncached"},
	{FlagConnected, "connected"},
	{FlagWebSocket, "websocket"},
	{FlagPageRequest, "page"},
}

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
