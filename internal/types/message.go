package types

// Push message commands sent to popup subscribers.
const (
	CmdPushAll        = "pushAll"
	CmdPushOne        = "pushOne"
	CmdPushSpillCount = "pushSpillCount"
	CmdPushPattern    = "pushPattern"
)

// Tuple is one popup row: a domain and what is known about how it was reached.
type Tuple struct {
	Domain  string `json:"domain"`
	Addr    string `json:"addr"`
	Version string `json:"version"`
	Flags   uint8  `json:"flags"`
}

// Message is a push from a tab session to its attached popups.
type Message struct {
	Cmd        string  `json:"cmd"`
	Tuples     []Tuple `json:"tuples,omitempty"`
	Tuple      *Tuple  `json:"tuple,omitempty"`
	Pattern    string  `json:"pattern,omitempty"`
	SpillCount int     `json:"spillCount"`
}

// ClientCommand is what a popup may send back over a bidirectional port.
type ClientCommand struct {
	Cmd string `json:"cmd"`
}

// ClientResync asks for a fresh pushAll.
const ClientResync = "resync"
