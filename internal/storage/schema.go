package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// SchemaVersion is written into every record. Records without a version are
// the legacy shape and go through migrate*.
const SchemaVersion = 1

// Key prefixes of the flat key space.
const (
	PrefixTab     = "tab/"
	PrefixRequest = "req/"
	PrefixAddr    = "ip/"
)

func TabKey(id string) string { return PrefixTab + id }
func RequestKey(id string) string { return PrefixRequest + id }
func AddrKey(domain string) string { return PrefixAddr + domain }

// DomainRow is the persisted form of one domain record. The connected bit
// is never stored; counts are rebuilt from pending requests on restore.
type DomainRow struct {
	Addr  string `json:"addr"`
	Flags uint8  `json:"flags"`
}

// TabRecord is a persisted tab session.
type TabRecord struct {
	Version       int                  `json:"v"`
	ID            string               `json:"id"`
	Born          int64                `json:"born"`
	MainRequestID string               `json:"main_request_id,omitempty"`
	MainDomain    string               `json:"main_domain,omitempty"`
	MainOrigin    string               `json:"main_origin,omitempty"`
	Committed     bool                 `json:"committed,omitempty"`
	AccessDenied  bool                 `json:"access_denied,omitempty"`
	Domains       map[string]DomainRow `json:"domains"`
	SpillCount    int                  `json:"spill_count,omitempty"`
	LastPattern   string               `json:"last_pattern,omitempty"`
	LastTooltip   string               `json:"last_tooltip,omitempty"`
	Incognito     bool                 `json:"incognito,omitempty"`
}

// RequestRecord is a persisted pending request. Owners maps tab id to the
// born stamp of the session that owned the request when it started.
type RequestRecord struct {
	Version int              `json:"v"`
	ID      string           `json:"id"`
	Owners  map[string]int64 `json:"owners"`
	Domain  string           `json:"domain,omitempty"`
	Started int64            `json:"started"`
}

// AddrRecord is a persisted address cache entry.
type AddrRecord struct {
	Version int    `json:"v"`
	Domain  string `json:"domain"`
	Addr    string `json:"addr"`
	Time    int64  `json:"time"`
}

// legacyTab is the unversioned shape: born in milliseconds, domains as
// [addr, flags] pairs and the color scheme stored by option name.
type legacyTab struct {
	Born          int64                      `json:"born"`
	MainRequestID json.RawMessage            `json:"mainRequestId"`
	MainDomain    string                     `json:"mainDomain"`
	MainOrigin    string                     `json:"mainOrigin"`
	Committed     bool                       `json:"committed"`
	Domains       map[string]json.RawMessage `json:"domains"`
	SpillCount    int                        `json:"spillCount"`
	LastPattern   string                     `json:"lastPattern"`
	LastTooltip   string                     `json:"lastTooltip"`
	Color         string                     `json:"color"`
}

type legacyRequest struct {
	TabIDToBorn map[string]int64 `json:"tabIdToBorn"`
	Domain      *string          `json:"domain"`
}

type legacyAddr struct {
	Time int64  `json:"time"`
	Addr string `json:"addr"`
}

type versionProbe struct {
	Version *int `json:"v"`
}

func probeVersion(data []byte) (int, error) {
	var p versionProbe
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, err
	}
	if p.Version == nil {
		return 0, nil
	}
	return *p.Version, nil
}

func msToNanos(ms int64) int64 {
	return time.UnixMilli(ms).UnixNano()
}

// DecodeTab decodes a tab record of any known version.
func DecodeTab(id string, data []byte) (TabRecord, error) {
	v, err := probeVersion(data)
	if err != nil {
		return TabRecord{}, fmt.Errorf("decode tab %s: %w", id, err)
	}
	switch v {
	case SchemaVersion:
		var rec TabRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return TabRecord{}, fmt.Errorf("decode tab %s: %w", id, err)
		}
		rec.ID = id
		if rec.Domains == nil {
			rec.Domains = map[string]DomainRow{}
		}
		return rec, nil
	case 0:
		return migrateTab(id, data)
	default:
		return TabRecord{}, fmt.Errorf("decode tab %s: unsupported version %d", id, v)
	}
}

func migrateTab(id string, data []byte) (TabRecord, error) {
	var old legacyTab
	if err := json.Unmarshal(data, &old); err != nil {
		return TabRecord{}, fmt.Errorf("migrate tab %s: %w", id, err)
	}
	rec := TabRecord{
		Version:       SchemaVersion,
		ID:            id,
		Born:          msToNanos(old.Born),
		MainRequestID: legacyID(old.MainRequestID),
		MainDomain:    old.MainDomain,
		MainOrigin:    old.MainOrigin,
		Committed:     old.Committed,
		Domains:       make(map[string]DomainRow, len(old.Domains)),
		SpillCount:    old.SpillCount,
		LastPattern:   old.LastPattern,
		LastTooltip:   old.LastTooltip,
		Incognito:     old.Color == "incognitoColorScheme",
	}
	for domain, raw := range old.Domains {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return TabRecord{}, fmt.Errorf("migrate tab %s: bad domain row %q", id, domain)
		}
		var row DomainRow
		if err := json.Unmarshal(pair[0], &row.Addr); err != nil {
			return TabRecord{}, fmt.Errorf("migrate tab %s: domain %q addr: %w", id, domain, err)
		}
		if err := json.Unmarshal(pair[1], &row.Flags); err != nil {
			return TabRecord{}, fmt.Errorf("migrate tab %s: domain %q flags: %w", id, domain, err)
		}
		rec.Domains[domain] = row
	}
	return rec, nil
}

// legacyID accepts request ids stored either as strings or numbers.
func legacyID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

// DecodeRequest decodes a pending request record of any known version.
func DecodeRequest(id string, data []byte) (RequestRecord, error) {
	v, err := probeVersion(data)
	if err != nil {
		return RequestRecord{}, fmt.Errorf("decode request %s: %w", id, err)
	}
	switch v {
	case SchemaVersion:
		var rec RequestRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return RequestRecord{}, fmt.Errorf("decode request %s: %w", id, err)
		}
		rec.ID = id
		return rec, nil
	case 0:
		var old legacyRequest
		if err := json.Unmarshal(data, &old); err != nil {
			return RequestRecord{}, fmt.Errorf("migrate request %s: %w", id, err)
		}
		rec := RequestRecord{
			Version: SchemaVersion,
			ID:      id,
			Owners:  make(map[string]int64, len(old.TabIDToBorn)),
		}
		for tab, born := range old.TabIDToBorn {
			rec.Owners[tab] = msToNanos(born)
		}
		if old.Domain != nil {
			rec.Domain = *old.Domain
		}
		return rec, nil
	default:
		return RequestRecord{}, fmt.Errorf("decode request %s: unsupported version %d", id, v)
	}
}

// DecodeAddr decodes an address cache record of any known version.
func DecodeAddr(domain string, data []byte) (AddrRecord, error) {
	v, err := probeVersion(data)
	if err != nil {
		return AddrRecord{}, fmt.Errorf("decode addr %s: %w", domain, err)
	}
	switch v {
	case SchemaVersion:
		var rec AddrRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return AddrRecord{}, fmt.Errorf("decode addr %s: %w", domain, err)
		}
		rec.Domain = domain
		return rec, nil
	case 0:
		var old legacyAddr
		if err := json.Unmarshal(data, &old); err != nil {
			return AddrRecord{}, fmt.Errorf("migrate addr %s: %w", domain, err)
		}
		return AddrRecord{Version: SchemaVersion, Domain: domain, Addr: old.Addr, Time: msToNanos(old.Time)}, nil
	default:
		return AddrRecord{}, fmt.Errorf("decode addr %s: unsupported version %d", domain, v)
	}
}
