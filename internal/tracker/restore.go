package tracker

import (
	"log/slog"
	"time"

	"github.com/dgnsrekt/ipvwatch/internal/storage"
)

// Restore rebuilds sessions and pending requests from a storage snapshot.
// Sessions come back in BIRTH and only go live once the browser reports
// their tab. Request owners whose session is gone are dropped, requests with
// no owner left are deleted, and every request that had reached a domain
// counts one connection again.
func (t *Tracker) Restore(snap storage.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range snap.Tabs {
		if t.reg.Lookup(rec.ID) != nil {
			slog.Warn("Duplicate persisted tab ignored", "tab_id", rec.ID)
			continue
		}
		s := sessionFromRecord(rec, &t.env)
		t.reg.put(s)
		if t.live.Exists(rec.ID) {
			s.makeAlive()
		}
	}

	dropped := 0
	for _, rec := range snap.Requests {
		p := &PendingRequest{
			ID:      rec.ID,
			Owners:  make(map[string]int64, len(rec.Owners)),
			Domain:  rec.Domain,
			Started: time.Unix(0, rec.Started),
		}
		for tab, born := range rec.Owners {
			if t.reg.Current(Owner{Tab: tab, Born: born}) != nil {
				p.Owners[tab] = born
			}
		}
		if len(p.Owners) == 0 {
			t.env.saver.Remove(storage.RequestKey(rec.ID))
			dropped++
			continue
		}
		t.corr.put(p)
		if len(p.Owners) != len(rec.Owners) {
			t.saveRequest(p)
		}
		if p.Domain == "" {
			continue
		}
		for _, s := range t.corr.live(p) {
			if err := s.addDomain(p.Domain, "", 0); err != nil {
				slog.Error("Failed to restore connection", "tab_id", s.id, "domain", p.Domain, "error", err)
			}
		}
	}

	slog.Info("Restored tracker state",
		"sessions", t.reg.Len(),
		"pending_requests", t.corr.Len(),
		"dropped_requests", dropped)
}
