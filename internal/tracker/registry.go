package tracker

import (
	"sort"
	"time"
)

// Registry maps each tab to its current session and each page origin to the
// tabs showing it. A session is addressed by (tab, born); a stale born means
// the session was replaced.
type Registry struct {
	sessions map[string]*TabSession
	origins  map[string]map[string]struct{}
	lastBorn int64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*TabSession),
		origins:  make(map[string]map[string]struct{}),
	}
}

// nextBorn returns a birth stamp strictly greater than any handed out before.
func (r *Registry) nextBorn(now time.Time) int64 {
	born := now.UnixNano()
	if born <= r.lastBorn {
		born = r.lastBorn + 1
	}
	r.lastBorn = born
	return born
}

// Lookup returns the current session of tab, or nil.
func (r *Registry) Lookup(tab string) *TabSession {
	return r.sessions[tab]
}

// Current returns the session for (tab, born) if it is still the registered
// one.
func (r *Registry) Current(o Owner) *TabSession {
	s := r.sessions[o.Tab]
	if s == nil || s.born != o.Born {
		return nil
	}
	return s
}

func (r *Registry) put(s *TabSession) {
	r.sessions[s.id] = s
	if s.born > r.lastBorn {
		r.lastBorn = s.born
	}
	r.indexOrigin(s.id, "", s.mainOrigin)
}

func (r *Registry) remove(s *TabSession) {
	if cur := r.sessions[s.id]; cur == s {
		delete(r.sessions, s.id)
	}
	r.indexOrigin(s.id, s.mainOrigin, "")
}

func (r *Registry) indexOrigin(tab, oldOrigin, newOrigin string) {
	if oldOrigin == newOrigin {
		return
	}
	if oldOrigin != "" {
		if tabs := r.origins[oldOrigin]; tabs != nil {
			delete(tabs, tab)
			if len(tabs) == 0 {
				delete(r.origins, oldOrigin)
			}
		}
	}
	if newOrigin != "" {
		tabs := r.origins[newOrigin]
		if tabs == nil {
			tabs = make(map[string]struct{})
			r.origins[newOrigin] = tabs
		}
		tabs[tab] = struct{}{}
	}
}

// TabsForOrigin returns the tabs whose main page has origin, sorted.
func (r *Registry) TabsForOrigin(origin string) []string {
	tabs := make([]string, 0, len(r.origins[origin]))
	for tab := range r.origins[origin] {
		tabs = append(tabs, tab)
	}
	sort.Strings(tabs)
	return tabs
}

// Tabs returns every registered tab, sorted.
func (r *Registry) Tabs() []string {
	tabs := make([]string, 0, len(r.sessions))
	for tab := range r.sessions {
		tabs = append(tabs, tab)
	}
	sort.Strings(tabs)
	return tabs
}

func (r *Registry) Len() int { return len(r.sessions) }
