package tracker

import "context"

// TabLister enumerates the tabs the browser currently has open.
type TabLister interface {
	ListTabs(ctx context.Context) ([]string, error)
}

// Liveness is the set of tabs the browser has reported as existing.
type Liveness struct {
	tabs map[string]struct{}
}

func NewLiveness() *Liveness {
	return &Liveness{tabs: make(map[string]struct{})}
}

func (l *Liveness) Exists(tab string) bool {
	_, ok := l.tabs[tab]
	return ok
}

func (l *Liveness) add(tab string) { l.tabs[tab] = struct{}{} }
func (l *Liveness) remove(tab string) { delete(l.tabs, tab) }

func (l *Liveness) reset(tabs []string) {
	l.tabs = make(map[string]struct{}, len(tabs))
	for _, tab := range tabs {
		l.tabs[tab] = struct{}{}
	}
}

func (l *Liveness) Len() int { return len(l.tabs) }
