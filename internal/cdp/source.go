// Package cdp feeds browser network and navigation events from a Chromium
// DevTools endpoint into a Handler.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Source attaches to every page and service worker of a remote browser and
// forwards their events to a Handler.
type Source struct {
	cdpURL  string
	handler Handler

	browserCtx context.Context
	helper     target.ID
	regular    cdp.BrowserContextID

	mu       sync.Mutex
	attached map[target.ID]*attachedTarget
	ready    chan struct{}
}

type attachedTarget struct {
	kind   string
	cancel context.CancelFunc
}

func NewSource(cdpURL string, handler Handler) *Source {
	return &Source{
		cdpURL:   cdpURL,
		handler:  handler,
		attached: make(map[target.ID]*attachedTarget),
		ready:    make(chan struct{}),
	}
}

// Run connects to the browser, attaches to existing targets and follows
// target creation until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	slog.Info("Connecting to Chromium", "url", s.cdpURL)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, s.cdpURL)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	c := chromedp.FromContext(browserCtx)

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}
	s.mu.Lock()
	s.browserCtx = browserCtx
	s.helper = c.Target.TargetID
	for _, info := range targets {
		if info.TargetID == s.helper {
			s.regular = info.BrowserContextID
		}
	}
	s.mu.Unlock()
	slog.Info("Found browser targets", "count", len(targets))

	// helper and regular are fixed from here on; listeners read them
	// without the lock.
	chromedp.ListenBrowser(browserCtx, s.onBrowserEvent)
	err = chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, c.Browser))
	}))
	if err != nil {
		return fmt.Errorf("failed to enable target discovery: %w", err)
	}
	for _, info := range targets {
		s.announce(info)
	}
	close(s.ready)

	defer s.detachAll()
	select {
	case <-ctx.Done():
		slog.Info("CDP source closed")
		return nil
	case <-browserCtx.Done():
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("lost connection to browser at %s", s.cdpURL)
	}
}

// Ready is closed once the targets open at connect time are attached.
func (s *Source) Ready() <-chan struct{} { return s.ready }

// ListTabs reports the page targets the browser has open.
func (s *Source) ListTabs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	browserCtx, helper := s.browserCtx, s.helper
	s.mu.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("not connected to browser")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	var tabs []string
	for _, info := range targets {
		if info.Type == TypePage && info.TargetID != helper {
			tabs = append(tabs, string(info.TargetID))
		}
	}
	return tabs, nil
}

func (s *Source) onBrowserEvent(ev any) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		// Attaching runs CDP commands, which cannot happen on the
		// listener goroutine.
		go s.announce(e.TargetInfo)
	case *target.EventTargetInfoChanged:
		if e.TargetInfo.Type == TypePage && e.TargetInfo.TargetID != s.helper {
			s.handler.OnTabUpdated(tabUpdate(e.TargetInfo, s.regular))
		}
	case *target.EventTargetDestroyed:
		s.detach(e.TargetID)
	}
}

func (s *Source) announce(info *target.Info) {
	if info == nil || info.TargetID == s.helper {
		return
	}
	var o origin
	switch info.Type {
	case TypePage:
		o = pageOrigin(info.TargetID)
	case TypeServiceWorker:
		o = workerOrigin(info.TargetID, info.URL)
	default:
		return
	}

	s.mu.Lock()
	if _, ok := s.attached[info.TargetID]; ok {
		s.mu.Unlock()
		return
	}
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(info.TargetID))
	s.attached[info.TargetID] = &attachedTarget{kind: info.Type, cancel: tabCancel}
	s.mu.Unlock()

	if info.Type == TypePage {
		s.handler.OnTabCreated(string(info.TargetID))
		s.handler.OnTabUpdated(tabUpdate(info, s.regular))
	}

	a := newAttachment(o)
	chromedp.ListenTarget(tabCtx, func(ev any) { a.handle(s.handler, ev) })

	actions := []chromedp.Action{network.Enable()}
	if info.Type == TypePage {
		actions = append(actions, page.Enable())
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		slog.Error("Failed to attach to target", "target_id", info.TargetID, "type", info.Type, "error", err)
		s.mu.Lock()
		delete(s.attached, info.TargetID)
		s.mu.Unlock()
		tabCancel()
		return
	}
	slog.Info("Attached to target", "target_id", info.TargetID, "type", info.Type, "url", truncateURL(info.URL))
}

func (s *Source) detach(id target.ID) {
	s.mu.Lock()
	t, ok := s.attached[id]
	delete(s.attached, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	if t.kind == TypePage {
		s.handler.OnTabRemoved(string(id))
	}
	slog.Debug("Detached from target", "target_id", id, "type", t.kind)
}

func (s *Source) detachAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.attached {
		t.cancel()
		delete(s.attached, id)
	}
}

// Count returns the number of attached targets.
func (s *Source) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
