package cdp

import (
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/ipvwatch/internal/netutil"
	"github.com/dgnsrekt/ipvwatch/internal/tracker"
)

// Target types the source attaches to.
const (
	TypePage          = "page"
	TypeServiceWorker = "service_worker"
)

// origin describes where events of one attached target come from. Page
// targets are tabs; worker targets have no tab and act for their origin.
type origin struct {
	targetID  target.ID
	tabID     string
	initiator string
}

func pageOrigin(id target.ID) origin {
	return origin{targetID: id, tabID: string(id)}
}

func workerOrigin(id target.ID, scriptURL string) origin {
	o := origin{targetID: id}
	if info, err := netutil.ParseURL(scriptURL); err == nil {
		o.initiator = info.Origin
	}
	return o
}

// requestID scopes a CDP request id to its target; ids are only unique
// within one renderer.
func (o origin) requestID(id network.RequestID) string {
	return string(o.targetID) + ":" + string(id)
}

func (o origin) isMainFrame(frame cdp.FrameID) bool {
	return frame != "" && string(frame) == string(o.targetID)
}

func (o origin) resourceType(t network.ResourceType, frame cdp.FrameID) tracker.ResourceType {
	switch t {
	case network.ResourceTypeDocument:
		if o.tabID != "" && o.isMainFrame(frame) {
			return tracker.ResourceMainFrame
		}
		return tracker.ResourceSubFrame
	case network.ResourceTypeWebSocket:
		return tracker.ResourceWebSocket
	default:
		return tracker.ResourceOther
	}
}

// requestEvent translates requestWillBeSent. A redirect hop arrives as a
// second requestWillBeSent for the same id carrying the redirect response.
func (o origin) requestEvent(e *network.EventRequestWillBeSent) (start *tracker.RequestStarted, redirect *tracker.RequestRedirected) {
	if e.Request == nil {
		return nil, nil
	}
	typ := o.resourceType(e.Type, e.FrameID)
	id := o.requestID(e.RequestID)
	if e.RedirectResponse != nil {
		return nil, &tracker.RequestRedirected{RequestID: id, Type: typ, RedirectURL: e.Request.URL}
	}
	return &tracker.RequestStarted{
		RequestID: id,
		TabID:     o.tabID,
		URL:       e.Request.URL,
		Type:      typ,
		Initiator: o.initiator,
	}, nil
}

func (o origin) responseEvent(e *network.EventResponseReceived) *tracker.ResponseStarted {
	if e.Response == nil {
		return nil
	}
	r := e.Response
	return &tracker.ResponseStarted{
		RequestID:  o.requestID(e.RequestID),
		TabID:      o.tabID,
		URL:        r.URL,
		RemoteAddr: r.RemoteIPAddress,
		FromCache:  r.FromDiskCache || r.FromPrefetchCache,
	}
}

func (o origin) finishedEvent(id network.RequestID, errText string) tracker.RequestFinished {
	return tracker.RequestFinished{RequestID: o.requestID(id), Err: errText}
}

func (o origin) socketStarted(e *network.EventWebSocketCreated) tracker.RequestStarted {
	return tracker.RequestStarted{
		RequestID: o.requestID(e.RequestID),
		TabID:     o.tabID,
		URL:       e.URL,
		Type:      tracker.ResourceWebSocket,
		Initiator: o.initiator,
	}
}

// socketResponse builds the response for a completed WebSocket handshake.
// The handshake event carries no address, so the cache fills it in.
func (o origin) socketResponse(id network.RequestID, url string) tracker.ResponseStarted {
	return tracker.ResponseStarted{
		RequestID: o.requestID(id),
		TabID:     o.tabID,
		URL:       url,
	}
}

func frameID(f *cdp.Frame) int {
	if f.ParentID == "" {
		return 0
	}
	return 1
}

func (o origin) commitEvent(e *page.EventFrameNavigated) *tracker.Navigation {
	if o.tabID == "" || e.Frame == nil {
		return nil
	}
	return &tracker.Navigation{TabID: o.tabID, FrameID: frameID(e.Frame), URL: e.Frame.URL}
}

func (o origin) navigateEvent(e *page.EventFrameRequestedNavigation) *tracker.Navigation {
	if o.tabID == "" {
		return nil
	}
	fid := 1
	if o.isMainFrame(e.FrameID) {
		fid = 0
	}
	return &tracker.Navigation{TabID: o.tabID, FrameID: fid, URL: e.URL}
}

// Handler receives translated browser events. *tracker.Tracker implements it.
type Handler interface {
	OnRequestStarted(tracker.RequestStarted)
	OnRequestRedirected(tracker.RequestRedirected)
	OnResponseStarted(tracker.ResponseStarted)
	OnRequestFinished(tracker.RequestFinished)
	OnBeforeNavigate(tracker.Navigation)
	OnCommitted(tracker.Navigation)
	OnTabUpdated(tracker.TabUpdated)
	OnTabCreated(tab string)
	OnTabRemoved(tab string)
}

// attachment is the per-target listener state. Listener callbacks for one
// target run sequentially, so it needs no lock.
type attachment struct {
	origin
	sockets map[network.RequestID]string
}

func newAttachment(o origin) *attachment {
	return &attachment{origin: o, sockets: make(map[network.RequestID]string)}
}

func (a *attachment) handle(h Handler, ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		start, redirect := a.requestEvent(e)
		if redirect != nil {
			h.OnRequestRedirected(*redirect)
		}
		if start != nil {
			h.OnRequestStarted(*start)
		}
	case *network.EventResponseReceived:
		if r := a.responseEvent(e); r != nil {
			h.OnResponseStarted(*r)
		}
	case *network.EventLoadingFinished:
		h.OnRequestFinished(a.finishedEvent(e.RequestID, ""))
	case *network.EventLoadingFailed:
		h.OnRequestFinished(a.finishedEvent(e.RequestID, e.ErrorText))
	case *network.EventWebSocketCreated:
		a.sockets[e.RequestID] = e.URL
		h.OnRequestStarted(a.socketStarted(e))
	case *network.EventWebSocketHandshakeResponseReceived:
		if url, ok := a.sockets[e.RequestID]; ok {
			h.OnResponseStarted(a.socketResponse(e.RequestID, url))
		}
	case *network.EventWebSocketClosed:
		if _, ok := a.sockets[e.RequestID]; ok {
			delete(a.sockets, e.RequestID)
			h.OnRequestFinished(a.finishedEvent(e.RequestID, ""))
		}
	case *page.EventFrameRequestedNavigation:
		if nav := a.navigateEvent(e); nav != nil {
			h.OnBeforeNavigate(*nav)
		}
	case *page.EventFrameNavigated:
		if nav := a.commitEvent(e); nav != nil {
			h.OnCommitted(*nav)
		}
	}
}

// tabUpdate reports a page target as incognito when it lives outside the
// browser's regular context.
func tabUpdate(info *target.Info, regular cdp.BrowserContextID) tracker.TabUpdated {
	return tracker.TabUpdated{
		TabID:     string(info.TargetID),
		Incognito: regular != "" && info.BrowserContextID != "" && info.BrowserContextID != regular,
	}
}
