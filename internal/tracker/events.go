package tracker

// ResourceType classifies a request by what it loads.
type ResourceType string

const (
	ResourceMainFrame      ResourceType = "main_frame"
	ResourceOutermostFrame ResourceType = "outermost_frame"
	ResourceSubFrame       ResourceType = "sub_frame"
	ResourceWebSocket      ResourceType = "websocket"
	ResourceOther          ResourceType = "other"
)

// TopLevel reports whether the request loads a tab's main document.
func (t ResourceType) TopLevel() bool {
	return t == ResourceMainFrame || t == ResourceOutermostFrame
}

// RequestStarted is sent before a request goes out. An empty TabID marks a
// request made by a worker on behalf of Initiator.
type RequestStarted struct {
	RequestID string       `json:"request_id"`
	TabID     string       `json:"tab_id,omitempty"`
	URL       string       `json:"url"`
	Type      ResourceType `json:"type"`
	Initiator string       `json:"initiator,omitempty"`
}

// RequestRedirected is sent when a request is redirected to RedirectURL.
type RequestRedirected struct {
	RequestID   string       `json:"request_id"`
	Type        ResourceType `json:"type"`
	RedirectURL string       `json:"redirect_url"`
}

// ResponseStarted is sent when the first response bytes arrive.
type ResponseStarted struct {
	RequestID  string `json:"request_id"`
	TabID      string `json:"tab_id,omitempty"`
	URL        string `json:"url"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	FromCache  bool   `json:"from_cache"`
}

// RequestFinished is sent when a request completes or fails.
type RequestFinished struct {
	RequestID string `json:"request_id"`
	Err       string `json:"err,omitempty"`
}

// Navigation is a before-navigate or commit notification. FrameID 0 is the
// top frame.
type Navigation struct {
	TabID   string `json:"tab_id"`
	FrameID int    `json:"frame_id"`
	URL     string `json:"url"`
}

// TabUpdated reports a tab property change.
type TabUpdated struct {
	TabID     string `json:"tab_id"`
	Incognito bool   `json:"incognito"`
}
