package relay

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgnsrekt/ipvwatch/internal/types"
	"github.com/goccy/go-json"
)

// Port is the popup-facing side of the tracker: attaching delivers a full
// snapshot first, then incremental pushes.
type Port interface {
	Attach(tab string) (*Subscription, error)
	Resync(sub *Subscription) error
	Detach(sub *Subscription)
}

// TabFunc extracts the tab id from a request (usually a router URL param).
type TabFunc func(r *http.Request) string

// SSEHandler streams a tab's push messages as server-sent events, one event
// per message named after its command.
func SSEHandler(port Port, tabOf TabFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		sub, err := port.Attach(tabOf(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer port.Detach(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeEvent(w, msg); err != nil {
					slog.Debug("sse write failed", "tab_id", sub.Tab, "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Cmd, data)
	return err
}
