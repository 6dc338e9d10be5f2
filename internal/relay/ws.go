package relay

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/dgnsrekt/ipvwatch/internal/types"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goccy/go-json"
)

// lockedConn serialises writes: the reader answers control frames while the
// writer loop pushes messages.
type lockedConn struct {
	net.Conn
	mu *sync.Mutex
}

func (c lockedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.Write(p)
}

// WSHandler serves a bidirectional popup port over WebSocket. The client
// receives push messages as JSON text frames and may send {"cmd":"resync"}.
func WSHandler(port Port, tabOf TabFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab := tabOf(r)
		raw, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("websocket upgrade failed", "tab_id", tab, "error", err)
			return
		}
		defer raw.Close()
		conn := lockedConn{Conn: raw, mu: &sync.Mutex{}}

		sub, err := port.Attach(tab)
		if err != nil {
			closeWith(conn, ws.StatusPolicyViolation, err.Error())
			return
		}
		defer port.Detach(sub)

		done := make(chan struct{})
		go func() {
			defer close(done)
			readCommands(conn, port, sub)
		}()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					closeWith(conn, ws.StatusNormalClosure, "")
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					slog.Error("websocket marshal failed", "tab_id", tab, "error", err)
					continue
				}
				if err := wsutil.WriteServerText(conn, data); err != nil {
					slog.Debug("websocket write failed", "tab_id", tab, "error", err)
					return
				}
			}
		}
	}
}

func readCommands(conn io.ReadWriter, port Port, sub *Subscription) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var cmd types.ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Debug("websocket command ignored", "tab_id", sub.Tab, "error", err)
			continue
		}
		switch cmd.Cmd {
		case types.ClientResync:
			if err := port.Resync(sub); err != nil {
				slog.Debug("resync failed", "tab_id", sub.Tab, "error", err)
			}
		default:
			slog.Debug("unknown websocket command", "tab_id", sub.Tab, "cmd", cmd.Cmd)
		}
	}
}

func closeWith(conn io.Writer, code ws.StatusCode, reason string) {
	body := ws.NewCloseFrameBody(code, reason)
	_ = ws.WriteFrame(conn, ws.NewCloseFrame(body))
}
