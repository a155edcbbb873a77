package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hayahq/haya/internal/auth"
	"github.com/hayahq/haya/internal/errdefs"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 45 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxFrameSize = 1 << 20
	wsSendBuffer   = 64
)

// wsError is the error half of a response frame.
type wsError struct {
	Code    errdefs.Code `json:"code"`
	Message string       `json:"message"`
}

// wsFrame is the single wire shape: requests carry id+method+params,
// responses id+result or id+error, server pushes event+data.
type wsFrame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *wsError        `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   any             `json:"data,omitempty"`
}

// wsSession is one authenticated RPC connection.
type wsSession struct {
	server   *Server
	conn     *websocket.Conn
	logger   *slog.Logger
	clientIP string

	send chan []byte
	done chan struct{}

	mu   sync.Mutex
	seen map[string]struct{} // request ids used on this connection
	wg   sync.WaitGroup
}

// handleWS authenticates and upgrades. Rate-limited clients are refused
// before the upgrade; bad credentials upgrade and then close with 1008 so
// browser clients get a deterministic close frame.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := auth.ClientIP(r, s.trust)
	if !auth.IsLoopback(ip) {
		if d := s.limiter.Check(ip); !d.Allowed {
			writeError(w, errdefs.CodeRateLimited, "too many attempts")
			return
		}
	}
	authErr := s.verifier.Verify(s.credential(r, ip))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "ip", ip)
		return
	}

	if authErr != nil {
		s.limiter.RecordFailure(ip)
		deadline := time.Now().Add(wsWriteWait)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
		return
	}
	s.limiter.RecordSuccess(ip)

	sess := &wsSession{
		server:   s,
		conn:     conn,
		logger:   s.logger.With("ip", ip),
		clientIP: ip,
		send:     make(chan []byte, wsSendBuffer),
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}),
	}
	s.addSession(sess)
	sess.run(r.Context())
	s.removeSession(sess)
}

func (c *wsSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop()
	c.readLoop(ctx)

	close(c.done)
	c.wg.Wait()
	_ = c.conn.Close()
}

func (c *wsSession) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(wsMaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reply("", nil, &wsError{errdefs.CodeInvalidRequest, "malformed frame"})
			continue
		}
		if frame.ID == "" || frame.Method == "" {
			c.reply(frame.ID, nil, &wsError{errdefs.CodeInvalidRequest, "id and method are required"})
			continue
		}
		if !c.claimID(frame.ID) {
			c.reply(frame.ID, nil, &wsError{errdefs.CodeInvalidRequest, "duplicate request id"})
			continue
		}

		// Dispatch off the read loop so a long chat turn does not stall
		// pings or other requests.
		c.wg.Add(1)
		go func(f wsFrame) {
			defer c.wg.Done()
			c.dispatch(ctx, f)
		}(frame)
	}
}

func (c *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// claimID records a request id, refusing reuse for the connection's life.
func (c *wsSession) claimID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[id]; dup {
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

func (c *wsSession) dispatch(ctx context.Context, frame wsFrame) {
	result, err := c.server.invoke(ctx, c, frame)
	if err != nil {
		c.reply(frame.ID, nil, &wsError{errdefs.CodeFor(err), err.Error()})
		return
	}
	c.reply(frame.ID, result, nil)
}

func (c *wsSession) reply(id string, result any, werr *wsError) {
	c.push(wsFrame{ID: id, Result: result, Error: werr})
}

func (c *wsSession) event(name string, data any) {
	c.push(wsFrame{Event: name, Data: data})
}

func (c *wsSession) push(frame wsFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("frame marshal failed", "error", err)
		return
	}
	select {
	case c.send <- raw:
	case <-c.done:
	}
}
