package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/app"
	"github.com/dkeye/signalrelay/internal/core"
)

type Config struct {
	ReadLimit  int64
	WriteWait  time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Gate *app.Gate
	cfg  Config
}

func NewSignalWSController(gate *app.Gate, cfg Config) *SignalWSController {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 5 * time.Second
	}
	return &SignalWSController{Gate: gate, cfg: cfg}
}

// WsSignalConn queues outbound frames for a single writer goroutine.
type WsSignalConn struct {
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu        sync.RWMutex
	closed    bool
	closeCode int
	closeText string
}

func newWsSignalConn(ws *websocket.Conn, cfg Config) *WsSignalConn {
	return &WsSignalConn{
		conn:      ws,
		send:      make(chan core.Frame, cfg.SendBuffer),
		writeWait: cfg.WriteWait,
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Ping writes a control ping; gorilla allows it alongside the writer.
func (c *WsSignalConn) Ping() error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return core.ErrClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close stops accepting frames. The writer flushes what is queued, then
// sends the close frame with code and hangs up.
func (c *WsSignalConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = reason
	close(c.send)
}

func (c *WsSignalConn) closeFrame() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeText)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and hands the socket to the gate. ctx
// outlives the request and bounds auth verification calls.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sc := newWsSignalConn(ws, ctl.cfg)
	conn := ctl.Gate.Accept(sc)
	log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Str("remote", c.ClientIP()).Msg("new WS connection")

	go ctl.writePump(conn, sc)
	go ctl.readPump(ctx, conn, sc)
}
